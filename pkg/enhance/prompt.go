package enhance

import "strings"

// DefaultPrompt asks the model for a frontal studio portrait in business attire
const DefaultPrompt = "Convert the input into a professional, frontal, head-and-shoulders portrait. " +
	"Preserve the subject's identity and facial features while rotating and frontalizing the head so the subject " +
	"faces the camera with neutral expression. Replace clothing with professional attire (a dark blazer and " +
	"collared shirt), ensure visible shoulders, remove distracting accessories, and render a clean white studio " +
	"background. Photorealistic, high detail, natural skin tones, realistic shadows and studio lighting."

const (
	portraitLead  = "Convert the input into a professional head-and-shoulders portrait. Preserve the subject identity and facial features."
	portraitStyle = "Use neutral studio lighting, clean neutral background, photorealistic, high detail."
)

var attirePrompts = map[string]string{
	"tux":      "Replace clothing with a classic black tuxedo, crisp white shirt and black bow tie.",
	"female":   "Dress the subject in a formal blazer and blouse appropriate for passport photos.",
	"business": "Dress the subject in business attire (blazer and shirt).",
}

var attireAliases = map[string]string{
	"tuxedo":              "tux",
	"male":                "tux",
	"woman":               "female",
	"female-professional": "female",
}

// Attires returns the attire presets understood by PromptFor
func Attires() []string {
	return []string{"business", "female", "tux"}
}

// PromptFor builds a portrait prompt for an attire preset. Unknown or empty
// presets keep the subject's clothing.
func PromptFor(attire string) string {
	key := strings.ToLower(strings.TrimSpace(attire))
	if alias, ok := attireAliases[key]; ok {
		key = alias
	}
	if clothing, ok := attirePrompts[key]; ok {
		return portraitLead + " " + clothing + " " + portraitStyle
	}
	return portraitLead + " " + portraitStyle
}
