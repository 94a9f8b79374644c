// Package detection locates faces by asking a vision-language model
package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/client"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/sirupsen/logrus"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for the face box and eye centers
const DefaultPrompt = `You are a face locator for passport photos.

Return JSON only:
{
  "face": {
    "label": "face",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "left_eye": {"x": 0.0, "y": 0.0},
    "right_eye": {"x": 0.0, "y": 0.0}
  }
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels), origin at the top-left.
- The box spans from the top of the forehead to the chin and from ear to ear.
- left_eye is the eye on the left side of the image.
- If several faces are visible, report the largest one.
- If no face is visible, return {"face":{"label":"none","confidence":0.0}}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ErrUnparseable is returned when the model answer contains no usable JSON
var ErrUnparseable = errors.New("unparseable model response")

// Response is the JSON answer requested by DefaultPrompt
type Response struct {
	Face struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Box        Box     `json:"box"`
		LeftEye    *Point  `json:"left_eye"`
		RightEye   *Point  `json:"right_eye"`
	} `json:"face"`
}

// Box is a normalized rectangle
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a normalized position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Config selects the model and how images are sent
type Config struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt,omitempty"`
	// MaxDimension bounds the image sent to the model
	MaxDimension int `json:"max_dimension"`
}

// FaceLocator finds faces using vision models
type FaceLocator struct {
	client client.VisionClient
	config Config
	log    logrus.FieldLogger
}

// NewFaceLocator creates a new detector with a vision client
func NewFaceLocator(client client.VisionClient, config Config, log logrus.FieldLogger) *FaceLocator {
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = 1024
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &FaceLocator{client: client, config: config, log: log}
}

// Detect implements analyzer.FaceAnalyzer
func (d *FaceLocator) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	imgB64, err := processing.EncodeBase64(img, "jpg", d.config.MaxDimension, 90)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	raw, err := d.client.SimpleQuery(ctx, d.config.Model, d.config.Prompt, imgB64)
	if err != nil {
		return nil, err
	}
	d.log.WithField("model", d.config.Model).Tracef("model answer: %s", raw)

	resp, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return resp.ToDetection(b.Dx(), b.Dy())
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *FaceLocator) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := processing.EncodeBase64(img, "jpg", d.config.MaxDimension, 90)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.config.Model, SimpleTestPrompt, imgB64)
}

// ParseResponse extracts the JSON answer from raw model output
func ParseResponse(raw string) (*Response, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrUnparseable
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	return &resp, nil
}

// ToDetection converts the normalized answer into pixel coordinates of a w x h
// image. A "none" label or an empty box is ErrNoFaceDetected.
func (r *Response) ToDetection(w, h int) (*types.FaceDetection, error) {
	f := r.Face
	if strings.EqualFold(strings.TrimSpace(f.Label), "none") {
		return nil, analyzer.ErrNoFaceDetected
	}

	box := normalizeBox(f.Box)
	if box.W <= 0 || box.H <= 0 {
		return nil, analyzer.ErrNoFaceDetected
	}

	fw, fh := float64(w), float64(h)
	det := &types.FaceDetection{
		Box: types.Rect{
			X: box.X * fw,
			Y: box.Y * fh,
			W: box.W * fw,
			H: box.H * fh,
		},
		Confidence: clamp(f.Confidence, 0, 1),
	}
	if p, ok := eyePoint(f.LeftEye); ok {
		det.Landmarks.LeftEye = []types.Point{{X: p.X * fw, Y: p.Y * fh}}
	}
	if p, ok := eyePoint(f.RightEye); ok {
		det.Landmarks.RightEye = []types.Point{{X: p.X * fw, Y: p.Y * fh}}
	}
	return det, nil
}

func eyePoint(p *Point) (Point, bool) {
	if p == nil || (p.X == 0 && p.Y == 0) {
		return Point{}, false
	}
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 || math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return Point{}, false
	}
	return *p, true
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clips the box to the unit square
func normalizeBox(b Box) Box {
	x0 := clamp(b.X, 0, 1)
	y0 := clamp(b.Y, 0, 1)
	x1 := clamp(b.X+b.W, 0, 1)
	y1 := clamp(b.Y+b.H, 0, 1)
	return Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)\s//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
