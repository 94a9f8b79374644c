package enhance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
)

// imageRef is an extracted image: either raw bytes or a link to fetch
type imageRef struct {
	data []byte
	link string
}

func (r imageRef) url() (string, bool) {
	return r.link, r.link != ""
}

// minBinaryLen is the shortest number array accepted as raw image bytes
const minBinaryLen = 50

// extractImage finds the generated image in a response. Image bodies are used
// as-is. JSON bodies are searched in images[0], outputs[0], data and image
// first, then anywhere for a string or byte array that decodes to an image.
func extractImage(contentType string, body []byte) (imageRef, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if strings.HasPrefix(ct, "image/") {
		if len(body) == 0 {
			return imageRef{}, ErrNoImage
		}
		return imageRef{data: body}, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return imageRef{}, ErrNoImage
	}
	if trimmed[0] != '{' && trimmed[0] != '[' && trimmed[0] != '"' {
		if looksLikeImage(body) {
			return imageRef{data: body}, nil
		}
		if ref, ok := fromString(string(trimmed)); ok {
			return ref, nil
		}
		return imageRef{}, fmt.Errorf("%w: unexpected %q response", ErrNoImage, ct)
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return imageRef{}, fmt.Errorf("%w: invalid JSON: %v", ErrNoImage, err)
	}

	if obj, ok := doc.(map[string]any); ok {
		for _, key := range []string{"images", "outputs", "data", "image", "output"} {
			v, ok := obj[key]
			if !ok {
				continue
			}
			if arr, ok := v.([]any); ok && len(arr) > 0 && !isByteArray(arr) {
				v = arr[0]
			}
			if ref, ok := fromValue(v); ok {
				return ref, nil
			}
		}
	}

	if ref, ok := search(doc); ok {
		return ref, nil
	}
	return imageRef{}, ErrNoImage
}

// fromValue converts a JSON value that should hold an image
func fromValue(v any) (imageRef, bool) {
	switch t := v.(type) {
	case string:
		return fromString(t)
	case []any:
		if isByteArray(t) {
			return fromBytes(t)
		}
	case map[string]any:
		// Node Buffer shape {"type":"Buffer","data":[...]}
		if arr, ok := t["data"].([]any); ok && isByteArray(arr) {
			return fromBytes(arr)
		}
	}
	return imageRef{}, false
}

// search walks the document depth-first, object keys in sorted order
func search(v any) (imageRef, bool) {
	if ref, ok := fromValue(v); ok {
		return ref, true
	}
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			if ref, ok := search(it); ok {
				return ref, true
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(t) {
			if ref, ok := search(t[k]); ok {
				return ref, true
			}
		}
	}
	return imageRef{}, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fromString(s string) (imageRef, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return imageRef{}, false
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return imageRef{link: s}, true
	}
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return imageRef{}, false
		}
		s = s[comma+1:]
	}
	data, err := processing.DecodeBase64(s)
	if err != nil || !looksLikeImage(data) {
		return imageRef{}, false
	}
	return imageRef{data: data}, true
}

func fromBytes(arr []any) (imageRef, bool) {
	data := make([]byte, len(arr))
	for i, v := range arr {
		data[i] = byte(v.(float64))
	}
	if !looksLikeImage(data) {
		return imageRef{}, false
	}
	return imageRef{data: data}, true
}

func isByteArray(arr []any) bool {
	if len(arr) < minBinaryLen {
		return false
	}
	for _, v := range arr {
		n, ok := v.(float64)
		if !ok || n < 0 || n > 255 || n != float64(int(n)) {
			return false
		}
	}
	return true
}

func looksLikeImage(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return strings.HasPrefix(http.DetectContentType(data), "image/")
}

// errorDetail renders an upstream error body as short text. JSON error/detail
// fields are preferred, including Node Buffer encoded text.
func errorDetail(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return trimDetail(string(body))
	}
	for _, key := range []string{"error", "detail", "message"} {
		switch v := doc[key].(type) {
		case string:
			if v != "" {
				return trimDetail(v)
			}
		case map[string]any:
			if arr, ok := v["data"].([]any); ok {
				buf := make([]byte, 0, len(arr))
				for _, n := range arr {
					if f, ok := n.(float64); ok {
						buf = append(buf, byte(f))
					}
				}
				return trimDetail(string(buf))
			}
			if b, err := json.Marshal(v); err == nil {
				return trimDetail(string(b))
			}
		}
	}
	return trimDetail(string(body))
}
