// Package client defines the transport shared by vision-language model backends
package client

import "context"

// VisionClient sends one prompt with one base64 image to a vision model and
// returns the raw text answer
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
