// Package enhance talks to an external image-generation service that turns a
// casual photo into a studio-style portrait before it is framed.
//
// Enhancement is best effort. A Gateway never returns a Go error; it returns a
// Result that is either a Success carrying the new image bytes or a Failure
// whose reason wraps ErrEnhancementUnavailable. Callers fall back to the
// original photo on any Failure.
package enhance

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEnhancementUnavailable is wrapped by every enhancement failure
	ErrEnhancementUnavailable = errors.New("enhancement unavailable")
	// ErrModelPageURL is returned when the configured URL is a model web page rather than an inference endpoint
	ErrModelPageURL = errors.New("enhancement URL points to a model page, not an API endpoint")
	// ErrNoImage is returned when the service answered without a usable image
	ErrNoImage = errors.New("no image in enhancement response")
)

// Request is one enhancement call
type Request struct {
	// Image is the encoded init image (PNG)
	Image []byte
	// Mask is the encoded inpainting mask (PNG), white where the model may paint
	Mask           []byte
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
}

// Result is the outcome of an enhancement call: Success or Failure
type Result interface {
	OK() bool
	Err() error
	isResult()
}

// Success carries the enhanced image bytes
type Success struct {
	Image []byte
}

// OK reports true
func (Success) OK() bool { return true }

// Err returns nil
func (Success) Err() error { return nil }

func (Success) isResult() {}

// Failure carries the reason enhancement could not be used
type Failure struct {
	Reason error
}

// OK reports false
func (Failure) OK() bool { return false }

// Err returns the failure reason; it always matches ErrEnhancementUnavailable
func (f Failure) Err() error {
	if f.Reason == nil {
		return ErrEnhancementUnavailable
	}
	if errors.Is(f.Reason, ErrEnhancementUnavailable) {
		return f.Reason
	}
	return fmt.Errorf("%w: %w", ErrEnhancementUnavailable, f.Reason)
}

func (Failure) isResult() {}

// Fail builds a Failure from a formatted reason
func Fail(format string, args ...any) Failure {
	return Failure{Reason: fmt.Errorf(format, args...)}
}

// Gateway enhances images through an external service
type Gateway interface {
	Enhance(ctx context.Context, req Request) Result
}

// Disabled is the gateway used when no enhancement service is configured
type Disabled struct{}

// Enhance always fails with ErrEnhancementUnavailable
func (Disabled) Enhance(context.Context, Request) Result {
	return Failure{Reason: ErrEnhancementUnavailable}
}

// Health reports the gateway as not configured
func (Disabled) Health() Health {
	return Health{}
}

// Available reports whether g can ever succeed
func Available(g Gateway) bool {
	switch g.(type) {
	case nil, Disabled, *Disabled:
		return false
	}
	return true
}

// UpstreamError is a non-2xx answer from the enhancement service
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("enhancement service returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("enhancement service returned HTTP %d: %s", e.Status, e.Detail)
}
