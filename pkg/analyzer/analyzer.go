package analyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrNoFaceDetected is returned when an image contains no usable face
var ErrNoFaceDetected = errors.New("no face detected")

// ErrUnavailable marks a face analysis backend that cannot run
var ErrUnavailable = errors.New("face analyzer unavailable")

// FaceAnalyzer locates the single face of a portrait.
// Detect returns ErrNoFaceDetected (possibly wrapped) when there is none.
type FaceAnalyzer interface {
	Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error)
}

// Func adapts a plain function to FaceAnalyzer
type Func func(ctx context.Context, img image.Image) (*types.FaceDetection, error)

// Detect calls f
func (f Func) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	return f(ctx, img)
}

// Unavailable is the analyzer used when no backend is configured. Its errors
// match both ErrUnavailable and ErrNoFaceDetected.
type Unavailable struct {
	Reason string
}

// Detect always fails
func (u Unavailable) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	if u.Reason != "" {
		return nil, fmt.Errorf("%w: %w: %s", ErrNoFaceDetected, ErrUnavailable, u.Reason)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoFaceDetected, ErrUnavailable)
}

// Backend is a named analyzer inside a Chain
type Backend struct {
	Name     string
	Analyzer FaceAnalyzer
}

// Chain tries backends in order and returns the first face found
type Chain struct {
	backends []Backend
	log      logrus.FieldLogger
}

// NewChain creates a chain over the given backends
func NewChain(log logrus.FieldLogger, backends ...Backend) *Chain {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Chain{backends: backends, log: log}
}

// Len returns the number of backends
func (c *Chain) Len() int {
	return len(c.backends)
}

// Detect runs each backend until one reports a face. A backend failure is
// logged and the next backend is tried; if none finds a face the result is
// ErrNoFaceDetected, wrapping the backend failures when there were any.
func (c *Chain) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	if len(c.backends) == 0 {
		return Unavailable{Reason: "no backends configured"}.Detect(ctx, img)
	}

	b := img.Bounds()
	var failures []error
	for _, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := c.log.WithField("backend", backend.Name)
		det, err := backend.Analyzer.Detect(ctx, img)
		switch {
		case err == nil && det != nil:
			if verr := det.Validate(b.Dx(), b.Dy()); verr != nil {
				clamped := det.ClampTo(b.Dx(), b.Dy())
				if clamped.Box.Empty() {
					log.WithError(verr).Warn("discarding face outside image")
					failures = append(failures, fmt.Errorf("%s: %w", backend.Name, verr))
					continue
				}
				det = &clamped
			}
			log.WithFields(logrus.Fields{
				"box":        det.Box,
				"confidence": det.Confidence,
			}).Debug("face detected")
			return det, nil
		case err == nil, errors.Is(err, ErrNoFaceDetected) && !errors.Is(err, ErrUnavailable):
			log.Debug("no face reported")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return nil, err
			}
			log.WithError(err).Warn("face analyzer timed out")
			failures = append(failures, fmt.Errorf("%s: %w", backend.Name, err))
		default:
			log.WithError(err).Warn("face analyzer failed")
			failures = append(failures, fmt.Errorf("%s: %w", backend.Name, err))
		}
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoFaceDetected, errors.Join(failures...))
	}
	return nil, ErrNoFaceDetected
}

// SelectPrimary picks the face a single-face analyzer should report: the one
// with the largest confidence-weighted box area. It returns nil for no faces.
func SelectPrimary(faces []types.FaceDetection) *types.FaceDetection {
	var best *types.FaceDetection
	bestScore := -1.0
	for i := range faces {
		f := &faces[i]
		if f.Box.Empty() {
			continue
		}
		conf := f.Confidence
		if conf <= 0 {
			conf = 1
		}
		score := conf * f.Box.W * f.Box.H
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
