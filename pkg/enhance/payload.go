package enhance

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/compositor"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/vision"
)

// PreparePayload builds the init image and inpainting mask for img. The subject
// is composited over bg when seg produces a usable mask; otherwise the whole
// image is composited and the mask is all white.
func PreparePayload(ctx context.Context, img image.Image, bg color.Color, seg vision.Segmenter) (Request, error) {
	var mask *types.SegmentationMask
	if vision.Available(seg) {
		if m, err := seg.Segment(ctx, img); err == nil {
			mask = m
		}
	}
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	comp, err := compositor.Composite(img, bg, mask)
	if err != nil {
		comp, err = compositor.Composite(img, bg, nil)
		if err != nil {
			return Request{}, err
		}
	}

	initPNG, err := processing.EncodePNG(comp.Image)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode init image: %w", err)
	}
	maskPNG, err := processing.EncodePNG(comp.Mask)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode mask: %w", err)
	}
	return Request{Image: initPNG, Mask: maskPNG}, nil
}
