// Package compositor places a photo over a solid background, optionally keeping
// only the pixels a segmentation mask marks as foreground.
package compositor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/disintegration/imaging"
)

// DimensionMismatchError is returned when a mask does not match the image it is applied to
type DimensionMismatchError struct {
	ImageW, ImageH int
	MaskW, MaskH   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("mask %dx%d does not match image %dx%d", e.MaskW, e.MaskH, e.ImageW, e.ImageH)
}

// Composition is the result of Composite
type Composition struct {
	// Image has the dimensions of the input, filled with the background
	Image *image.NRGBA
	// Mask is opaque white where the subject was kept and opaque black elsewhere
	Mask *image.NRGBA
}

var (
	maskForeground = color.NRGBA{255, 255, 255, 255}
	maskBackground = color.NRGBA{0, 0, 0, 255}
)

// Composite draws img over a canvas of the same size filled with bg.
//
// Without a mask the whole image is alpha-blended onto the fill and the returned
// mask is all white. With a mask, foreground pixels are copied verbatim (color
// and alpha) and background pixels keep the fill.
func Composite(img image.Image, bg color.Color, mask *types.SegmentationMask) (*Composition, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if mask == nil {
		canvas := Fill(w, h, bg)
		return &Composition{
			Image: imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0),
			Mask:  imaging.New(w, h, maskForeground),
		}, nil
	}

	if mask.Width != w || mask.Height != h || len(mask.Foreground) != w*h {
		return nil, &DimensionMismatchError{ImageW: w, ImageH: h, MaskW: mask.Width, MaskH: mask.Height}
	}

	src := imaging.Clone(img)
	out := Fill(w, h, bg)
	maskImg := imaging.New(w, h, maskBackground)

	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			if !mask.Foreground[row+x] {
				continue
			}
			i := src.PixOffset(x, y)
			copy(out.Pix[i:i+4], src.Pix[i:i+4])
			maskImg.SetNRGBA(x, y, maskForeground)
		}
	}

	return &Composition{Image: out, Mask: maskImg}, nil
}

// Fill returns a w x h canvas filled with bg
func Fill(w, h int, bg color.Color) *image.NRGBA {
	return imaging.New(w, h, bg)
}

// Flatten stretches img to w x h and draws it over an opaque fill of bg.
// The result never contains transparent pixels, even when bg itself is translucent.
func Flatten(img image.Image, bg color.Color, w, h int) *image.NRGBA {
	opaque := color.NRGBAModel.Convert(bg).(color.NRGBA)
	opaque.A = 255

	canvas := Fill(w, h, opaque)
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	out := imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)

	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out
}
