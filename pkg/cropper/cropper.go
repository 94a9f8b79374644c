package cropper

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/disintegration/imaging"
)

// ErrDegenerateCrop is returned when the face box leaves no usable source area
var ErrDegenerateCrop = errors.New("crop region has no area")

// Config holds the passport framing parameters
type Config struct {
	// Margin widens the face box by this fraction on each axis
	Margin float64 `json:"margin"`
	// VerticalMarginFactor scales Margin on the vertical axis
	VerticalMarginFactor float64 `json:"vertical_margin_factor"`
	// FaceHeightRatio is the share of the output height the crop region is scaled to
	FaceHeightRatio float64 `json:"face_height_ratio"`
	// EyeLineRatio is where the eyes land, as a fraction of the output height from the top
	EyeLineRatio float64 `json:"eye_line_ratio"`
	// EyeFallbackRatio estimates the eye line inside the face box when no eye landmarks exist
	EyeFallbackRatio float64 `json:"eye_fallback_ratio"`
}

// DefaultConfig returns the standard passport framing
func DefaultConfig() Config {
	return Config{
		Margin:               0.6,
		VerticalMarginFactor: 1.4,
		FaceHeightRatio:      0.5,
		EyeLineRatio:         0.35,
		EyeFallbackRatio:     0.42,
	}
}

// Validate checks that every ratio is usable
func (c Config) Validate() error {
	if c.Margin < 0 {
		return fmt.Errorf("margin must be non-negative, got %g", c.Margin)
	}
	if c.VerticalMarginFactor < 0 {
		return fmt.Errorf("vertical margin factor must be non-negative, got %g", c.VerticalMarginFactor)
	}
	if c.FaceHeightRatio <= 0 || c.FaceHeightRatio > 1 {
		return fmt.Errorf("face height ratio must be in (0,1], got %g", c.FaceHeightRatio)
	}
	if c.EyeLineRatio <= 0 || c.EyeLineRatio >= 1 {
		return fmt.Errorf("eye line ratio must be in (0,1), got %g", c.EyeLineRatio)
	}
	if c.EyeFallbackRatio < 0 || c.EyeFallbackRatio > 1 {
		return fmt.Errorf("eye fallback ratio must be in [0,1], got %g", c.EyeFallbackRatio)
	}
	return nil
}

// Planner computes where the face region of a photo goes on the output canvas
type Planner struct {
	config Config
}

// New creates a Planner with the default framing
func New() *Planner {
	return &Planner{config: DefaultConfig()}
}

// NewWithConfig creates a Planner with custom framing. Zero ratios take their defaults.
func NewWithConfig(config Config) *Planner {
	def := DefaultConfig()
	if config.FaceHeightRatio == 0 {
		config.FaceHeightRatio = def.FaceHeightRatio
	}
	if config.EyeLineRatio == 0 {
		config.EyeLineRatio = def.EyeLineRatio
	}
	if config.EyeFallbackRatio == 0 {
		config.EyeFallbackRatio = def.EyeFallbackRatio
	}
	return &Planner{config: config}
}

// Config returns the planner's framing
func (p *Planner) Config() Config {
	return p.config
}

// Plan maps the face of a srcW x srcH image onto the output frame.
//
// The face box is grown by the margin, centered on the face and clipped to the
// image. That source region is scaled so its height fills FaceHeightRatio of the
// output, centered horizontally, and shifted vertically so the mean eye position
// lands on EyeLineRatio of the output height. Dest may extend past the canvas.
func (p *Planner) Plan(det *types.FaceDetection, srcW, srcH int, out types.OutputSpec) (types.CropPlan, error) {
	if det == nil {
		return types.CropPlan{}, analyzer.ErrNoFaceDetected
	}
	if err := out.Validate(); err != nil {
		return types.CropPlan{}, err
	}
	if srcW <= 0 || srcH <= 0 {
		return types.CropPlan{}, fmt.Errorf("invalid source size %dx%d", srcW, srcH)
	}
	box := det.Box
	if box.Empty() {
		return types.CropPlan{}, fmt.Errorf("%w: face box %+v", ErrDegenerateCrop, box)
	}

	c := p.config
	cx, cy := box.Center()
	cropW := box.W * (1 + c.Margin)
	cropH := box.H * (1 + c.Margin*c.VerticalMarginFactor)

	sx := math.Max(0, cx-cropW/2)
	sy := math.Max(0, cy-cropH/2)
	sW := math.Min(float64(srcW)-sx, cropW)
	sH := math.Min(float64(srcH)-sy, cropH)
	if sW <= 0 || sH <= 0 {
		return types.CropPlan{}, fmt.Errorf("%w: face box %+v in %dx%d image", ErrDegenerateCrop, box, srcW, srcH)
	}

	outW, outH := float64(out.Width), float64(out.Height)
	scale := outH * c.FaceHeightRatio / sH
	dW := sW * scale
	dH := sH * scale
	dx := (outW - dW) / 2

	eyesY, ok := det.Landmarks.EyeLine()
	if !ok {
		eyesY = box.Y + c.EyeFallbackRatio*box.H
	}
	eyeRatio := (eyesY - sy) / sH
	dy := outH*c.EyeLineRatio - eyeRatio*dH

	return types.CropPlan{
		Source: types.Rect{X: sx, Y: sy, W: sW, H: sH},
		Dest:   types.Rect{X: dx, Y: dy, W: dW, H: dH},
	}, nil
}

// Render draws plan.Source of img, resized to plan.Dest, onto a canvas of the
// output size filled with the opaque background. Parts of Dest outside the canvas are clipped.
func Render(img image.Image, plan types.CropPlan, out types.OutputSpec) (*image.NRGBA, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}
	canvas := imaging.New(out.Width, out.Height, out.OpaqueBackground())

	b := img.Bounds()
	src := image.Rect(
		b.Min.X+round(plan.Source.X),
		b.Min.Y+round(plan.Source.Y),
		b.Min.X+round(plan.Source.Right()),
		b.Min.Y+round(plan.Source.Bottom()),
	).Intersect(b)
	if src.Empty() {
		return nil, fmt.Errorf("%w: source %+v outside image %v", ErrDegenerateCrop, plan.Source, b)
	}

	dw := maxInt(1, round(plan.Dest.W))
	dh := maxInt(1, round(plan.Dest.H))

	region := imaging.Crop(img, src)
	resized := imaging.Resize(region, dw, dh, imaging.Lanczos)

	return imaging.Overlay(canvas, resized, image.Pt(round(plan.Dest.X), round(plan.Dest.Y)), 1.0), nil
}

func round(v float64) int {
	return int(math.Round(v))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
