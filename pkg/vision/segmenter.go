package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

var (
	// ErrUnavailable is returned by segmenters that cannot run
	ErrUnavailable = errors.New("segmenter unavailable")
	// ErrNoSubject is returned when no plausible person region is found
	ErrNoSubject = errors.New("no subject found")
)

// Segmenter separates the person in a photo from its background
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (*types.SegmentationMask, error)
}

// None is the segmenter used when segmentation is not available
type None struct{}

// Segment always returns ErrUnavailable
func (None) Segment(context.Context, image.Image) (*types.SegmentationMask, error) {
	return nil, ErrUnavailable
}

// Available reports whether s can produce masks
func Available(s Segmenter) bool {
	switch s.(type) {
	case nil, None, *None:
		return false
	}
	return true
}

// BackdropConfig holds configuration for backdrop segmentation
type BackdropConfig struct {
	// Threshold is the CIE76 distance in go-colorful Lab units (roughly deltaE/100)
	// above which a pixel differs from the backdrop
	Threshold float64 `json:"threshold"`
	// BorderRatio is the border band width sampled for the backdrop, relative to the shorter side
	BorderRatio float64 `json:"border_ratio"`
	// Smoothing is the morphology radius in working-resolution pixels
	Smoothing float64 `json:"smoothing"`
	// MaxDimension caps the working resolution
	MaxDimension int `json:"max_dimension"`
	// MinCoverage and MaxCoverage bound a plausible foreground fraction
	MinCoverage float64 `json:"min_coverage"`
	MaxCoverage float64 `json:"max_coverage"`
}

// DefaultBackdropConfig returns defaults tuned for portraits in front of a plain wall
func DefaultBackdropConfig() BackdropConfig {
	return BackdropConfig{
		Threshold:    0.12,
		BorderRatio:  0.04,
		Smoothing:    2,
		MaxDimension: 512,
		MinCoverage:  0.05,
		MaxCoverage:  0.95,
	}
}

// BackdropSegmenter estimates the backdrop color from the top, left and right
// image borders and marks every pixel that differs enough from it as foreground.
// It works for plain walls and studio backdrops, not for busy scenes.
type BackdropSegmenter struct {
	config BackdropConfig
}

// NewBackdropSegmenter creates a segmenter with default configuration
func NewBackdropSegmenter() *BackdropSegmenter {
	return &BackdropSegmenter{config: DefaultBackdropConfig()}
}

// NewBackdropSegmenterWithConfig creates a segmenter with custom configuration
func NewBackdropSegmenterWithConfig(config BackdropConfig) *BackdropSegmenter {
	def := DefaultBackdropConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BorderRatio <= 0 {
		config.BorderRatio = def.BorderRatio
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = def.MaxDimension
	}
	if config.MaxCoverage <= 0 {
		config.MaxCoverage = def.MaxCoverage
	}
	return &BackdropSegmenter{config: config}
}

// Segment returns a mask with the dimensions of img
func (s *BackdropSegmenter) Segment(ctx context.Context, img image.Image) (*types.SegmentationMask, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	work := imaging.Clone(img)
	if w > s.config.MaxDimension || h > s.config.MaxDimension {
		work = imaging.Fit(work, s.config.MaxDimension, s.config.MaxDimension, imaging.Box)
	}
	ww, wh := work.Bounds().Dx(), work.Bounds().Dy()

	backdrop := s.estimateBackdrop(work)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fg := image.NewGray(image.Rect(0, 0, ww, wh))
	for y := 0; y < wh; y++ {
		for x := 0; x < ww; x++ {
			px := work.NRGBAAt(x, y)
			if px.A < 128 {
				continue
			}
			c := colorful.Color{R: float64(px.R) / 255, G: float64(px.G) / 255, B: float64(px.B) / 255}
			if c.DistanceLab(backdrop) > s.config.Threshold {
				fg.Pix[y*fg.Stride+x] = 255
			}
		}
	}

	cleaned := image.Image(fg)
	if r := s.config.Smoothing; r > 0 {
		// opening drops speckles, closing fills pinholes in the subject
		cleaned = effect.Dilate(effect.Erode(cleaned, r), r)
		cleaned = effect.Erode(effect.Dilate(cleaned, r), r)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask := types.NewSegmentationMask(w, h)
	cb := cleaned.Bounds()
	for y := 0; y < h; y++ {
		sy := cb.Min.Y + y*wh/h
		for x := 0; x < w; x++ {
			sx := cb.Min.X + x*ww/w
			gray := color.GrayModel.Convert(cleaned.At(sx, sy)).(color.Gray)
			if gray.Y >= 128 {
				mask.Foreground[y*w+x] = true
			}
		}
	}

	coverage := mask.Coverage()
	if coverage < s.config.MinCoverage || coverage > s.config.MaxCoverage {
		return nil, fmt.Errorf("%w: foreground coverage %.2f outside [%.2f, %.2f]",
			ErrNoSubject, coverage, s.config.MinCoverage, s.config.MaxCoverage)
	}
	return mask, nil
}

// estimateBackdrop returns the per-channel Lab median of the top, left and right border bands
func (s *BackdropSegmenter) estimateBackdrop(img *image.NRGBA) colorful.Color {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	band := int(s.config.BorderRatio * float64(minInt(w, h)))
	if band < 1 {
		band = 1
	}

	var ls, as, bs []float64
	sample := func(x, y int) {
		px := img.NRGBAAt(x, y)
		c := colorful.Color{R: float64(px.R) / 255, G: float64(px.G) / 255, B: float64(px.B) / 255}
		l, a, b := c.Lab()
		ls = append(ls, l)
		as = append(as, a)
		bs = append(bs, b)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y < band || x < band || x >= w-band {
				sample(x, y)
			}
		}
	}
	return colorful.Lab(median(ls), median(as), median(bs))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 0 {
		return (v[mid-1] + v[mid]) / 2
	}
	return v[mid]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
