package types

import (
	"fmt"
	"image/color"
	"math"
)

// Point is a position in source-image pixel coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle in pixel coordinates. Fractional values are
// kept so crop math is exact until rendering.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center point of the rectangle
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Right returns the exclusive right edge
func (r Rect) Right() float64 { return r.X + r.W }

// Bottom returns the exclusive bottom edge
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Within reports whether r lies inside [0,w]x[0,h]
func (r Rect) Within(w, h int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Right() <= float64(w) && r.Bottom() <= float64(h)
}

// Landmarks holds facial landmark points of a single face. Only the eyes are
// required by the planner; the other groups are kept when a backend reports them.
type Landmarks struct {
	LeftEye  []Point `json:"left_eye"`
	RightEye []Point `json:"right_eye"`
	Nose     []Point `json:"nose,omitempty"`
	Mouth    []Point `json:"mouth,omitempty"`
}

// Eyes returns left and right eye points in one slice
func (l Landmarks) Eyes() []Point {
	eyes := make([]Point, 0, len(l.LeftEye)+len(l.RightEye))
	eyes = append(eyes, l.LeftEye...)
	return append(eyes, l.RightEye...)
}

// EyeLine returns the mean y-coordinate of all eye points
func (l Landmarks) EyeLine() (float64, bool) {
	eyes := l.Eyes()
	if len(eyes) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range eyes {
		sum += p.Y
	}
	return sum / float64(len(eyes)), true
}

// FaceDetection is the single face reported by a face analyzer
type FaceDetection struct {
	Box        Rect      `json:"box"`
	Landmarks  Landmarks `json:"landmarks"`
	Confidence float64   `json:"confidence"`
}

// Validate checks that the bounding box is usable and lies within a w x h image
func (d *FaceDetection) Validate(w, h int) error {
	if d.Box.Empty() {
		return fmt.Errorf("face box has no area: %+v", d.Box)
	}
	if !d.Box.Within(w, h) {
		return fmt.Errorf("face box %+v outside image %dx%d", d.Box, w, h)
	}
	return nil
}

// ClampTo returns a copy whose box is clipped to a w x h image
func (d FaceDetection) ClampTo(w, h int) FaceDetection {
	x0 := math.Max(0, d.Box.X)
	y0 := math.Max(0, d.Box.Y)
	x1 := math.Min(float64(w), d.Box.Right())
	y1 := math.Min(float64(h), d.Box.Bottom())
	d.Box = Rect{X: x0, Y: y0, W: math.Max(0, x1-x0), H: math.Max(0, y1-y0)}
	return d
}

// SegmentationMask is a per-pixel foreground classification, row-major
type SegmentationMask struct {
	Width      int
	Height     int
	Foreground []bool
}

// NewSegmentationMask allocates an all-background mask
func NewSegmentationMask(w, h int) *SegmentationMask {
	return &SegmentationMask{Width: w, Height: h, Foreground: make([]bool, w*h)}
}

// At reports whether (x, y) is foreground; out-of-range points are background
func (m *SegmentationMask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Foreground[y*m.Width+x]
}

// Set marks (x, y) as foreground or background
func (m *SegmentationMask) Set(x, y int, fg bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Foreground[y*m.Width+x] = fg
}

// Coverage returns the foreground fraction in [0,1]
func (m *SegmentationMask) Coverage() float64 {
	if len(m.Foreground) == 0 {
		return 0
	}
	n := 0
	for _, fg := range m.Foreground {
		if fg {
			n++
		}
	}
	return float64(n) / float64(len(m.Foreground))
}

// CropPlan maps a source rectangle onto a destination rectangle of the output canvas.
// Source always lies inside the source image; Dest may extend past the canvas.
type CropPlan struct {
	Source Rect `json:"source"`
	Dest   Rect `json:"dest"`
}

// OutputSpec is the fixed target frame of one invocation
type OutputSpec struct {
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Background color.NRGBA `json:"background"`
}

// Default output frame
const (
	DefaultWidth  = 600
	DefaultHeight = 800
)

// White is the default background
var White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// DefaultOutputSpec returns the 600x800 white frame
func DefaultOutputSpec() OutputSpec {
	return OutputSpec{Width: DefaultWidth, Height: DefaultHeight, Background: White}
}

// MaxDimension bounds each side of the output frame
const MaxDimension = 5000

// Validate rejects unusable frames. A translucent background is made opaque by
// the renderer, so only dimensions are checked here.
func (o OutputSpec) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", o.Width, o.Height)
	}
	if o.Width > MaxDimension || o.Height > MaxDimension {
		return fmt.Errorf("output size %dx%d exceeds %dx%d", o.Width, o.Height, MaxDimension, MaxDimension)
	}
	return nil
}

// OpaqueBackground returns the background with full alpha
func (o OutputSpec) OpaqueBackground() color.NRGBA {
	bg := o.Background
	bg.A = 255
	return bg
}

// PipelineResult is the final PNG artifact of one invocation
type PipelineResult struct {
	PNG    []byte
	Width  int
	Height int
}
