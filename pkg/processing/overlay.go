package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/disintegration/imaging"
)

// DebugOverlay draws the detected face box, landmark points, the planned source
// crop rectangle and the measured eye line on a copy of img
func DebugOverlay(img image.Image, det *types.FaceDetection, plan *types.CropPlan) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // face box
	gold := color.NRGBA{255, 204, 0, 255} // crop rectangle
	red := color.NRGBA{255, 0, 0, 255}    // landmarks
	blue := color.NRGBA{0, 170, 255, 255} // eye line
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h))))
	cross := int(math.Max(4, 0.01*float64(minInt(w, h))))

	if plan != nil && !plan.Source.Empty() {
		drawRect(nrgba, plan.Source, gold, stroke)
	}
	if det == nil {
		return nrgba
	}

	drawRect(nrgba, det.Box, green, stroke)

	points := append(det.Landmarks.Eyes(), det.Landmarks.Nose...)
	points = append(points, det.Landmarks.Mouth...)
	for _, p := range points {
		px, py := int(p.X+0.5), int(p.Y+0.5)
		drawHLine(nrgba, py, px-cross, px+cross, red)
		drawVLine(nrgba, px, py-cross, py+cross, red)
	}

	if y, ok := det.Landmarks.EyeLine(); ok {
		x0, x1 := 0, w
		if plan != nil && !plan.Source.Empty() {
			x0, x1 = int(plan.Source.X), int(plan.Source.Right()+0.5)
		}
		drawHLine(nrgba, int(y+0.5), x0, x1, blue)
	}

	return nrgba
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func rectToPixels(r types.Rect, w, h int) (int, int, int, int) {
	x0 := int(clamp(r.X, 0, float64(w)) + 0.5)
	y0 := int(clamp(r.Y, 0, float64(h)) + 0.5)
	x1 := int(clamp(r.Right(), 0, float64(w)) + 0.5)
	y1 := int(clamp(r.Bottom(), 0, float64(h)) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawRect(img *image.NRGBA, r types.Rect, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := rectToPixels(r, img.Bounds().Dx(), img.Bounds().Dy())
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = maxInt(x0, 0)
	x1 = minInt(x1, img.Bounds().Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = maxInt(y0, 0)
	y1 = minInt(y1, img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
