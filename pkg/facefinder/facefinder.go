// Package facefinder detects faces locally with pigo cascades
package facefinder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
)

// Config tunes the cascade run
type Config struct {
	// FacefinderPath is the face cascade file (required)
	FacefinderPath string `json:"facefinder_path"`
	// PuplocPath is the pupil localization cascade; empty disables eye landmarks
	PuplocPath string `json:"puploc_path"`
	// MaxDimension bounds the working image; detections are scaled back
	MaxDimension int `json:"max_dimension"`
	// MinSize is the smallest face side considered, in working pixels
	MinSize int `json:"min_size"`
	// MinQuality drops weak cascade detections
	MinQuality float32 `json:"min_quality"`
	// IoUThreshold merges overlapping detections
	IoUThreshold float64 `json:"iou_threshold"`
}

// DefaultConfig returns settings used with the stock pigo cascades
func DefaultConfig() Config {
	return Config{
		MaxDimension: 1200,
		MinSize:      40,
		MinQuality:   5.0,
		IoUThreshold: 0.2,
	}
}

// Detector is a FaceAnalyzer running pigo in-process
type Detector struct {
	config Config
	faces  *pigo.Pigo
	pupils *pigo.PuplocCascade
}

// New loads the cascades named in config
func New(config Config) (*Detector, error) {
	def := DefaultConfig()
	if config.MaxDimension <= 0 {
		config.MaxDimension = def.MaxDimension
	}
	if config.MinSize <= 0 {
		config.MinSize = def.MinSize
	}
	if config.MinQuality <= 0 {
		config.MinQuality = def.MinQuality
	}
	if config.IoUThreshold <= 0 {
		config.IoUThreshold = def.IoUThreshold
	}
	if config.FacefinderPath == "" {
		return nil, errors.New("facefinder cascade path is required")
	}

	cascade, err := os.ReadFile(config.FacefinderPath)
	if err != nil {
		return nil, fmt.Errorf("error reading cascade file: %w", err)
	}
	var puploc []byte
	if config.PuplocPath != "" {
		puploc, err = os.ReadFile(config.PuplocPath)
		if err != nil {
			return nil, fmt.Errorf("error reading puploc cascade: %w", err)
		}
	}
	return NewFromBytes(config, cascade, puploc)
}

// NewFromBytes builds a detector from cascade contents. puploc may be nil.
func NewFromBytes(config Config, cascade, puploc []byte) (*Detector, error) {
	faces, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("error unpacking cascade file: %w", err)
	}
	d := &Detector{config: config, faces: faces}

	if len(puploc) > 0 {
		d.pupils, err = pigo.NewPuplocCascade().UnpackCascade(puploc)
		if err != nil {
			return nil, fmt.Errorf("error unpacking puploc cascade: %w", err)
		}
	}
	return d, nil
}

// Detect finds the primary face of img
func (d *Detector) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	work, scale := workingImage(img, d.config.MaxDimension)
	b := work.Bounds()
	cols, rows := b.Dx(), b.Dy()

	params := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(work),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	cParams := pigo.CascadeParams{
		MinSize:     d.config.MinSize,
		MaxSize:     max(d.config.MinSize, int(math.Min(float64(cols), float64(rows)))),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: params,
	}

	dets := d.faces.RunCascade(cParams, 0.0)
	dets = d.faces.ClusterDetections(dets, d.config.IoUThreshold)

	faces := make([]types.FaceDetection, 0, len(dets))
	for _, det := range dets {
		if det.Q < d.config.MinQuality {
			continue
		}
		face := toDetection(det, scale)
		if d.pupils != nil {
			face.Landmarks = d.locatePupils(det, params, scale)
		}
		faces = append(faces, face)
	}

	primary := analyzer.SelectPrimary(faces)
	if primary == nil {
		return nil, analyzer.ErrNoFaceDetected
	}
	return primary, nil
}

func (d *Detector) locatePupils(det pigo.Detection, params pigo.ImageParams, scale float64) types.Landmarks {
	var lm types.Landmarks
	s := float64(det.Scale)

	left := pigo.Puploc{
		Row:      det.Row - int(0.085*s),
		Col:      det.Col - int(0.185*s),
		Scale:    float32(s) * 0.4,
		Perturbs: 63,
	}
	if p := d.pupils.RunDetector(left, params, 0.0, false); p != nil && p.Row > 0 && p.Col > 0 {
		lm.LeftEye = []types.Point{{X: float64(p.Col) * scale, Y: float64(p.Row) * scale}}
	}

	right := pigo.Puploc{
		Row:      det.Row - int(0.085*s),
		Col:      det.Col + int(0.185*s),
		Scale:    float32(s) * 0.4,
		Perturbs: 63,
	}
	if p := d.pupils.RunDetector(right, params, 0.0, false); p != nil && p.Row > 0 && p.Col > 0 {
		lm.RightEye = []types.Point{{X: float64(p.Col) * scale, Y: float64(p.Row) * scale}}
	}
	return lm
}

// workingImage returns a zero-origin NRGBA no larger than maxDim and the factor
// mapping its coordinates back to img
func workingImage(img image.Image, maxDim int) (*image.NRGBA, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return imaging.Clone(img), 1
	}
	if w >= h {
		work := imaging.Resize(img, maxDim, 0, imaging.Linear)
		return work, float64(w) / float64(work.Bounds().Dx())
	}
	work := imaging.Resize(img, 0, maxDim, imaging.Linear)
	return work, float64(h) / float64(work.Bounds().Dy())
}

func toDetection(det pigo.Detection, scale float64) types.FaceDetection {
	side := float64(det.Scale)
	return types.FaceDetection{
		Box: types.Rect{
			X: (float64(det.Col) - side/2) * scale,
			Y: (float64(det.Row) - side/2) * scale,
			W: side * scale,
			H: side * scale,
		},
		Confidence: float64(det.Q),
	}
}
