package compreface

import (
	"context"
	"fmt"
	"image"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
)

// uploadMaxDim bounds the longest side of images sent to the service.
// Detections are scaled back to source coordinates.
const uploadMaxDim = 1600

// Analyzer is a FaceAnalyzer backed by a CompreFace client
type Analyzer struct {
	client *Client
}

// NewAnalyzer wraps a client as a face analyzer
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

// Detect uploads img and returns the primary face
func (a *Analyzer) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	b := img.Bounds()
	data, err := processing.EncodeImage(img, "jpg", uploadMaxDim, 92)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	scale := 1.0
	if longest := max(b.Dx(), b.Dy()); longest > uploadMaxDim {
		scale = float64(longest) / float64(uploadMaxDim)
	}

	resp, err := a.client.DetectFacesFromBytes(ctx, data, "photo.jpg")
	if err != nil {
		return nil, err
	}

	faces := make([]types.FaceDetection, 0, len(resp.Result))
	for _, f := range resp.Result {
		faces = append(faces, toDetection(f, scale))
	}
	primary := analyzer.SelectPrimary(faces)
	if primary == nil {
		return nil, analyzer.ErrNoFaceDetected
	}
	return primary, nil
}

func toDetection(f FaceDetection, scale float64) types.FaceDetection {
	det := types.FaceDetection{
		Box: types.Rect{
			X: float64(f.Box.XMin) * scale,
			Y: float64(f.Box.YMin) * scale,
			W: float64(f.Box.XMax-f.Box.XMin) * scale,
			H: float64(f.Box.YMax-f.Box.YMin) * scale,
		},
		Confidence: f.Box.Probability,
	}

	points := make([]types.Point, 0, len(f.Landmarks))
	for _, lm := range f.Landmarks {
		if len(lm) < 2 {
			continue
		}
		points = append(points, types.Point{X: lm[0] * scale, Y: lm[1] * scale})
	}
	if len(points) >= 2 {
		det.Landmarks.LeftEye = points[0:1]
		det.Landmarks.RightEye = points[1:2]
	}
	if len(points) >= 3 {
		det.Landmarks.Nose = points[2:3]
	}
	if len(points) >= 5 {
		det.Landmarks.Mouth = points[3:5]
	}
	return det
}
