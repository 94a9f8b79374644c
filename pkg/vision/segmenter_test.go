package vision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a portrait-like image: a plain wall with a dark
// subject block that touches the bottom edge
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	wall := color.NRGBA{236, 238, 240, 255}
	subject := color.NRGBA{120, 40, 30, 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x >= width*3/10 && x < width*7/10 && y >= height/4 {
				img.SetNRGBA(x, y, subject)
			} else {
				img.SetNRGBA(x, y, wall)
			}
		}
	}
	return img
}

func TestNone(t *testing.T) {
	mask, err := None{}.Segment(context.Background(), createTestImage(10, 10))
	assert.Nil(t, mask)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.False(t, Available(nil))
	assert.False(t, Available(None{}))
	assert.False(t, Available(&None{}))
	assert.True(t, Available(NewBackdropSegmenter()))
}

func TestBackdropSegmenter_Segment(t *testing.T) {
	img := createTestImage(200, 200)

	mask, err := NewBackdropSegmenter().Segment(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, 200, mask.Width)
	require.Equal(t, 200, mask.Height)

	assert.True(t, mask.At(100, 150), "subject center")
	assert.False(t, mask.At(5, 5), "top-left wall")
	assert.False(t, mask.At(195, 100), "right wall")
	assert.InDelta(t, 0.3, mask.Coverage(), 0.05)
}

func TestBackdropSegmenter_Downscaled(t *testing.T) {
	img := createTestImage(900, 1200)

	cfg := DefaultBackdropConfig()
	cfg.MaxDimension = 300
	mask, err := NewBackdropSegmenterWithConfig(cfg).Segment(context.Background(), img)
	require.NoError(t, err)

	// mask is returned at the input resolution
	assert.Equal(t, 900, mask.Width)
	assert.Equal(t, 1200, mask.Height)
	assert.True(t, mask.At(450, 900))
	assert.False(t, mask.At(20, 20))
}

func TestBackdropSegmenter_NoSubject(t *testing.T) {
	plain := image.NewNRGBA(image.Rect(0, 0, 80, 80))
	for i := range plain.Pix {
		plain.Pix[i] = 255
	}

	_, err := NewBackdropSegmenter().Segment(context.Background(), plain)
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestBackdropSegmenter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBackdropSegmenter().Segment(ctx, createTestImage(50, 50))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}

func BenchmarkBackdropSegmenter(b *testing.B) {
	img := createTestImage(1200, 1600)
	seg := NewBackdropSegmenter()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = seg.Segment(ctx, img)
	}
}
