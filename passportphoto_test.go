package passportphoto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Priyanka-collab/passport-photo-generator/internal/config"
	"github.com/Priyanka-collab/passport-photo-generator/internal/logging"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/enhance"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/pipeline"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a gray portrait with a bright face block
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/4 && y < height/2 {
				img.Set(x, y, color.NRGBA{230, 180, 140, 255})
			} else {
				img.Set(x, y, color.NRGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func staticAnalyzer() analyzer.FaceAnalyzer {
	return analyzer.Func(func(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
		b := img.Bounds()
		return &types.FaceDetection{
			Box: types.Rect{X: float64(b.Dx()) / 3, Y: float64(b.Dy()) / 4, W: float64(b.Dx()) / 3, H: float64(b.Dy()) / 4},
		}, nil
	})
}

func TestNew(t *testing.T) {
	g := New(staticAnalyzer())
	require.NotNil(t, g)
	assert.Equal(t, types.DefaultOutputSpec(), g.DefaultOutput())
	assert.False(t, g.Health().Enabled)
	assert.NotNil(t, g.Pipeline())
}

func TestGenerate(t *testing.T) {
	g := New(staticAnalyzer())
	res, err := g.Generate(context.Background(), pipeline.SourceFromBytes(encode(t, createTestImage(300, 400))), types.DefaultOutputSpec())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(res.PNG))
	require.NoError(t, err)
	assert.Equal(t, 600, img.Bounds().Dx())
	assert.Equal(t, 800, img.Bounds().Dy())
}

func TestGenerateFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")
	require.NoError(t, os.WriteFile(in, encode(t, createTestImage(200, 200)), 0644))

	g := New(staticAnalyzer())
	spec := types.OutputSpec{Width: 413, Height: 531, Background: color.NRGBA{230, 238, 246, 255}}
	require.NoError(t, g.GenerateFile(context.Background(), in, out, spec))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 413, cfg.Width)
	assert.Equal(t, 531, cfg.Height)
}

func TestGenerateFile_NoFace(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	require.NoError(t, os.WriteFile(in, encode(t, createTestImage(200, 200)), 0644))

	g := New(nil)
	err := g.GenerateFile(context.Background(), in, filepath.Join(dir, "out.png"), types.DefaultOutputSpec())
	assert.True(t, errors.Is(err, analyzer.ErrNoFaceDetected))
	_, statErr := os.Stat(filepath.Join(dir, "out.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewWithConfig_CompreFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":[{"box":{"probability":0.99,"x_min":70,"y_min":60,"x_max":130,"y_max":120},"landmarks":[[85,85],[115,85],[100,100],[88,110],[112,110]]}]}`)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Analyzer.CompreFace.URL = srv.URL
	cfg.Analyzer.CompreFace.APIKey = "test-key"
	cfg.Output.Background = "light-blue"
	cfg.Segmenter.Enabled = false

	g, err := NewWithConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0xe6, 0xee, 0xf6, 0xff}, g.DefaultOutput().Background)

	a, err := g.Analyze(context.Background(), pipeline.SourceFromBytes(encode(t, createTestImage(200, 240))), g.DefaultOutput())
	require.NoError(t, err)
	assert.Equal(t, 70.0, a.Detection.Box.X)
	line, ok := a.Detection.Landmarks.EyeLine()
	require.True(t, ok)
	assert.Equal(t, 85.0, line)
}

func TestNewWithConfig_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Width = 0
	_, err := NewWithConfig(cfg, nil)
	assert.Error(t, err)
}

func TestNewWithConfig_Enhancement(t *testing.T) {
	cfg := config.Default()
	cfg.Enhancement.Enabled = true
	cfg.Enhancement.URL = "https://www.segmind.com/models/sd1.5-inpainting"
	cfg.Enhancement.APIKey = "k"

	g, err := NewWithConfig(cfg, nil)
	require.NoError(t, err)
	h := g.Health()
	assert.True(t, h.Enabled)
	assert.True(t, h.HasKey)
	assert.True(t, h.LooksLikeModelPage)
	assert.False(t, h.OK)
}

func TestBuildAnalyzer(t *testing.T) {
	fa, err := BuildAnalyzer(config.AnalyzerConfig{}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, analyzer.Unavailable{}, fa)

	// facefinder without cascades is skipped, ollama remains
	cfg := config.Default().Analyzer
	cfg.Backends = []string{config.BackendFacefinder, config.BackendOllama}
	cfg.Facefinder.CascadePath = filepath.Join(t.TempDir(), "missing")
	fa, err = BuildAnalyzer(cfg, logging.Discard())
	require.NoError(t, err)
	chain, ok := fa.(*analyzer.Chain)
	require.True(t, ok)
	assert.Equal(t, 1, chain.Len())
}

func TestEnhancementPrompt(t *testing.T) {
	assert.Equal(t, enhance.DefaultPrompt, EnhancementPrompt(config.EnhancementConfig{}))
	assert.Equal(t, enhance.PromptFor("tux"), EnhancementPrompt(config.EnhancementConfig{Attire: "tux"}))
	assert.Equal(t, "custom", EnhancementPrompt(config.EnhancementConfig{Attire: "tux", Prompt: "custom"}))
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, Version, GetVersion())
}
