package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoader_LoadBytes(t *testing.T) {
	loader := NewLoader()

	img, err := loader.LoadBytes(pngBytes(t, createTestImage(120, 90)))
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 90, img.Bounds().Dy())
}

func TestLoader_LoadBytesJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, createTestImage(100, 100), &jpeg.Options{Quality: 90}))

	img, err := NewLoader().LoadBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
}

func TestLoader_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", pngBytes(t, createTestImage(80, 80))[:40]},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := loader.LoadBytes(tt.data)
			assert.Nil(t, img)
			require.Error(t, err)
			assert.True(t, IsDecodeError(err))
		})
	}
}

func TestLoader_MinImageSize(t *testing.T) {
	cfg := DefaultLoaderConfig()
	cfg.MinImageSize = 100
	loader := NewLoaderWithConfig(cfg, nil)

	_, err := loader.LoadBytes(pngBytes(t, createTestImage(99, 300)))
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "too small")

	_, err = loader.LoadBytes(pngBytes(t, createTestImage(100, 100)))
	assert.NoError(t, err)
}

// withHeaderSize rewrites the IHDR dimensions of an encoded PNG
func withHeaderSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestLoader_MaxPixels(t *testing.T) {
	cfg := DefaultLoaderConfig()
	cfg.MinImageSize = 0
	cfg.MaxPixels = 100 * 100
	loader := NewLoaderWithConfig(cfg, nil)

	_, err := loader.LoadBytes(pngBytes(t, createTestImage(100, 100)))
	assert.NoError(t, err)

	_, err = loader.LoadBytes(pngBytes(t, createTestImage(101, 100)))
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "too large")

	// the header is enough to reject it, the pixel data is never inflated
	bomb := withHeaderSize(t, pngBytes(t, createTestImage(10, 10)), 100000, 100000)
	_, err = NewLoader().LoadBytes(bomb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100000x100000")
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, createTestImage(200, 150)), 0o644))

	img, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	_, err = NewLoader().Load(context.Background(), filepath.Join(dir, "missing.png"))
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Source, "missing.png")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_LoadDataURI(t *testing.T) {
	data := pngBytes(t, createTestImage(64, 64))

	img, err := NewLoader().Load(context.Background(), DataURI("image/png", data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	_, err = NewLoader().Load(context.Background(), "data:text/plain;base64,aGVsbG8=")
	assert.True(t, IsDecodeError(err))

	_, err = NewLoader().Load(context.Background(), "data:image/png;base64")
	assert.True(t, IsDecodeError(err))
}

func TestLoader_LoadURL(t *testing.T) {
	data := pngBytes(t, createTestImage(128, 96))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.png":
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	loader := NewLoader()

	img, err := loader.Load(context.Background(), srv.URL+"/photo.png")
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	_, err = loader.Load(context.Background(), srv.URL+"/page")
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "Content-Type")

	_, err = loader.Load(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestLoader_LoadURLRespectsMaxBytes(t *testing.T) {
	data := pngBytes(t, createTestImage(128, 128))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	cfg := DefaultLoaderConfig()
	cfg.MaxBytes = 16
	_, err := NewLoaderWithConfig(cfg, nil).Load(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than")
}

func TestLoader_ReadSource(t *testing.T) {
	data := pngBytes(t, createTestImage(70, 70))
	got, err := NewLoader().ReadSource(context.Background(), DataURI("image/png", data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x01, 0x02}
	tests := []struct {
		name    string
		encoded string
	}{
		{"std padded", base64.StdEncoding.EncodeToString(raw)},
		{"std raw", base64.RawStdEncoding.EncodeToString(raw)},
		{"url padded", base64.URLEncoding.EncodeToString(raw)},
		{"url raw", base64.RawURLEncoding.EncodeToString(raw)},
		{"with newlines", base64.StdEncoding.EncodeToString(raw)[:4] + "\n" + base64.StdEncoding.EncodeToString(raw)[4:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64(tt.encoded)
			require.NoError(t, err)
			assert.Equal(t, raw, got)
		})
	}

	_, err := DecodeBase64("!!!")
	assert.Error(t, err)
}

func TestApplyOrientation(t *testing.T) {
	src := createTestImage(40, 20)

	tests := []struct {
		orientation int
		wantW       int
		wantH       int
	}{
		{1, 40, 20},
		{2, 40, 20},
		{3, 40, 20},
		{4, 40, 20},
		{5, 20, 40},
		{6, 20, 40},
		{7, 20, 40},
		{8, 20, 40},
	}
	for _, tt := range tests {
		out := applyOrientation(src, tt.orientation)
		assert.Equal(t, tt.wantW, out.Bounds().Dx(), "orientation %d", tt.orientation)
		assert.Equal(t, tt.wantH, out.Bounds().Dy(), "orientation %d", tt.orientation)
	}

	// 6 rotates 90 degrees clockwise: the top-left pixel moves to the top-right
	rotated := applyOrientation(src, 6)
	assert.Equal(t, src.NRGBAAt(0, 0), color.NRGBAModel.Convert(rotated.At(19, 0)))
}

func TestReadOrientationWithoutExif(t *testing.T) {
	assert.Equal(t, 0, readOrientation(pngBytes(t, createTestImage(10, 10))))
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(createTestImage(30, 40))
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 30, cfg.Width)
	assert.Equal(t, 40, cfg.Height)
}

func TestEncodeImageDownscales(t *testing.T) {
	data, err := EncodeImage(createTestImage(400, 200), "jpg", 100, 80)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	b64, err := EncodeBase64(createTestImage(10, 10), "png", 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, b64)
}

func TestSaveImage(t *testing.T) {
	dir := t.TempDir()
	img := createTestImage(50, 50)

	for _, format := range []string{"png", "jpg"} {
		path := filepath.Join(dir, "out."+format)
		require.NoError(t, SaveImage(img, path, format, 90, false))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	assert.Error(t, SaveImage(img, filepath.Join(dir, "out.tiff"), "tiff", 90, false))
}

func TestDebugOverlay(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	det := &types.FaceDetection{
		Box: types.Rect{X: 50, Y: 50, W: 100, H: 100},
		Landmarks: types.Landmarks{
			LeftEye:  []types.Point{{X: 80, Y: 90}},
			RightEye: []types.Point{{X: 120, Y: 90}},
		},
	}
	plan := &types.CropPlan{Source: types.Rect{X: 20, Y: 10, W: 160, H: 180}}

	out := DebugOverlay(src, det, plan)
	require.Equal(t, src.Bounds(), out.Bounds())

	assert.Equal(t, color.NRGBA{0, 255, 0, 255}, out.NRGBAAt(100, 50), "face box top edge")
	assert.Equal(t, color.NRGBA{255, 204, 0, 255}, out.NRGBAAt(100, 10), "crop top edge")
	assert.Equal(t, color.NRGBA{0, 170, 255, 255}, out.NRGBAAt(30, 90), "eye line")
	assert.Equal(t, color.NRGBA{}, src.NRGBAAt(100, 50), "source untouched")

	// no detection still draws the plan
	out = DebugOverlay(src, nil, plan)
	assert.Equal(t, color.NRGBA{255, 204, 0, 255}, out.NRGBAAt(100, 10))
}
