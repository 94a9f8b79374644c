package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testRequest(t *testing.T) Request {
	return Request{
		Image:  createTestPNG(t, 12, 16),
		Mask:   createTestPNG(t, 12, 16),
		Prompt: DefaultPrompt,
		Width:  1200,
		Height: 1600,
	}
}

func TestResultTypes(t *testing.T) {
	var r Result = Success{Image: []byte{1}}
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())

	r = Failure{Reason: errors.New("boom")}
	assert.False(t, r.OK())
	assert.ErrorIs(t, r.Err(), ErrEnhancementUnavailable)
	assert.Contains(t, r.Err().Error(), "boom")

	r = Failure{}
	assert.ErrorIs(t, r.Err(), ErrEnhancementUnavailable)

	up := Failure{Reason: &UpstreamError{Status: 500, Detail: "down"}}
	var ue *UpstreamError
	require.ErrorAs(t, up.Err(), &ue)
	assert.Equal(t, 500, ue.Status)
}

func TestDisabled(t *testing.T) {
	res := Disabled{}.Enhance(context.Background(), Request{})
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), ErrEnhancementUnavailable)

	assert.False(t, Available(nil))
	assert.False(t, Available(Disabled{}))
	assert.True(t, Available(NewHTTPGateway(Config{URL: "http://localhost"}, nil)))
	assert.False(t, Disabled{}.Health().Enabled)
}

func TestHTTPGateway_ImageResponse(t *testing.T) {
	out := createTestPNG(t, 30, 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, DefaultPrompt, r.FormValue("prompt"))
		assert.Equal(t, "1200", r.FormValue("width"))
		assert.Equal(t, "1600", r.FormValue("height"))
		assert.Empty(t, r.FormValue("negative_prompt"))

		_, imgHeader, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "init.png", imgHeader.Filename)
		_, _, err = r.FormFile("mask")
		require.NoError(t, err)

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(Config{URL: srv.URL, APIKey: "secret"}, nil)
	res := gw.Enhance(context.Background(), testRequest(t))
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, out, res.(Success).Image)
}

func TestHTTPGateway_JSONResponses(t *testing.T) {
	out := createTestPNG(t, 20, 20)
	b64 := base64.StdEncoding.EncodeToString(out)
	bytesArr := make([]int, len(out))
	for i, b := range out {
		bytesArr[i] = int(b)
	}

	tests := []struct {
		name string
		body any
	}{
		{"images data uri", map[string]any{"images": []string{"data:image/png;base64," + b64}}},
		{"images raw base64", map[string]any{"images": []string{b64}}},
		{"outputs url-safe unpadded", map[string]any{"outputs": []string{base64.RawURLEncoding.EncodeToString(out)}}},
		{"data field", map[string]any{"data": b64}},
		{"image field", map[string]any{"image": b64}},
		{"nested", map[string]any{"result": map[string]any{"meta": "x", "payload": []any{b64}}}},
		{"byte array", map[string]any{"data": bytesArr}},
		{"node buffer", map[string]any{"result": map[string]any{"type": "Buffer", "data": bytesArr}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			res := NewHTTPGateway(Config{URL: srv.URL}, nil).Enhance(context.Background(), testRequest(t))
			require.True(t, res.OK(), "%v", res.Err())
			assert.Equal(t, out, res.(Success).Image)
		})
	}
}

func TestHTTPGateway_JSONRequest(t *testing.T) {
	out := createTestPNG(t, 20, 20)
	req := testRequest(t)
	req.NegativePrompt = "blurry"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			InitImages     []string `json:"init_images"`
			Mask           string   `json:"mask"`
			Prompt         string   `json:"prompt"`
			NegativePrompt string   `json:"negative_prompt"`
			Width          int      `json:"width"`
			Height         int      `json:"height"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.InitImages, 1)
		assert.Equal(t, base64.StdEncoding.EncodeToString(req.Image), body.InitImages[0])
		assert.Equal(t, base64.StdEncoding.EncodeToString(req.Mask), body.Mask)
		assert.Equal(t, DefaultPrompt, body.Prompt)
		assert.Equal(t, "blurry", body.NegativePrompt)
		assert.Equal(t, 1200, body.Width)
		assert.Equal(t, 1600, body.Height)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{base64.StdEncoding.EncodeToString(out)}})
	}))
	defer srv.Close()

	res := NewHTTPGateway(Config{URL: srv.URL, APIKey: "secret", Format: FormatJSON}, nil).Enhance(context.Background(), req)
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, out, res.(Success).Image)

	res = NewHTTPGateway(Config{URL: srv.URL, Format: "xml"}, nil).Enhance(context.Background(), req)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), ErrEnhancementUnavailable)
}

func TestHTTPGateway_ResultURL(t *testing.T) {
	out := createTestPNG(t, 10, 10)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{srv.URL + "/result.png"}})
	})
	mux.HandleFunc("/result.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(out)
	})

	res := NewHTTPGateway(Config{URL: srv.URL + "/generate", APIKey: "k"}, nil).Enhance(context.Background(), testRequest(t))
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, out, res.(Success).Image)
}

func TestHTTPGateway_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
			},
			check: func(t *testing.T, err error) {
				var ue *UpstreamError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, 500, ue.Status)
				assert.Equal(t, "model overloaded", ue.Detail)
			},
		},
		{
			name: "buffer detail",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"detail":{"type":"Buffer","data":[110,111,32,105,109,97,103,101]}}`))
			},
			check: func(t *testing.T, err error) {
				var ue *UpstreamError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, "no image", ue.Detail)
			},
		},
		{
			name: "json without image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"ok","images":[]}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoImage)
			},
		},
		{
			name: "html page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html><body>hello</body></html>"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoImage)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res := NewHTTPGateway(Config{URL: srv.URL}, nil).Enhance(context.Background(), testRequest(t))
			require.False(t, res.OK())
			assert.ErrorIs(t, res.Err(), ErrEnhancementUnavailable)
			tt.check(t, res.Err())
		})
	}
}

func TestHTTPGateway_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gw := NewHTTPGateway(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	res := gw.Enhance(context.Background(), testRequest(t))
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), ErrEnhancementUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPGateway_ConfigErrors(t *testing.T) {
	res := NewHTTPGateway(Config{}, nil).Enhance(context.Background(), testRequest(t))
	assert.ErrorIs(t, res.Err(), ErrEnhancementUnavailable)

	page := NewHTTPGateway(Config{URL: "https://www.segmind.com/models/qwen-image-edit-plus"}, nil)
	res = page.Enhance(context.Background(), testRequest(t))
	assert.ErrorIs(t, res.Err(), ErrModelPageURL)

	res = NewHTTPGateway(Config{URL: "http://localhost"}, nil).Enhance(context.Background(), Request{})
	assert.False(t, res.OK())
}

func TestHealth(t *testing.T) {
	h := NewHTTPGateway(Config{URL: "https://www.segmind.com/models/x", APIKey: "k"}, nil).Health()
	assert.True(t, h.Enabled)
	assert.True(t, h.HasKey)
	assert.True(t, h.LooksLikeModelPage)
	assert.False(t, h.OK)

	h = NewHTTPGateway(Config{URL: "https://api.segmind.com/v1/image/edit"}, nil).Health()
	assert.False(t, h.HasKey)
	assert.False(t, h.LooksLikeModelPage)
	assert.True(t, h.OK)
}

func TestPromptFor(t *testing.T) {
	assert.Contains(t, PromptFor("tux"), "tuxedo")
	assert.Equal(t, PromptFor("tux"), PromptFor("Tuxedo"))
	assert.Equal(t, PromptFor("tux"), PromptFor("male"))
	assert.Contains(t, PromptFor("woman"), "blouse")
	assert.Contains(t, PromptFor("business"), "business attire")
	assert.NotContains(t, PromptFor(""), "Dress")
	assert.Equal(t, PromptFor(""), PromptFor("pirate"))
	assert.Contains(t, DefaultPrompt, "white studio background")
	assert.Len(t, Attires(), 3)
}

type stubSegmenter struct {
	mask *types.SegmentationMask
	err  error
}

func (s stubSegmenter) Segment(context.Context, image.Image) (*types.SegmentationMask, error) {
	return s.mask, s.err
}

func decodePNG(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	out := image.NewNRGBA(img.Bounds())
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func TestPreparePayload(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 100
	}
	white := color.NRGBA{255, 255, 255, 255}

	t.Run("no segmenter", func(t *testing.T) {
		req, err := PreparePayload(context.Background(), src, white, vision.None{})
		require.NoError(t, err)
		mask := decodePNG(t, req.Mask)
		assert.Equal(t, white, mask.NRGBAAt(0, 0))
		assert.Equal(t, white, mask.NRGBAAt(3, 3))
		assert.NotEmpty(t, req.Image)
	})

	t.Run("segmenter fails", func(t *testing.T) {
		req, err := PreparePayload(context.Background(), src, white, stubSegmenter{err: errors.New("no model")})
		require.NoError(t, err)
		assert.Equal(t, white, decodePNG(t, req.Mask).NRGBAAt(2, 2))
	})

	t.Run("with mask", func(t *testing.T) {
		m := types.NewSegmentationMask(4, 4)
		m.Set(1, 1, true)
		req, err := PreparePayload(context.Background(), src, white, stubSegmenter{mask: m})
		require.NoError(t, err)
		mask := decodePNG(t, req.Mask)
		assert.Equal(t, white, mask.NRGBAAt(1, 1))
		assert.Equal(t, color.NRGBA{0, 0, 0, 255}, mask.NRGBAAt(0, 0))
		initImg := decodePNG(t, req.Image)
		assert.Equal(t, white, initImg.NRGBAAt(0, 0))
	})

	t.Run("mismatched mask", func(t *testing.T) {
		req, err := PreparePayload(context.Background(), src, white, stubSegmenter{mask: types.NewSegmentationMask(2, 2)})
		require.NoError(t, err)
		assert.Equal(t, white, decodePNG(t, req.Mask).NRGBAAt(0, 0))
	})
}
