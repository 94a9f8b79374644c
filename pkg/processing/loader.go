package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

// DecodeError reports a source that could not be turned into an image
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is or wraps a *DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// LoaderConfig holds loader limits
type LoaderConfig struct {
	// MinImageSize rejects images whose shorter side is smaller (0 disables)
	MinImageSize int
	// MaxPixels rejects images with more pixels, checked from the header
	// before decoding (0 disables)
	MaxPixels int
	// MaxBytes caps remote downloads and data URIs
	MaxBytes int64
	// Timeout for remote sources
	Timeout time.Duration
	// AutoOrient applies the EXIF orientation tag
	AutoOrient bool
}

// DefaultLoaderConfig returns the loader defaults
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		MinImageSize: 64,
		MaxPixels:    50_000_000,
		MaxBytes:     25 << 20,
		Timeout:      30 * time.Second,
		AutoOrient:   true,
	}
}

// Loader decodes image sources into rasters
type Loader struct {
	config     LoaderConfig
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewLoader creates a loader with default configuration
func NewLoader() *Loader {
	return NewLoaderWithConfig(DefaultLoaderConfig(), nil)
}

// NewLoaderWithConfig creates a loader with custom configuration
func NewLoaderWithConfig(config LoaderConfig, log logrus.FieldLogger) *Loader {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Loader{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		log:        log,
	}
}

// Load loads an image from a file path, an http(s) URL or a data URI
func (l *Loader) Load(ctx context.Context, source string) (image.Image, error) {
	data, err := l.ReadSource(ctx, source)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(source, "data:") {
		source = "data URI"
	}
	return l.decode(source, data)
}

// LoadBytes decodes an in-memory encoded image
func (l *Loader) LoadBytes(data []byte) (image.Image, error) {
	return l.decode("", data)
}

// ReadSource returns the raw encoded bytes of a source without decoding it
func (l *Loader) ReadSource(ctx context.Context, source string) ([]byte, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, err := l.fetch(ctx, source)
		if err != nil {
			return nil, &DecodeError{Source: source, Err: err}
		}
		return data, nil
	case strings.HasPrefix(source, "data:"):
		data, err := decodeDataURI(source, l.config.MaxBytes)
		if err != nil {
			return nil, &DecodeError{Source: "data URI", Err: err}
		}
		return data, nil
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, &DecodeError{Source: source, Err: err}
		}
		return data, nil
	}
}

func (l *Loader) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "passport-photo/1.0")

	l.log.WithField("url", imageURL).Debug("downloading image")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	var body io.Reader = resp.Body
	if l.config.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, l.config.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if l.config.MaxBytes > 0 && int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", l.config.MaxBytes)
	}
	return data, nil
}

func (l *Loader) decode(source string, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Source: source, Err: errors.New("empty image data")}
	}

	if max := l.config.MaxPixels; max > 0 {
		if w, h, ok := imageSize(data); ok && w*h > max {
			return nil, &DecodeError{Source: source, Err: fmt.Errorf("image too large: %dx%d (maximum: %d pixels)", w, h, max)}
		}
	}

	img, format, err := decodeImageFromBytes(data)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}

	if l.config.AutoOrient {
		if o := readOrientation(data); o > 1 {
			l.log.WithFields(logrus.Fields{"source": source, "orientation": o}).Debug("applying EXIF orientation")
			img = applyOrientation(img, o)
		}
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Source: source, Err: errors.New("image has no pixels")}
	}
	if min := l.config.MinImageSize; min > 0 && (b.Dx() < min || b.Dy() < min) {
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), min)}
	}

	l.log.WithFields(logrus.Fields{"source": source, "format": format, "width": b.Dx(), "height": b.Dy()}).Debug("image decoded")
	return img, nil
}

// imageSize reads the dimensions from the image header without decoding pixels
func imageSize(data []byte) (int, int, bool) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg.Width, cfg.Height, true
	}
	if w, h, _, err := webp.GetInfo(data); err == nil {
		return w, h, true
	}
	return 0, 0, false
}

// decodeImageFromBytes tries the registered decoders first, then the libwebp decoder
func decodeImageFromBytes(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}
	return nil, "", errors.New("unknown or unsupported image format")
}

func decodeDataURI(uri string, maxBytes int64) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errors.New("malformed data URI")
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]
	if !strings.HasPrefix(meta, "image/") && meta != "" && !strings.HasPrefix(meta, "application/octet-stream") {
		return nil, fmt.Errorf("data URI is not an image (%s)", meta)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("only base64 data URIs are supported")
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, fmt.Errorf("image larger than %d bytes", maxBytes)
	}
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not, with embedded whitespace
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		case '-':
			return '+'
		case '_':
			return '/'
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, nil
}

// readOrientation returns the EXIF orientation tag, or 0 when absent
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// applyOrientation maps EXIF orientation values 2-8 onto imaging transforms
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}
