package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single enhancement call
const DefaultTimeout = 120 * time.Second

// Request encodings accepted by HTTPGateway
const (
	// FormatMultipart posts image and mask files with form fields
	FormatMultipart = "multipart"
	// FormatJSON posts {init_images, mask, prompt, negative_prompt, width, height}
	// with base64 images and expects {images: [base64]} back
	FormatJSON = "json"
)

var modelPageRe = regexp.MustCompile(`segmind\.com/models/`)

// Config holds the enhancement service settings
type Config struct {
	URL     string        `json:"url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
	// Format is FormatMultipart (default) or FormatJSON
	Format string `json:"format"`
	// MaxResponseBytes caps the accepted response body (0 means 64 MiB)
	MaxResponseBytes int64 `json:"max_response_bytes"`
}

// Health summarizes the gateway configuration without exposing secrets
type Health struct {
	OK                 bool   `json:"ok"`
	Enabled            bool   `json:"enabled"`
	HasKey             bool   `json:"hasKey"`
	URL                string `json:"apiUrl"`
	LooksLikeModelPage bool   `json:"looksLikeModelPage"`
}

// LooksLikeModelPage reports whether url is a model web page rather than an API endpoint
func LooksLikeModelPage(url string) bool {
	return modelPageRe.MatchString(url)
}

// HTTPGateway posts multipart requests to an image-generation endpoint
type HTTPGateway struct {
	config Config
	client *resty.Client
	log    logrus.FieldLogger
}

// NewHTTPGateway creates a gateway for the configured endpoint
func NewHTTPGateway(config Config, log logrus.FieldLogger) *HTTPGateway {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Format == "" {
		config.Format = FormatMultipart
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = 64 << 20
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", "passport-photo/1.0").
		SetHeader("Accept", "application/json, image/*")
	return &HTTPGateway{config: config, client: client, log: log}
}

// Health reports the configuration status
func (g *HTTPGateway) Health() Health {
	page := LooksLikeModelPage(g.config.URL)
	return Health{
		OK:                 g.config.URL != "" && !page,
		Enabled:            true,
		HasKey:             g.config.APIKey != "",
		URL:                g.config.URL,
		LooksLikeModelPage: page,
	}
}

// Enhance sends the request and extracts the returned image
func (g *HTTPGateway) Enhance(ctx context.Context, req Request) Result {
	if g.config.URL == "" {
		return Fail("enhancement URL not configured")
	}
	if LooksLikeModelPage(g.config.URL) {
		return Failure{Reason: ErrModelPageURL}
	}
	if len(req.Image) == 0 {
		return Fail("empty init image")
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	r := g.client.R().SetContext(ctx)
	switch g.config.Format {
	case FormatMultipart:
		multipartBody(r, req)
	case FormatJSON:
		r.SetBody(jsonBody(req))
	default:
		return Fail("unknown request format %q", g.config.Format)
	}
	if g.config.APIKey != "" {
		r.SetAuthToken(g.config.APIKey)
	}

	log := g.log.WithFields(logrus.Fields{"url": g.config.URL, "format": g.config.Format, "width": req.Width, "height": req.Height})
	log.Debug("posting enhancement request")
	start := time.Now()

	resp, err := r.Post(g.config.URL)
	if err != nil {
		log.WithError(err).Warn("enhancement request failed")
		return Failure{Reason: err}
	}

	log = log.WithFields(logrus.Fields{"status": resp.StatusCode(), "elapsed": time.Since(start).Round(time.Millisecond)})
	body := resp.Body()
	if int64(len(body)) > g.config.MaxResponseBytes {
		log.Warn("enhancement response too large")
		return Fail("enhancement response larger than %d bytes", g.config.MaxResponseBytes)
	}
	if !resp.IsSuccess() {
		uerr := &UpstreamError{Status: resp.StatusCode(), Detail: errorDetail(body)}
		log.WithError(uerr).Warn("enhancement service error")
		return Failure{Reason: uerr}
	}

	img, err := extractImage(resp.Header().Get("Content-Type"), body)
	if err != nil {
		log.WithError(err).Warn("unusable enhancement response")
		return Failure{Reason: err}
	}

	if u, ok := img.url(); ok {
		data, err := g.download(ctx, u)
		if err != nil {
			log.WithError(err).Warn("failed to fetch enhanced image")
			return Failure{Reason: err}
		}
		img = imageRef{data: data}
	}

	log.WithField("bytes", len(img.data)).Debug("enhancement succeeded")
	return Success{Image: img.data}
}

func multipartBody(r *resty.Request, req Request) {
	form := map[string]string{"prompt": req.Prompt}
	if req.NegativePrompt != "" {
		form["negative_prompt"] = req.NegativePrompt
	}
	if req.Width > 0 {
		form["width"] = strconv.Itoa(req.Width)
	}
	if req.Height > 0 {
		form["height"] = strconv.Itoa(req.Height)
	}

	r.SetFileReader("image", "init.png", bytes.NewReader(req.Image)).
		SetFormData(form)
	if len(req.Mask) > 0 {
		r.SetFileReader("mask", "mask.png", bytes.NewReader(req.Mask))
	}
}

type jsonRequest struct {
	InitImages     []string `json:"init_images"`
	Mask           string   `json:"mask,omitempty"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
}

func jsonBody(req Request) jsonRequest {
	body := jsonRequest{
		InitImages:     []string{base64.StdEncoding.EncodeToString(req.Image)},
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
	}
	if len(req.Mask) > 0 {
		body.Mask = base64.StdEncoding.EncodeToString(req.Mask)
	}
	return body
}

func (g *HTTPGateway) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := g.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &UpstreamError{Status: resp.StatusCode(), Detail: errorDetail(resp.Body())}
	}
	if int64(len(resp.Body())) > g.config.MaxResponseBytes {
		return nil, fmt.Errorf("image larger than %d bytes", g.config.MaxResponseBytes)
	}
	if !looksLikeImage(resp.Body()) {
		return nil, ErrNoImage
	}
	return resp.Body(), nil
}

// trimDetail shortens upstream error text for logs and errors
func trimDetail(s string) string {
	s = strings.TrimSpace(s)
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
