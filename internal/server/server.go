// Package server exposes passport photo generation over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	passportphoto "github.com/Priyanka-collab/passport-photo-generator"
	"github.com/Priyanka-collab/passport-photo-generator/internal/config"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/compositor"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/enhance"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/pipeline"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	logKey          = "log"
)

// Server serves the passport photo API
type Server struct {
	gen    *passportphoto.Generator
	config config.ServerConfig
	log    logrus.FieldLogger
	router *gin.Engine
}

// New creates a server around a generator
func New(gen *passportphoto.Generator, cfg config.ServerConfig, log logrus.FieldLogger) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	s := &Server{gen: gen, config: cfg, log: log}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestContext(), s.cors())

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.POST("/passport", s.passport)
	api.POST("/enhance", s.enhance)

	s.router = router
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured port until ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("passport photo server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestContext tags every request with an ID and logs its outcome
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, id)
		entry := s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		c.Set(logKey, entry)

		start := time.Now()
		c.Next()

		entry.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).Debug("request finished")
	}
}

func (s *Server) cors() gin.HandlerFunc {
	origin := s.config.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, X-Request-ID, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
		if origin != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLog(c *gin.Context) logrus.FieldLogger {
	if v, ok := c.Get(logKey); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return logrus.StandardLogger()
}

func (s *Server) health(c *gin.Context) {
	h := s.gen.Health()
	c.JSON(http.StatusOK, gin.H{
		"ok":                 true,
		"enhancement":        h.Enabled,
		"hasKey":             h.HasKey,
		"apiUrl":             h.URL,
		"looksLikeModelPage": h.LooksLikeModelPage,
		"version":            passportphoto.GetVersion(),
	})
}

// passport generates a passport photo from a multipart upload:
// image (required), background, width, height, enhance, prompt, attire
func (s *Server) passport(c *gin.Context) {
	log := requestLog(c)

	data, err := s.readFile(c, "image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.outputSpec(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := s.gen.Pipeline()
	var opts []pipeline.Option
	if !formBool(c.PostForm("enhance")) {
		opts = append(opts, pipeline.WithEnhancer(enhance.Disabled{}))
	}
	if prompt, attire := c.PostForm("prompt"), c.PostForm("attire"); prompt != "" || attire != "" {
		opts = append(opts, pipeline.WithEnhancementPrompt(
			passportphoto.EnhancementPrompt(config.EnhancementConfig{Prompt: prompt, Attire: attire}),
			c.PostForm("negative_prompt"),
		))
	}
	if len(opts) > 0 {
		p = p.With(opts...)
	}
	p = p.With(pipeline.WithLogger(log))

	res, err := p.Generate(c.Request.Context(), pipeline.SourceFromBytes(data), out)
	if err != nil {
		status := statusFor(err)
		log.WithError(err).WithField("status", status).Warn("passport photo failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", `inline; filename="passport.png"`)
	c.Data(http.StatusOK, "image/png", res.PNG)
}

// enhance proxies one request to the enhancement service and answers with
// {"images": [dataURI]}
func (s *Server) enhance(c *gin.Context) {
	log := requestLog(c)
	gw := s.gen.Pipeline().Enhancer()
	if !enhance.Available(gw) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enhancement service not configured"})
		return
	}

	img, err := s.readFile(c, "image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := enhance.Request{
		Image:          img,
		Prompt:         c.PostForm("prompt"),
		NegativePrompt: c.PostForm("negative_prompt"),
	}
	if req.Prompt == "" {
		req.Prompt = passportphoto.EnhancementPrompt(config.EnhancementConfig{Attire: c.PostForm("attire")})
	}
	if form := c.Request.MultipartForm; form != nil && len(form.File["mask"]) > 0 {
		if req.Mask, err = s.readFile(c, "mask"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Width, err = formInt(c, "width", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Height, err = formInt(c, "height", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Width < 0 || req.Height < 0 || req.Width > types.MaxDimension || req.Height > types.MaxDimension {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid size %dx%d", req.Width, req.Height)})
		return
	}

	switch r := gw.Enhance(c.Request.Context(), req).(type) {
	case enhance.Success:
		mime := http.DetectContentType(r.Image)
		c.JSON(http.StatusOK, gin.H{"images": []string{processing.DataURI(mime, r.Image)}})
	case enhance.Failure:
		log.WithError(r.Err()).Warn("enhancement failed")
		status := http.StatusBadGateway
		var upstream *enhance.UpstreamError
		if errors.As(r.Err(), &upstream) && upstream.Status >= 400 && upstream.Status < 600 {
			status = upstream.Status
		}
		c.JSON(status, gin.H{"error": "enhancement failed", "detail": r.Err().Error()})
	}
}

func (s *Server) readFile(c *gin.Context, field string) ([]byte, error) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s is missing", field)
	}
	defer file.Close()
	return readLimited(file, header, int64(s.config.MaxUploadMB)<<20)
}

func readLimited(file multipart.File, header *multipart.FileHeader, limit int64) ([]byte, error) {
	if header.Size > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", header.Filename, limit)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", header.Filename, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", header.Filename, limit)
	}
	return data, nil
}

func (s *Server) outputSpec(c *gin.Context) (types.OutputSpec, error) {
	out := s.gen.DefaultOutput()

	if bg := c.PostForm("background"); bg != "" {
		col, err := compositor.ParseColor(bg)
		if err != nil {
			return out, err
		}
		out.Background = col
	}
	var err error
	if out.Width, err = formInt(c, "width", out.Width); err != nil {
		return out, err
	}
	if out.Height, err = formInt(c, "height", out.Height); err != nil {
		return out, err
	}
	return out, out.Validate()
}

func formInt(c *gin.Context, field string, def int) (int, error) {
	v := strings.TrimSpace(c.PostForm(field))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, v)
	}
	return n, nil
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func statusFor(err error) int {
	switch {
	case processing.IsDecodeError(err):
		return http.StatusBadRequest
	case errors.Is(err, analyzer.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
