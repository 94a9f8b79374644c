// Package pipeline turns a photo into a passport photo: optional enhancement,
// decoding, background compositing, face detection, framing and rendering.
//
// Pipeline itself keeps no state between calls. Interactive callers that let a
// user resubmit before the previous photo is ready should route each request
// through a Session, which publishes only the most recent result:
//
//	sess := pipeline.NewSession(log)
//	go sess.Run(ctx, p, pipeline.SourceFromBytes(data), out, func(res *types.PipelineResult, err error) {
//		// show res; never called for a superseded request
//	})
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/compositor"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/cropper"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/enhance"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/vision"
	"github.com/sirupsen/logrus"
)

// Default size requested from the enhancement service
const (
	DefaultEnhanceWidth  = 1200
	DefaultEnhanceHeight = 1600
)

// Source is the input photo: a locator (path, URL or data URI) or raw bytes
type Source struct {
	Locator string
	Data    []byte
}

// SourceFromPath references a file path, http(s) URL or data URI
func SourceFromPath(locator string) Source {
	return Source{Locator: locator}
}

// SourceFromBytes wraps encoded image bytes
func SourceFromBytes(data []byte) Source {
	return Source{Data: data}
}

func (s Source) String() string {
	if s.Locator != "" {
		return s.Locator
	}
	return fmt.Sprintf("<%d bytes>", len(s.Data))
}

// Analysis is the framing decision for one photo
type Analysis struct {
	// Composite is the photo over the background, at source resolution
	Composite *image.NRGBA
	Detection *types.FaceDetection
	Plan      types.CropPlan
	// Enhanced reports whether the enhancement service result was used
	Enhanced bool
	// Segmented reports whether a segmentation mask was applied
	Segmented bool
}

// Pipeline generates passport photos. It holds no per-call state and is safe
// for concurrent use.
type Pipeline struct {
	loader         *processing.Loader
	analyzer       analyzer.FaceAnalyzer
	segmenter      vision.Segmenter
	enhancer       enhance.Gateway
	planner        *cropper.Planner
	log            logrus.FieldLogger
	prompt         string
	negativePrompt string
	enhanceWidth   int
	enhanceHeight  int
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSegmenter sets the person segmenter
func WithSegmenter(s vision.Segmenter) Option {
	return func(p *Pipeline) { p.segmenter = s }
}

// WithEnhancer sets the enhancement gateway
func WithEnhancer(g enhance.Gateway) Option {
	return func(p *Pipeline) { p.enhancer = g }
}

// WithPlanner sets the crop planner
func WithPlanner(pl *cropper.Planner) Option {
	return func(p *Pipeline) { p.planner = pl }
}

// WithLoader sets the image loader
func WithLoader(l *processing.Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithEnhancementPrompt sets the prompts sent to the enhancement service
func WithEnhancementPrompt(prompt, negative string) Option {
	return func(p *Pipeline) {
		p.prompt = prompt
		p.negativePrompt = negative
	}
}

// WithEnhancementSize sets the image size requested from the enhancement service
func WithEnhancementSize(w, h int) Option {
	return func(p *Pipeline) {
		p.enhanceWidth = w
		p.enhanceHeight = h
	}
}

// New creates a pipeline around a face analyzer. A nil analyzer is replaced by
// analyzer.Unavailable, which makes every run fail with ErrNoFaceDetected.
func New(fa analyzer.FaceAnalyzer, opts ...Option) *Pipeline {
	p := &Pipeline{
		analyzer:      fa,
		segmenter:     vision.None{},
		enhancer:      enhance.Disabled{},
		planner:       cropper.New(),
		prompt:        enhance.DefaultPrompt,
		enhanceWidth:  DefaultEnhanceWidth,
		enhanceHeight: DefaultEnhanceHeight,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.analyzer == nil {
		p.analyzer = analyzer.Unavailable{Reason: "no face analyzer configured"}
	}
	if p.segmenter == nil {
		p.segmenter = vision.None{}
	}
	if p.enhancer == nil {
		p.enhancer = enhance.Disabled{}
	}
	if p.planner == nil {
		p.planner = cropper.New()
	}
	if p.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		p.log = l
	}
	if p.loader == nil {
		p.loader = processing.NewLoaderWithConfig(processing.DefaultLoaderConfig(), p.log)
	}
	return p
}

// With returns a copy of p with opts applied; p is unchanged
func (p *Pipeline) With(opts ...Option) *Pipeline {
	c := *p
	for _, opt := range opts {
		opt(&c)
	}
	if c.enhancer == nil {
		c.enhancer = enhance.Disabled{}
	}
	if c.segmenter == nil {
		c.segmenter = vision.None{}
	}
	return &c
}

// Enhancer returns the configured enhancement gateway
func (p *Pipeline) Enhancer() enhance.Gateway {
	return p.enhancer
}

// Generate produces the passport photo for src framed to out.
//
// Only a *processing.DecodeError, analyzer.ErrNoFaceDetected, an invalid
// OutputSpec or a context error are returned. Enhancement and segmentation
// failures are logged and the run continues without them.
func (p *Pipeline) Generate(ctx context.Context, src Source, out types.OutputSpec) (*types.PipelineResult, error) {
	start := time.Now()
	a, err := p.Analyze(ctx, src, out)
	if err != nil {
		return nil, err
	}

	res, err := p.Render(a, out)
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"source":    src.String(),
		"width":     out.Width,
		"height":    out.Height,
		"enhanced":  a.Enhanced,
		"segmented": a.Segmented,
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("passport photo generated")

	return res, nil
}

// Render draws an analysis into the output frame and encodes it as PNG
func (p *Pipeline) Render(a *Analysis, out types.OutputSpec) (*types.PipelineResult, error) {
	rendered, err := cropper.Render(a.Composite, a.Plan, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", analyzer.ErrNoFaceDetected, err)
	}
	flat := compositor.Flatten(rendered, out.Background, out.Width, out.Height)

	data, err := processing.EncodePNG(flat)
	if err != nil {
		return nil, err
	}
	return &types.PipelineResult{PNG: data, Width: out.Width, Height: out.Height}, nil
}

// Analyze runs every step up to and including crop planning
func (p *Pipeline) Analyze(ctx context.Context, src Source, out types.OutputSpec) (*Analysis, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}
	log := p.log.WithField("source", src.String())

	data := src.Data
	if data == nil {
		var err error
		data, err = p.loader.ReadSource(ctx, src.Locator)
		if err != nil {
			return nil, err
		}
	}

	img, err := p.loader.LoadBytes(data)
	if err != nil {
		var de *processing.DecodeError
		if errors.As(err, &de) && de.Source == "" {
			de.Source = src.Locator
		}
		return nil, err
	}

	a := &Analysis{}
	if enhanced := p.enhance(ctx, img, out, log); enhanced != nil {
		img = enhanced
		a.Enhanced = true
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comp, segmented := p.composite(ctx, img, out, log)
	a.Composite = comp
	a.Segmented = segmented
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	det, err := p.analyzer.Detect(ctx, comp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, analyzer.ErrNoFaceDetected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", analyzer.ErrNoFaceDetected, err)
	}
	if det == nil {
		return nil, analyzer.ErrNoFaceDetected
	}
	a.Detection = det

	b := comp.Bounds()
	plan, err := p.planner.Plan(det, b.Dx(), b.Dy(), out)
	if err != nil {
		if errors.Is(err, analyzer.ErrNoFaceDetected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", analyzer.ErrNoFaceDetected, err)
	}
	a.Plan = plan

	log.WithFields(logrus.Fields{
		"face":   det.Box,
		"source": plan.Source,
		"dest":   plan.Dest,
	}).Debug("crop planned")
	return a, nil
}

// enhance returns the enhanced image, or nil when the original should be used
func (p *Pipeline) enhance(ctx context.Context, img image.Image, out types.OutputSpec, log logrus.FieldLogger) image.Image {
	if !enhance.Available(p.enhancer) {
		return nil
	}

	req, err := enhance.PreparePayload(ctx, img, out.Background, p.segmenter)
	if err != nil {
		log.WithError(err).Warn("enhancement payload failed, using original photo")
		return nil
	}
	req.Prompt = p.prompt
	req.NegativePrompt = p.negativePrompt
	req.Width = p.enhanceWidth
	req.Height = p.enhanceHeight

	res := p.enhancer.Enhance(ctx, req)
	success, ok := res.(enhance.Success)
	if !ok {
		log.WithError(res.Err()).Warn("enhancement unavailable, using original photo")
		return nil
	}

	enhanced, err := p.loader.LoadBytes(success.Image)
	if err != nil {
		log.WithError(err).Warn("enhanced image unreadable, using original photo")
		return nil
	}
	log.Debug("using enhanced photo")
	return enhanced
}

// composite places img over the background, keeping only the person when a
// segmentation mask is available
func (p *Pipeline) composite(ctx context.Context, img image.Image, out types.OutputSpec, log logrus.FieldLogger) (*image.NRGBA, bool) {
	var mask *types.SegmentationMask
	if vision.Available(p.segmenter) {
		m, err := p.segmenter.Segment(ctx, img)
		if err != nil {
			log.WithError(err).Warn("segmentation failed, compositing full image")
		} else {
			mask = m
		}
	}

	comp, err := compositor.Composite(img, out.Background, mask)
	if err != nil {
		log.WithError(err).Error("mask rejected, compositing full image")
		comp, _ = compositor.Composite(img, out.Background, nil)
		mask = nil
	}
	return comp.Image, mask != nil
}
