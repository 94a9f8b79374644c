// Package passportphoto turns an ordinary portrait into a standardized
// passport photo: a fixed-size, fully opaque PNG with the face centered, the
// eyes on a fixed line and a solid background.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		passportphoto "github.com/Priyanka-collab/passport-photo-generator"
//		"github.com/Priyanka-collab/passport-photo-generator/pkg/compreface"
//		"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
//	)
//
//	func main() {
//		client := compreface.NewClient(compreface.Config{URL: "http://localhost:8000", APIKey: "..."}, nil)
//		gen := passportphoto.New(compreface.NewAnalyzer(client))
//
//		if err := gen.GenerateFile(context.Background(), "selfie.jpg", "passport.png", types.DefaultOutputSpec()); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The work is split across packages:
//
//  1. Loader (pkg/processing): reads files, URLs and data URIs, applies EXIF orientation
//  2. Face analyzers (pkg/analyzer and its backends): CompreFace, pigo or a vision LLM
//  3. Segmenter (pkg/vision): separates the person from a plain backdrop
//  4. Compositor (pkg/compositor): solid background fill and mask compositing
//  5. Crop planner (pkg/cropper): face-relative framing and rendering
//  6. Enhancement gateway (pkg/enhance): optional image-generation service
//  7. Pipeline (pkg/pipeline): orchestration with graceful fallback
package passportphoto

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Priyanka-collab/passport-photo-generator/internal/config"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/compreface"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/cropper"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/detection"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/enhance"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/facefinder"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/llamacpp"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/ollama"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/pipeline"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/vision"
	"github.com/sirupsen/logrus"
)

// Version of the passport photo generator
const Version = "1.0.0"

// Generator provides a high-level interface for passport photo generation
type Generator struct {
	pipeline *pipeline.Pipeline
	output   types.OutputSpec
	log      logrus.FieldLogger
}

// New creates a Generator around a face analyzer with default framing and
// no segmentation or enhancement unless opts add them
func New(fa analyzer.FaceAnalyzer, opts ...pipeline.Option) *Generator {
	l := logrus.New()
	l.SetOutput(io.Discard)
	opts = append([]pipeline.Option{pipeline.WithLogger(l)}, opts...)
	return &Generator{
		pipeline: pipeline.New(fa, opts...),
		output:   types.DefaultOutputSpec(),
		log:      l,
	}
}

// NewWithConfig wires every component from cfg
func NewWithConfig(cfg *config.Config, log logrus.FieldLogger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	out, err := cfg.OutputSpec()
	if err != nil {
		return nil, err
	}

	fa, err := BuildAnalyzer(cfg.Analyzer, log)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithPlanner(cropper.NewWithConfig(cfg.Crop)),
		pipeline.WithEnhancementSize(cfg.Enhancement.Width, cfg.Enhancement.Height),
		pipeline.WithEnhancementPrompt(EnhancementPrompt(cfg.Enhancement), cfg.Enhancement.NegativePrompt),
	}
	if cfg.Segmenter.Enabled {
		opts = append(opts, pipeline.WithSegmenter(vision.NewBackdropSegmenterWithConfig(cfg.Segmenter.Config)))
	}
	if cfg.Enhancement.Enabled {
		opts = append(opts, pipeline.WithEnhancer(BuildEnhancer(cfg.Enhancement, log)))
	}

	return &Generator{
		pipeline: pipeline.New(fa, opts...),
		output:   out,
		log:      log,
	}, nil
}

// BuildAnalyzer chains the configured face analysis backends in order. A
// backend that cannot be constructed is logged and left out; with no usable
// backend the result is analyzer.Unavailable.
func BuildAnalyzer(cfg config.AnalyzerConfig, log logrus.FieldLogger) (analyzer.FaceAnalyzer, error) {
	var backends []analyzer.Backend
	for _, name := range cfg.Backends {
		fa, err := buildBackend(name, cfg, log)
		if err != nil {
			log.WithError(err).WithField("backend", name).Warn("face analyzer backend disabled")
			continue
		}
		backends = append(backends, analyzer.Backend{Name: name, Analyzer: fa})
	}

	if len(backends) == 0 {
		return analyzer.Unavailable{Reason: "no face analyzer backend available"}, nil
	}
	return analyzer.NewChain(log, backends...), nil
}

func buildBackend(name string, cfg config.AnalyzerConfig, log logrus.FieldLogger) (analyzer.FaceAnalyzer, error) {
	switch name {
	case config.BackendCompreFace:
		client := compreface.NewClient(compreface.Config{
			URL:              config.ResolveServiceURL(cfg.CompreFace.URL, "compreface-api", "8000"),
			APIKey:           cfg.CompreFace.APIKey,
			DetProbThreshold: cfg.CompreFace.DetProbThreshold,
			Timeout:          time.Duration(cfg.CompreFace.TimeoutSeconds) * time.Second,
		}, log.WithField("backend", name))
		return compreface.NewAnalyzer(client), nil

	case config.BackendFacefinder:
		d, err := facefinder.New(facefinder.Config{
			FacefinderPath: cfg.Facefinder.CascadePath,
			PuplocPath:     cfg.Facefinder.PuplocPath,
			MaxDimension:   cfg.Facefinder.MaxDimension,
		})
		if err != nil {
			return nil, err
		}
		return d, nil

	case config.BackendOllama:
		client, err := ollama.NewClient(cfg.Vision.OllamaURL, log.WithField("backend", name))
		if err != nil {
			return nil, err
		}
		return detection.NewFaceLocator(client, detection.Config{Model: cfg.Vision.Model}, log), nil

	case config.BackendLlamaCpp:
		client, err := llamacpp.NewClient(cfg.Vision.LlamaCppURL, log.WithField("backend", name))
		if err != nil {
			return nil, err
		}
		return detection.NewFaceLocator(client, detection.Config{Model: cfg.Vision.Model}, log), nil
	}
	return nil, fmt.Errorf("unknown face analyzer backend %q", name)
}

// BuildEnhancer returns the HTTP enhancement gateway for cfg
func BuildEnhancer(cfg config.EnhancementConfig, log logrus.FieldLogger) enhance.Gateway {
	return enhance.NewHTTPGateway(enhance.Config{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Format:  cfg.Format,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, log)
}

// EnhancementPrompt picks the prompt: an explicit prompt, else the attire
// preset, else enhance.DefaultPrompt
func EnhancementPrompt(cfg config.EnhancementConfig) string {
	switch {
	case cfg.Prompt != "":
		return cfg.Prompt
	case cfg.Attire != "":
		return enhance.PromptFor(cfg.Attire)
	}
	return enhance.DefaultPrompt
}

// Pipeline returns the underlying pipeline
func (g *Generator) Pipeline() *pipeline.Pipeline {
	return g.pipeline
}

// DefaultOutput returns the configured output frame
func (g *Generator) DefaultOutput() types.OutputSpec {
	return g.output
}

// Generate produces the passport photo for src
func (g *Generator) Generate(ctx context.Context, src pipeline.Source, out types.OutputSpec) (*types.PipelineResult, error) {
	return g.pipeline.Generate(ctx, src, out)
}

// Analyze returns the framing decision for src without rendering
func (g *Generator) Analyze(ctx context.Context, src pipeline.Source, out types.OutputSpec) (*pipeline.Analysis, error) {
	return g.pipeline.Analyze(ctx, src, out)
}

// GenerateFile reads input (path, URL or data URI) and writes the PNG to output
func (g *Generator) GenerateFile(ctx context.Context, input, output string, out types.OutputSpec) error {
	res, err := g.Generate(ctx, pipeline.SourceFromPath(input), out)
	if err != nil {
		return err
	}
	return processing.WritePNG(output, res.PNG)
}

// Health reports the enhancement gateway configuration
func (g *Generator) Health() enhance.Health {
	if h, ok := g.pipeline.Enhancer().(interface{ Health() enhance.Health }); ok {
		return h.Health()
	}
	return enhance.Health{Enabled: enhance.Available(g.pipeline.Enhancer())}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
