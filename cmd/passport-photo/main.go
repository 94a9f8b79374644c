package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	passportphoto "github.com/Priyanka-collab/passport-photo-generator"
	"github.com/Priyanka-collab/passport-photo-generator/internal/config"
	"github.com/Priyanka-collab/passport-photo-generator/internal/logging"
	"github.com/Priyanka-collab/passport-photo-generator/internal/utils"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/analyzer"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/compositor"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/enhance"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/pipeline"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/processing"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/sirupsen/logrus"
)

func main() {
	var in, out, bg, prompt, attire, backends, configPath, logLevel, model, initConfig string
	var width, height int
	var doEnhance, segment, debug, version bool

	flag.StringVar(&in, "in", "", "input photo: file, http(s) URL, data URI or a directory for batch mode")
	flag.StringVar(&out, "out", "", "output .png file, or output directory (default from config)")
	flag.StringVar(&bg, "bg", "", backgroundUsage())
	flag.IntVar(&width, "width", 0, "output width in pixels (default from config)")
	flag.IntVar(&height, "height", 0, "output height in pixels (default from config)")

	flag.BoolVar(&doEnhance, "enhance", false, "send the photo to the enhancement service first")
	flag.StringVar(&prompt, "prompt", "", "enhancement prompt (overrides -attire)")
	flag.StringVar(&attire, "attire", "", attireUsage())

	flag.StringVar(&backends, "analyzer", "", "comma separated face analyzer backends: compreface,facefinder,ollama,llamacpp")
	flag.StringVar(&model, "model", "", "vision model name for the ollama and llamacpp backends")
	flag.BoolVar(&segment, "segment", false, "separate the person from a plain backdrop before compositing (-segment=false overrides the config file)")

	flag.StringVar(&configPath, "config", "", "config file (default "+config.GetConfigPath()+" when present)")
	flag.StringVar(&initConfig, "init-config", "", "write the effective configuration to this path and exit")
	flag.BoolVar(&debug, "debug", false, "write a detection overlay next to each output")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&version, "version", false, "print the version and exit")

	flag.Parse()

	// -segment=false has to override a config file that enables segmentation
	var segmentFlag *bool
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "segment" {
			segmentFlag = &segment
		}
	})

	if version {
		fmt.Println(passportphoto.GetVersion())
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := applyFlags(cfg, flagOverrides{
		bg: bg, width: width, height: height, prompt: prompt, attire: attire,
		backends: backends, model: model, enhance: doEnhance, segment: segmentFlag,
	}); err != nil {
		log.Fatal(err)
	}

	if initConfig != "" {
		if err := cfg.SaveToFile(initConfig); err != nil {
			log.Fatal(err)
		}
		log.Infof("wrote %s", initConfig)
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg|URL|dir [-out passport.png|outdir] [-bg white] [-width 600 -height 800] [-enhance -attire business] [-analyzer compreface,facefinder]", filepath.Base(os.Args[0]))
	}

	gen, err := passportphoto.NewWithConfig(cfg, log)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spec := gen.DefaultOutput()
	jobs, err := plan(in, out, cfg.Output)
	if err != nil {
		log.Fatal(err)
	}

	failed := 0
	for _, job := range jobs {
		if err := run(ctx, gen, job, spec, debug, log); err != nil {
			failed++
			log.WithError(err).WithField("input", job.input).Error("passport photo failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		log.Infof("wrote %s", job.output)
	}

	if len(jobs) > 1 {
		log.WithFields(logrus.Fields{"total": len(jobs), "failed": failed}).Info("batch finished")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func backgroundUsage() string {
	return "background color: hex (#e6eef6) or preset (" + strings.Join(compositor.PresetNames(), ", ") + ")"
}

func attireUsage() string {
	return "attire preset for the enhancement prompt (" + strings.Join(enhance.Attires(), ", ") + ")"
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	if def := config.GetConfigPath(); def != "" {
		if _, err := os.Stat(def); err == nil {
			return config.LoadFromFile(def)
		}
	}
	return config.Default(), nil
}

type flagOverrides struct {
	bg, prompt, attire, backends, model string
	width, height                       int
	enhance                             bool
	// nil keeps the configured value
	segment *bool
}

func applyFlags(cfg *config.Config, f flagOverrides) error {
	if f.bg != "" {
		if _, err := compositor.ParseColor(f.bg); err != nil {
			return err
		}
		cfg.Output.Background = f.bg
	}
	if f.width > 0 {
		cfg.Output.Width = f.width
	}
	if f.height > 0 {
		cfg.Output.Height = f.height
	}
	if f.enhance {
		cfg.Enhancement.Enabled = true
	}
	if f.prompt != "" {
		cfg.Enhancement.Prompt = f.prompt
	}
	if f.attire != "" {
		cfg.Enhancement.Attire = f.attire
	}
	if f.backends != "" {
		var names []string
		for _, name := range strings.Split(f.backends, ",") {
			if name = strings.TrimSpace(strings.ToLower(name)); name != "" {
				names = append(names, name)
			}
		}
		cfg.Analyzer.Backends = names
	}
	if f.model != "" {
		cfg.Analyzer.Vision.Model = f.model
	}
	if f.segment != nil {
		cfg.Segmenter.Enabled = *f.segment
	}
	return cfg.Validate()
}

type job struct {
	input, output string
}

// plan maps the -in and -out flags to input/output pairs
func plan(in, out string, oc config.OutputConfig) ([]job, error) {
	if !utils.IsRemote(in) && utils.DirExists(in) {
		dir := out
		if dir == "" {
			dir = oc.OutputDir
		}
		if err := utils.EnsureDir(dir); err != nil {
			return nil, err
		}
		files, err := utils.ListImageFiles(in, dir)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no images found in %s", in)
		}
		jobs := make([]job, 0, len(files))
		for _, f := range files {
			jobs = append(jobs, job{input: f, output: utils.OutputFilename(f, dir, oc.Suffix)})
		}
		return jobs, nil
	}

	if strings.EqualFold(filepath.Ext(out), ".png") {
		if err := utils.EnsureDir(filepath.Dir(out)); err != nil {
			return nil, err
		}
		return []job{{input: in, output: out}}, nil
	}

	dir := out
	if dir == "" {
		dir = oc.OutputDir
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	return []job{{input: in, output: utils.OutputFilename(in, dir, oc.Suffix)}}, nil
}

func run(ctx context.Context, gen *passportphoto.Generator, j job, spec types.OutputSpec, debug bool, log logrus.FieldLogger) error {
	a, err := gen.Analyze(ctx, pipeline.SourceFromPath(j.input), spec)
	if err != nil {
		if errors.Is(err, analyzer.ErrNoFaceDetected) {
			return fmt.Errorf("no face found in %s: %w", j.input, err)
		}
		return err
	}

	if debug {
		dbg := processing.DebugOverlay(a.Composite, a.Detection, &a.Plan)
		dbgPath := utils.DebugFilename(j.output)
		if err := processing.SaveImage(dbg, dbgPath, "png", 0, false); err != nil {
			log.WithError(err).Warnf("debug save %s failed", dbgPath)
		} else {
			log.Infof("wrote %s", dbgPath)
		}
	}

	res, err := gen.Pipeline().Render(a, spec)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"enhanced":  a.Enhanced,
		"segmented": a.Segmented,
		"face":      a.Detection.Box,
	}).Debug("rendered")
	return processing.WritePNG(j.output, res.PNG)
}
