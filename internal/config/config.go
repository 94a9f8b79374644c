package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/compositor"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/cropper"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/vision"
	"github.com/sirupsen/logrus"
)

// Analyzer backend names accepted in analyzer.backends
const (
	BackendCompreFace = "compreface"
	BackendFacefinder = "facefinder"
	BackendOllama     = "ollama"
	BackendLlamaCpp   = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Output      OutputConfig      `json:"output"`
	Crop        cropper.Config    `json:"crop"`
	Analyzer    AnalyzerConfig    `json:"analyzer"`
	Segmenter   SegmenterConfig   `json:"segmenter"`
	Enhancement EnhancementConfig `json:"enhancement"`
	Server      ServerConfig      `json:"server"`
	Log         LogConfig         `json:"log"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Background string `json:"background"`
	OutputDir  string `json:"output_dir"`
	Suffix     string `json:"suffix"`
}

// AnalyzerConfig selects face analysis backends, tried in order
type AnalyzerConfig struct {
	Backends   []string         `json:"backends"`
	CompreFace CompreFaceConfig `json:"compreface"`
	Facefinder FacefinderConfig `json:"facefinder"`
	Vision     VisionLLMConfig  `json:"vision_llm"`
}

// CompreFaceConfig configures the CompreFace detection service
type CompreFaceConfig struct {
	URL              string  `json:"url"`
	APIKey           string  `json:"api_key,omitempty"`
	DetProbThreshold float64 `json:"det_prob_threshold"`
	TimeoutSeconds   int     `json:"timeout_seconds"`
}

// FacefinderConfig configures the local pigo detector
type FacefinderConfig struct {
	CascadePath  string `json:"cascade_path"`
	PuplocPath   string `json:"puploc_path"`
	MaxDimension int    `json:"max_dimension"`
}

// VisionLLMConfig configures face location through a vision-language model
type VisionLLMConfig struct {
	OllamaURL   string `json:"ollama_url"`
	LlamaCppURL string `json:"llamacpp_url"`
	Model       string `json:"model"`
}

// SegmenterConfig configures the backdrop segmenter
type SegmenterConfig struct {
	Enabled bool                  `json:"enabled"`
	Config  vision.BackdropConfig `json:"backdrop"`
}

// EnhancementConfig configures the optional image-generation service
type EnhancementConfig struct {
	Enabled        bool   `json:"enabled"`
	URL            string `json:"url"`
	APIKey         string `json:"api_key,omitempty"`
	Format         string `json:"format,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Attire         string `json:"attire"`
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port          int    `json:"port"`
	AllowedOrigin string `json:"allowed_origin"`
	MaxUploadMB   int    `json:"max_upload_mb"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Width:      types.DefaultWidth,
			Height:     types.DefaultHeight,
			Background: "white",
			OutputDir:  "./output",
			Suffix:     "_passport",
		},
		Crop: cropper.DefaultConfig(),
		Analyzer: AnalyzerConfig{
			Backends: []string{BackendCompreFace},
			CompreFace: CompreFaceConfig{
				URL:              "http://localhost:8000",
				DetProbThreshold: 0.8,
				TimeoutSeconds:   60,
			},
			Facefinder: FacefinderConfig{
				CascadePath:  "cascade/facefinder",
				PuplocPath:   "cascade/puploc",
				MaxDimension: 1200,
			},
			Vision: VisionLLMConfig{
				OllamaURL:   "http://localhost:11434",
				LlamaCppURL: "http://localhost:8080",
				Model:       "llava",
			},
		},
		Segmenter: SegmenterConfig{
			Config: vision.DefaultBackdropConfig(),
		},
		Enhancement: EnhancementConfig{
			TimeoutSeconds: 120,
			Width:          1200,
			Height:         1600,
		},
		Server: ServerConfig{
			Port:          3001,
			AllowedOrigin: "http://localhost:5173",
			MaxUploadMB:   20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// may hold API keys
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides deployment values and secrets from the environment
func (c *Config) ApplyEnv() {
	if v := firstEnv("PASSPORT_ENHANCE_URL", "SEGMIND_API_URL"); v != "" {
		c.Enhancement.URL = v
	}
	if v := firstEnv("PASSPORT_ENHANCE_API_KEY", "SEGMIND_API_KEY"); v != "" {
		c.Enhancement.APIKey = v
	}
	if v := os.Getenv("PASSPORT_COMPREFACE_URL"); v != "" {
		c.Analyzer.CompreFace.URL = v
	}
	if v := os.Getenv("PASSPORT_COMPREFACE_API_KEY"); v != "" {
		c.Analyzer.CompreFace.APIKey = v
	}
	if v := os.Getenv("PASSPORT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Output.Width < 1 || c.Output.Height < 1 {
		return errors.New("output.width and output.height must be positive")
	}
	if c.Output.Width > types.MaxDimension || c.Output.Height > types.MaxDimension {
		return fmt.Errorf("output.width and output.height must not exceed %d", types.MaxDimension)
	}

	if _, err := compositor.ParseColor(c.Output.Background); err != nil {
		return fmt.Errorf("output.background: %w", err)
	}

	if err := c.Crop.Validate(); err != nil {
		return fmt.Errorf("crop: %w", err)
	}

	for _, b := range c.Analyzer.Backends {
		switch b {
		case BackendCompreFace, BackendFacefinder, BackendOllama, BackendLlamaCpp:
		default:
			return fmt.Errorf("analyzer.backends: unknown backend %q", b)
		}
	}

	if c.Analyzer.CompreFace.DetProbThreshold < 0 || c.Analyzer.CompreFace.DetProbThreshold > 1 {
		return errors.New("analyzer.compreface.det_prob_threshold must be between 0 and 1")
	}

	if s := c.Segmenter.Config; s.MinCoverage < 0 || s.MaxCoverage > 1 || s.MinCoverage > s.MaxCoverage {
		return errors.New("segmenter.backdrop coverage bounds must satisfy 0 <= min <= max <= 1")
	}

	if c.Enhancement.Enabled && c.Enhancement.URL == "" {
		return errors.New("enhancement.url is required when enhancement is enabled")
	}

	switch c.Enhancement.Format {
	case "", "multipart", "json":
	default:
		return fmt.Errorf("enhancement.format: unknown format %q", c.Enhancement.Format)
	}

	if c.Enhancement.TimeoutSeconds < 0 {
		return errors.New("enhancement.timeout_seconds must not be negative")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 0 and 65535")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// OutputSpec returns the configured output frame
func (c *Config) OutputSpec() (types.OutputSpec, error) {
	bg, err := compositor.ParseColor(c.Output.Background)
	if err != nil {
		return types.OutputSpec{}, err
	}
	spec := types.OutputSpec{Width: c.Output.Width, Height: c.Output.Height, Background: bg}
	return spec, spec.Validate()
}

// EnhancementTimeout returns the enhancement call timeout
func (c *Config) EnhancementTimeout() time.Duration {
	return time.Duration(c.Enhancement.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "passport-photo", "config.json")
}

// ResolveServiceURL normalizes a configured service URL, filling in the
// scheme and port. An empty or unparsable value yields http://defaultHost:defaultPort.
func ResolveServiceURL(configuredURL, defaultHost, defaultPort string) string {
	const defaultScheme = "http"
	fallback := fmt.Sprintf("%s://%s", defaultScheme, net.JoinHostPort(defaultHost, defaultPort))

	configuredURL = strings.TrimSpace(configuredURL)
	if configuredURL == "" {
		return fallback
	}
	if !strings.Contains(configuredURL, "://") {
		configuredURL = defaultScheme + "://" + configuredURL
	}

	parsedURL, err := url.Parse(configuredURL)
	if err != nil || parsedURL.Hostname() == "" {
		return fallback
	}

	scheme := parsedURL.Scheme
	port := parsedURL.Port()
	if port == "" {
		port = defaultPort
	}

	resolved := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(parsedURL.Hostname(), port))
	if p := strings.TrimRight(parsedURL.Path, "/"); p != "" {
		resolved += p
	}
	return resolved
}
