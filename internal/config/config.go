// Package config loads go-panorama settings from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/compose"
	"github.com/teslashibe/go-panorama/pkg/export"
	"github.com/teslashibe/go-panorama/pkg/frame"
	"github.com/teslashibe/go-panorama/pkg/session"
)

// Environment variables that override file settings.
const (
	EnvPort           = "PANORAMA_PORT"
	EnvLogLevel       = "PANORAMA_LOG_LEVEL"
	EnvCaptureBackend = "PANORAMA_CAPTURE_BACKEND"
	EnvCameraDevice   = "PANORAMA_CAMERA_DEVICE"
	EnvExportDir      = "PANORAMA_EXPORT_DIR"
)

// DefaultPort is the HTTP port used when none is configured.
const DefaultPort = 8080

// Config is the complete application configuration.
type Config struct {
	LogLevel    string                 `yaml:"log_level"`
	Server      ServerConfig           `yaml:"server"`
	Capture     capture.Config         `yaml:"capture"`
	Frame       FrameConfig            `yaml:"frame"`
	Panorama    compose.PanoramaConfig `yaml:"panorama"`
	Export      export.Options         `yaml:"export"`
	DefaultMode string                 `yaml:"default_mode"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port        int `yaml:"port"`
	LiveFPS     int `yaml:"live_fps"`
	LiveQuality int `yaml:"live_quality"`
}

// FrameConfig is the canonical frame resolution.
type FrameConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:        DefaultPort,
			LiveFPS:     10,
			LiveQuality: 70,
		},
		Capture:     capture.DefaultConfig(),
		Frame:       FrameConfig{Width: frame.CanonicalWidth, Height: frame.CanonicalHeight},
		Panorama:    compose.DefaultPanoramaConfig(),
		Export:      export.Options{Dir: ".", JPEGQuality: export.DefaultJPEGQuality},
		DefaultMode: compose.ModePanorama.String(),
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvCaptureBackend); v != "" {
		c.Capture.Backend = capture.Backend(strings.ToLower(v))
	}
	if v := os.Getenv(EnvCameraDevice); v != "" {
		c.Capture.Device = v
	}
	if v := os.Getenv(EnvExportDir); v != "" {
		c.Export.Dir = v
	}
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.LiveFPS < 0 || c.Server.LiveFPS > 60 {
		errs = append(errs, fmt.Errorf("server.live_fps must be between 0 and 60, got %d", c.Server.LiveFPS))
	}
	if c.Server.LiveQuality < 1 || c.Server.LiveQuality > 100 {
		errs = append(errs, fmt.Errorf("server.live_quality must be between 1 and 100, got %d", c.Server.LiveQuality))
	}
	if err := c.Capture.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if c.Frame.Width < 16 || c.Frame.Height < 16 {
		errs = append(errs, fmt.Errorf("frame size must be at least 16x16, got %dx%d", c.Frame.Width, c.Frame.Height))
	}
	if err := c.Panorama.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("panorama: %w", err))
	}
	if c.Export.JPEGQuality < 1 || c.Export.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("export.jpeg_quality must be between 1 and 100, got %d", c.Export.JPEGQuality))
	}
	if _, err := compose.ParseMode(c.DefaultMode); err != nil {
		errs = append(errs, fmt.Errorf("default_mode: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// Session derives the session configuration. Call after Validate.
func (c Config) Session() session.Config {
	mode, err := compose.ParseMode(c.DefaultMode)
	if err != nil {
		mode = compose.ModePanorama
	}
	cfg := session.DefaultConfig()
	cfg.FrameSize = image.Pt(c.Frame.Width, c.Frame.Height)
	cfg.DefaultMode = mode
	cfg.Panorama = c.Panorama
	cfg.Export = c.Export
	cfg.LiveFPS = c.Server.LiveFPS
	cfg.LiveQuality = c.Server.LiveQuality
	return cfg
}
