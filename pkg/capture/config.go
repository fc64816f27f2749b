// Package capture produces camera frames for a collection session.
//
// This package supports multiple backends:
//   - device - an OpenCV VideoCapture (webcam index, file or stream URL)
//   - files  - still images from a directory, replayed in name order
//   - mock   - a synthetic camera panning across a generated scene
//   - webrtc - an H264 track from a GStreamer webrtcsink producer
//
// A Source pushes frames on a channel; a Collector consumes them, keeps the
// latest one as the live frame and appends it to a frame buffer on request.
package capture

import (
	"fmt"
	"time"
)

// Backend represents the capture backend type.
type Backend string

const (
	// BackendAuto selects the device backend, or files when Dir is set.
	BackendAuto Backend = "auto"
	// BackendDevice reads from an OpenCV VideoCapture.
	BackendDevice Backend = "device"
	// BackendFiles replays image files from a directory.
	BackendFiles Backend = "files"
	// BackendMock generates a panning synthetic scene.
	BackendMock Backend = "mock"
	// BackendWebRTC receives H264 video from a webrtcsink producer.
	BackendWebRTC Backend = "webrtc"
)

// Config holds capture configuration.
type Config struct {
	// Backend specifies which capture backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// Device is the VideoCapture target: a camera index ("0") or a
	// file path / stream URL.
	Device string `yaml:"device" json:"device"`

	// Dir is the image directory for the files backend.
	Dir string `yaml:"dir" json:"dir"`

	// Width and Height are the requested capture resolution.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Framerate is the target frames per second.
	Framerate int `yaml:"framerate" json:"framerate"`

	// Signalling is the webrtcsink signalling server URL, e.g.
	// "ws://192.168.1.20:8443".
	Signalling string `yaml:"signalling" json:"signalling"`

	// Producer selects the producer whose meta name matches. Empty picks
	// the first one listed.
	Producer string `yaml:"producer" json:"producer"`

	// FFmpeg is the ffmpeg binary used to decode H264.
	// Default: "ffmpeg"
	FFmpeg string `yaml:"ffmpeg" json:"ffmpeg"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendAuto,
		Device:    "0",
		Width:     640,
		Height:    480,
		Framerate: 15,
		FFmpeg:    "ffmpeg",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendDevice, BackendFiles, BackendMock, BackendWebRTC:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Width < 16 || c.Height < 16 {
		return fmt.Errorf("resolution must be at least 16x16, got %dx%d", c.Width, c.Height)
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		return fmt.Errorf("framerate must be between 1 and 120, got %d", c.Framerate)
	}
	if c.Backend == BackendFiles && c.Dir == "" {
		return fmt.Errorf("files backend requires dir")
	}
	if c.Backend == BackendDevice && c.Device == "" {
		return fmt.Errorf("device backend requires device")
	}
	if c.Backend == BackendWebRTC && c.Signalling == "" {
		return fmt.Errorf("webrtc backend requires signalling")
	}
	return nil
}

// Interval returns the time between frames at the configured framerate.
func (c Config) Interval() time.Duration {
	if c.Framerate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.Framerate)
}
