package capture

import (
	"fmt"
	"log/slog"
)

// NewSource creates a capture source with the given configuration.
// If cfg.Backend is BackendAuto, files is used when Dir is set, webrtc when
// Signalling is set and device otherwise.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBackend(cfg)
	}

	logger.Info("creating capture source",
		"backend", backend,
		"width", cfg.Width,
		"height", cfg.Height,
		"framerate", cfg.Framerate,
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendFiles:
		return NewFileSource(cfg, logger), nil
	case BackendDevice:
		return NewDeviceSource(cfg, logger), nil
	case BackendWebRTC:
		return NewWebRTCSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func detectBackend(cfg Config) Backend {
	if cfg.Dir != "" {
		return BackendFiles
	}
	if cfg.Signalling != "" {
		return BackendWebRTC
	}
	return BackendDevice
}

// AvailableBackends returns the selectable backends.
func AvailableBackends() []Backend {
	return []Backend{BackendDevice, BackendFiles, BackendMock, BackendWebRTC}
}
