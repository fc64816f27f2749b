package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

var errReadFailed = errors.New("capture: device read failed")

// DeviceSource reads frames from an OpenCV VideoCapture: a local camera by
// index, a video file or a network stream.
type DeviceSource struct {
	*producer
	cfg Config

	mu sync.Mutex
	vc *gocv.VideoCapture
}

// NewDeviceSource creates a device source. The device is opened on Start.
func NewDeviceSource(cfg Config, logger *slog.Logger) *DeviceSource {
	return &DeviceSource{
		producer: newProducer("device", logger),
		cfg:      cfg,
	}
}

// deviceTarget converts "0" into a camera index; anything else is passed to
// OpenCV as a path or URL.
func deviceTarget(device string) interface{} {
	if id, err := strconv.Atoi(device); err == nil {
		return id
	}
	return device
}

// Start opens the device and begins reading.
func (s *DeviceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.vc == nil {
		vc, err := gocv.OpenVideoCapture(deviceTarget(s.cfg.Device))
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("capture: open device %q: %w", s.cfg.Device, err)
		}
		vc.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
		vc.Set(gocv.VideoCaptureFPS, float64(s.cfg.Framerate))
		s.vc = vc
	}
	s.mu.Unlock()

	// VideoCapture.Read blocks until the next frame, so no ticker.
	if err := s.start(ctx, 0, s.next); err != nil {
		return err
	}
	s.logger.Info("device capture source started",
		"device", s.cfg.Device,
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"framerate", s.cfg.Framerate,
	)
	return nil
}

func (s *DeviceSource) next() (frame.Frame, error) {
	s.mu.Lock()
	vc := s.vc
	s.mu.Unlock()
	if vc == nil {
		return frame.Frame{}, ErrStopped
	}

	mat := gocv.NewMat()
	if ok := vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return frame.Frame{}, errReadFailed
	}
	return frame.New(mat), nil
}

// Stop halts reading. The device stays open for a later Start.
func (s *DeviceSource) Stop() error {
	s.halt()
	return nil
}

// Frames returns the frame channel.
func (s *DeviceSource) Frames() <-chan frame.Frame {
	return s.producer.frames()
}

// Name returns "device".
func (s *DeviceSource) Name() string {
	return "device"
}

// Close stops reading and releases the device.
func (s *DeviceSource) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return nil
	}
	err := s.vc.Close()
	s.vc = nil
	return err
}

// Stats returns source statistics.
func (s *DeviceSource) Stats() SourceStats {
	return s.stats()
}

var _ SourceWithStats = (*DeviceSource)(nil)
