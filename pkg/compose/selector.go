package compose

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// Result describes one composition attempt.
type Result struct {
	ID        string        `json:"id,omitempty"`
	Mode      Mode          `json:"mode"`
	Status    Status        `json:"status"`
	Frames    int           `json:"frames"`
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Size returns the composite dimensions.
func (r Result) Size() image.Point {
	return image.Pt(r.Width, r.Height)
}

// Recorder receives the outcome of every composition attempt.
type Recorder interface {
	RecordComposition(mode Mode, status Status, d time.Duration)
}

// Selector dispatches compositions by mode and owns the current composite.
// A successful composition replaces the previous composite; a failed one
// leaves it untouched. It is safe for concurrent use.
type Selector struct {
	composers map[Mode]Composer
	logger    *slog.Logger
	recorder  Recorder

	mu      sync.RWMutex
	current gocv.Mat
	result  Result
	has     bool
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) SelectorOption {
	return func(s *Selector) { s.logger = l }
}

// WithRecorder sets the composition outcome recorder (e.g. metrics).
func WithRecorder(r Recorder) SelectorOption {
	return func(s *Selector) { s.recorder = r }
}

// WithComposer registers c for its mode, replacing the default.
func WithComposer(c Composer) SelectorOption {
	return func(s *Selector) { s.composers[c.Mode()] = c }
}

// NewSelector creates a selector with the mosaic and panorama composers.
func NewSelector(cfg PanoramaConfig, opts ...SelectorOption) *Selector {
	s := &Selector{
		composers: make(map[Mode]Composer),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.composers[ModeMosaic]; !ok {
		s.composers[ModeMosaic] = NewMosaic(s.logger)
	}
	if _, ok := s.composers[ModePanorama]; !ok {
		s.composers[ModePanorama] = NewPanorama(cfg, s.logger)
	}
	return s
}

// Compose runs the composer registered for mode. The mode is read once,
// here; the composition never re-reads any selection state.
func (s *Selector) Compose(ctx context.Context, frames []frame.Frame, mode Mode) (Result, error) {
	res := Result{Mode: mode, Frames: len(frames), CreatedAt: time.Now()}

	c, ok := s.composers[mode]
	if !ok {
		res.Status = StatusInvalidInput
		return res, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	start := time.Now()
	out, err := c.Compose(ctx, frames)
	res.Duration = time.Since(start)
	res.Status = StatusOf(err)

	if s.recorder != nil {
		s.recorder.RecordComposition(mode, res.Status, res.Duration)
	}

	if err != nil {
		s.logger.Warn("composition failed",
			"mode", mode.String(),
			"frames", len(frames),
			"status", res.Status.String(),
			"error", err,
		)
		return res, err
	}

	res.ID = uuid.NewString()
	res.Width = out.Cols()
	res.Height = out.Rows()

	s.mu.Lock()
	old, hadOld := s.current, s.has
	s.current, s.result, s.has = out, res, true
	s.mu.Unlock()
	if hadOld {
		old.Close()
	}

	s.logger.Info("composition succeeded",
		"id", res.ID,
		"mode", mode.String(),
		"frames", len(frames),
		"width", res.Width,
		"height", res.Height,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// Current returns the metadata of the current composite.
func (s *Selector) Current() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.has
}

// Image returns an RGBA copy of the current composite for display or export.
func (s *Selector) Image() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has {
		return nil, ErrNoComposite
	}
	return frame.MatToRGBA(s.current)
}

// Reset discards the current composite.
func (s *Selector) Reset() {
	s.mu.Lock()
	old, hadOld := s.current, s.has
	s.current, s.result, s.has = gocv.Mat{}, Result{}, false
	s.mu.Unlock()
	if hadOld {
		old.Close()
	}
}
