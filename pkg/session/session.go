// Package session runs one collect → compose → export workflow.
//
// A Session owns the capture source, the frame buffer, the composition
// selector and the exporter. It executes user intents (see Command) and
// enforces phase separation: composition is refused while frames are being
// collected, so composers always see a buffer nobody is writing to.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/compose"
	"github.com/teslashibe/go-panorama/pkg/export"
	"github.com/teslashibe/go-panorama/pkg/frame"
	"github.com/teslashibe/go-panorama/pkg/framebuffer"
	"github.com/teslashibe/go-panorama/pkg/preview"
)

var (
	// ErrCollecting is returned for operations that need collection stopped.
	ErrCollecting = errors.New("session: collection in progress")

	// ErrNotCollecting is returned for operations that need a running collection.
	ErrNotCollecting = errors.New("session: not collecting")

	// ErrFrameNotFound is returned for an out-of-range frame index.
	ErrFrameNotFound = errors.New("session: frame not found")
)

// Config holds session settings.
type Config struct {
	// FrameSize is the canonical resolution frames are normalized to.
	FrameSize image.Point

	// DefaultMode is used when a compose request names no mode.
	DefaultMode compose.Mode

	Panorama compose.PanoramaConfig
	Export   export.Options

	// LiveFPS caps how often live frames are JPEG-encoded for the live sink.
	LiveFPS int

	// LiveQuality is the JPEG quality of live frames.
	LiveQuality int

	// PreviewScale is the thumbnail scale of the preview strip.
	PreviewScale float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FrameSize:    frame.CanonicalSize(),
		DefaultMode:  compose.ModePanorama,
		Panorama:     compose.DefaultPanoramaConfig(),
		LiveFPS:      10,
		LiveQuality:  70,
		PreviewScale: preview.DefaultScale,
	}
}

// Metrics receives session activity. *metrics.Metrics implements it.
type Metrics interface {
	compose.Recorder
	RecordCapture(buffered int)
	SetBuffered(n int)
	RecordExport(format string, err error)
}

// Status is a snapshot of the session for display.
type Status struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Collecting  bool            `json:"collecting"`
	Frames      int             `json:"frames"`
	CanCompose  bool            `json:"can_compose"`
	CanExport   bool            `json:"can_export"`
	DefaultMode compose.Mode    `json:"default_mode"`
	Composite   *compose.Result `json:"composite,omitempty"`
	LastExport  string          `json:"last_export,omitempty"`
}

// Session executes commands. It is safe for concurrent use.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	src      capture.Source
	buf      *framebuffer.Buffer
	selector *compose.Selector
	exporter *export.Exporter
	metrics  Metrics
	events   func(Event)
	live     func(jpeg []byte)

	// mu guards the collector and collection phase. Start, Stop and Reset
	// hold it exclusively; everything that reads the buffer holds it shared.
	mu         sync.RWMutex
	id         string
	collector  *capture.Collector
	lastExport string

	lastLive time.Time // collector goroutine only
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records captures, compositions and exports.
func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEvents registers a sink for session events. It is called
// synchronously and must not block.
func WithEvents(fn func(Event)) Option {
	return func(s *Session) { s.events = fn }
}

// WithLiveSink registers a sink for JPEG-encoded live frames, called at
// most Config.LiveFPS times per second from the collection goroutine.
func WithLiveSink(fn func(jpeg []byte)) Option {
	return func(s *Session) { s.live = fn }
}

// New creates a session over src. The session takes ownership of src.
func New(cfg Config, src capture.Source, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		logger: slog.Default(),
		src:    src,
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")

	s.buf = framebuffer.New(cfg.FrameSize)
	selOpts := []compose.SelectorOption{compose.WithLogger(s.logger)}
	if s.metrics != nil {
		selOpts = append(selOpts, compose.WithRecorder(s.metrics))
	}
	s.selector = compose.NewSelector(cfg.Panorama, selOpts...)
	exportOpts := cfg.Export
	exportOpts.Confine = true
	s.exporter = export.New(exportOpts, s.logger)
	return s
}

// ID returns the current collection session ID. A new ID is issued on
// every Start.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// DefaultMode returns the configured default composition mode.
func (s *Session) DefaultMode() compose.Mode {
	return s.cfg.DefaultMode
}

func (s *Session) collecting() bool {
	return s.collector != nil && s.collector.Running()
}

// Start begins a new collection. The buffer and any previous composite are
// discarded.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collecting() {
		return ErrCollecting
	}

	s.buf.Clear()
	s.selector.Reset()
	s.lastExport = ""
	s.id = uuid.NewString()
	if s.metrics != nil {
		s.metrics.SetBuffered(0)
	}

	c := capture.NewCollector(s.src, s.buf,
		capture.WithLogger(s.logger),
		capture.OnFrame(s.onLiveFrame),
		capture.OnCapture(s.onCapture),
	)
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	s.collector = c

	s.logger.Info("collection started", "session", s.id, "source", s.src.Name())
	s.publish(Event{Type: EventCollectionStarted})
	return nil
}

func (s *Session) onLiveFrame(f frame.Frame) {
	if s.live == nil || s.cfg.LiveFPS <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(s.lastLive) < time.Second/time.Duration(s.cfg.LiveFPS) {
		return
	}
	s.lastLive = now

	data, err := f.EncodeJPEG(s.cfg.LiveQuality)
	if err != nil {
		s.logger.Debug("live frame encode failed", "error", err)
		return
	}
	s.live(data)
}

func (s *Session) onCapture(index int) {
	if s.metrics != nil {
		s.metrics.RecordCapture(index + 1)
	}
	s.publish(Event{Type: EventFrameCaptured, Index: &index})
}

// Capture appends the current live frame to the buffer.
func (s *Session) Capture(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.collecting() {
		return -1, ErrNotCollecting
	}
	return s.collector.Capture(ctx)
}

// Stop ends the collection and waits for the capture goroutine to exit.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.collecting() {
		return ErrNotCollecting
	}
	err := s.collector.Stop()
	s.collector = nil

	s.logger.Info("collection stopped", "session", s.id, "frames", s.buf.Count())
	s.publish(Event{Type: EventCollectionStopped})
	return err
}

// Compose builds a composite from the collected frames in the given mode.
// On failure the previous composite is kept.
func (s *Session) Compose(ctx context.Context, mode compose.Mode) (compose.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.collecting() {
		return compose.Result{Mode: mode, Status: compose.StatusInvalidInput}, ErrCollecting
	}

	res, err := s.selector.Compose(ctx, s.buf.All(), mode)
	if err != nil {
		s.publish(Event{Type: EventComposeFailed, Result: &res, Error: err.Error()})
		return res, err
	}
	s.publish(Event{Type: EventComposed, Result: &res})
	return res, nil
}

// Export writes the current composite and returns the path written. path
// must stay inside the export directory.
func (s *Session) Export(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, err := s.selector.Image()
	if err != nil {
		return "", err
	}

	_, format := export.ResolvePath(path)
	written, err := s.exporter.Export(img, path)
	if s.metrics != nil {
		s.metrics.RecordExport(string(format), err)
	}
	if err != nil {
		s.publish(Event{Type: EventExportFailed, Error: err.Error()})
		return "", err
	}

	s.lastExport = written
	s.publish(Event{Type: EventExported, Path: written})
	return written, nil
}

// Reset stops any collection and discards the frames and the composite.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collector != nil {
		if err := s.collector.Stop(); err != nil {
			s.logger.Warn("stop source failed", "error", err)
		}
		s.collector = nil
	}
	s.buf.Clear()
	s.selector.Reset()
	s.lastExport = ""
	if s.metrics != nil {
		s.metrics.SetBuffered(0)
	}
	s.publish(Event{Type: EventReset})
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ID:          s.id,
		Source:      s.src.Name(),
		Collecting:  s.collecting(),
		Frames:      s.buf.Count(),
		DefaultMode: s.cfg.DefaultMode,
		LastExport:  s.lastExport,
	}
	st.CanCompose = !st.Collecting && st.Frames >= 2
	if res, ok := s.selector.Current(); ok {
		st.Composite = &res
		st.CanExport = true
	}
	return st
}

// Frame returns an RGBA copy of buffered frame i.
func (s *Session) Frame(i int) (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.buf.At(i)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFrameNotFound, i)
	}
	return f.ToImage()
}

// Preview renders the contact strip of all buffered frames.
func (s *Session) Preview() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return preview.Strip(s.buf.All(), s.cfg.PreviewScale)
}

// Live returns an RGBA copy of the current live frame.
func (s *Session) Live() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.collecting() {
		return nil, ErrNotCollecting
	}
	f, ok := s.collector.Latest()
	if !ok {
		return nil, capture.ErrNoFrame
	}
	defer f.Close()
	return f.ToImage()
}

// Composite returns an RGBA copy of the current composite.
func (s *Session) Composite() (*image.RGBA, error) {
	return s.selector.Image()
}

// Close stops collection and releases every resource, including the source.
func (s *Session) Close() error {
	s.Reset()
	return s.src.Close()
}

func (s *Session) publish(e Event) {
	if s.events == nil {
		return
	}
	e.Session = s.id
	e.Time = time.Now()
	e.Frames = s.buf.Count()
	s.events(e)
}
