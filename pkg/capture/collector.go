package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-panorama/pkg/frame"
	"github.com/teslashibe/go-panorama/pkg/framebuffer"
)

// Collector runs one collection session. Its goroutine is the only reader
// of the Source and the only writer of the frame buffer while it runs.
type Collector struct {
	src    Source
	buf    *framebuffer.Buffer
	logger *slog.Logger

	onFrame   func(frame.Frame)
	onCapture func(index int)

	mu      sync.Mutex
	running bool
	reqs    chan captureReq
	stop    chan struct{}
	done    chan struct{}

	latestMu sync.RWMutex
	latest   frame.Frame
}

type captureReq struct {
	reply chan captureResult
}

type captureResult struct {
	index int
	err   error
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// OnFrame registers a hook called on the collector goroutine for every
// live frame. The hook must not retain or close the frame.
func OnFrame(fn func(frame.Frame)) CollectorOption {
	return func(c *Collector) { c.onFrame = fn }
}

// OnCapture registers a hook called after a frame is appended to the buffer.
func OnCapture(fn func(index int)) CollectorOption {
	return func(c *Collector) { c.onCapture = fn }
}

// NewCollector creates a collector moving frames from src into buf.
func NewCollector(src Source, buf *framebuffer.Buffer, opts ...CollectorOption) *Collector {
	c := &Collector{
		src:    src,
		buf:    buf,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start starts the source and the collection goroutine.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := c.src.Start(ctx); err != nil {
		return fmt.Errorf("capture: start %s source: %w", c.src.Name(), err)
	}

	c.running = true
	c.reqs = make(chan captureReq)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.run(c.src.Frames(), c.reqs, c.stop, c.done)

	c.logger.Info("collection started", "source", c.src.Name())
	return nil
}

func (c *Collector) run(frames <-chan frame.Frame, reqs chan captureReq, stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return

		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if f.Empty() {
				continue
			}
			if c.onFrame != nil {
				c.onFrame(f)
			}
			c.setLatest(f)

		case req := <-reqs:
			req.reply <- c.captureLatest()
		}
	}
}

func (c *Collector) setLatest(f frame.Frame) {
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	c.latestMu.Lock()
	old := c.latest
	c.latest = f
	c.latestMu.Unlock()
	old.Close()
}

func (c *Collector) captureLatest() captureResult {
	c.latestMu.RLock()
	latest := c.latest
	c.latestMu.RUnlock()

	if latest.Empty() {
		return captureResult{index: -1, err: ErrNoFrame}
	}
	if err := c.buf.Append(latest); err != nil {
		return captureResult{index: -1, err: err}
	}
	index := c.buf.Count() - 1
	c.logger.Info("frame captured", "index", index, "source", c.src.Name())
	if c.onCapture != nil {
		c.onCapture(index)
	}
	return captureResult{index: index}
}

// Capture appends a copy of the current live frame to the buffer and
// returns its index.
func (c *Collector) Capture(ctx context.Context) (int, error) {
	c.mu.Lock()
	running, reqs, done := c.running, c.reqs, c.done
	c.mu.Unlock()
	if !running {
		return -1, ErrStopped
	}

	req := captureReq{reply: make(chan captureResult, 1)}
	select {
	case reqs <- req:
	case <-done:
		return -1, ErrStopped
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.index, res.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Stop ends the collection and waits for the goroutine to exit. When Stop
// returns the buffer is no longer written to.
func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	close(c.stop)
	<-c.done

	err := c.src.Stop()

	c.latestMu.Lock()
	c.latest.Close()
	c.latest = frame.Frame{}
	c.latestMu.Unlock()

	c.logger.Info("collection stopped", "frames", c.buf.Count())
	return err
}

// Running reports whether a collection is in progress.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Latest returns a copy of the current live frame, owned by the caller.
func (c *Collector) Latest() (frame.Frame, bool) {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	if c.latest.Empty() {
		return frame.Frame{}, false
	}
	return c.latest.Clone(), true
}
