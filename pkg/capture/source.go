package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

var (
	// ErrNoFrame is returned when a capture is requested before the source
	// has delivered any frame.
	ErrNoFrame = errors.New("capture: no frame available")

	// ErrStopped is returned when the collector or source is not running.
	ErrStopped = errors.New("capture: stopped")
)

// Source produces camera frames.
type Source interface {
	// Start begins capture. Frames become available on Frames.
	Start(ctx context.Context) error

	// Stop halts capture and waits for the producer to exit.
	// It is safe to call Stop multiple times.
	Stop() error

	// Frames returns the channel frames are pushed on. The receiver owns
	// every frame it receives and must Close it.
	Frames() <-chan frame.Frame

	// Name returns the backend name (e.g., "device", "files", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about a source.
type SourceStats struct {
	// Delivered is the number of frames pushed to the receiver.
	Delivered int64 `json:"delivered"`

	// Dropped is the number of frames discarded because the receiver
	// was not keeping up.
	Dropped int64 `json:"dropped"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the capture backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// producer runs a frame-producing function on its own goroutine and
// delivers results on a small buffered channel, dropping frames when the
// receiver lags. Every backend embeds one.
type producer struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	ch      chan frame.Frame
	stop    chan struct{}
	done    chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

func newProducer(name string, logger *slog.Logger) *producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &producer{
		name:   name,
		logger: logger,
		ch:     make(chan frame.Frame, 2),
	}
}

// start launches next on a goroutine. With a positive interval next is
// paced by a ticker; otherwise it is expected to block on its own.
func (p *producer) start(ctx context.Context, interval time.Duration, next func() (frame.Frame, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.running {
		return nil
	}

	p.running = true
	p.ch = make(chan frame.Frame, 2)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.loop(ctx, interval, next, p.ch, p.stop, p.done)
	return nil
}

func (p *producer) loop(ctx context.Context, interval time.Duration, next func() (frame.Frame, error), ch chan frame.Frame, stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}
		}

		f, err := next()
		if err != nil {
			p.logger.Debug("capture read failed", "backend", p.name, "error", err)
			if tick == nil {
				// Avoid spinning on a device that keeps failing.
				select {
				case <-stop:
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
			continue
		}

		select {
		case ch <- f:
			p.delivered.Add(1)
		default:
			f.Close()
			p.dropped.Add(1)
		}
	}
}

// halt stops the goroutine, waits for it and releases undelivered frames.
func (p *producer) halt() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	ch, stop, done := p.ch, p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
	close(ch)
	for f := range ch {
		f.Close()
	}
}

func (p *producer) frames() <-chan frame.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

// markClosed reports whether this call closed the producer.
func (p *producer) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

func (p *producer) stats() SourceStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return SourceStats{
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
		Running:   running,
		Backend:   p.name,
	}
}
