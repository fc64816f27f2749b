package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// Scene renders a deterministic w×h image of overlapping random rectangles.
// It has dense, non-repeating corners, which makes it suitable for feature
// matching.
func Scene(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{96, 96, 96, 255}}, image.Point{}, draw.Src)

	n := w * h / 300
	for i := 0; i < n; i++ {
		rw := 6 + rng.Intn(40)
		rh := 6 + rng.Intn(40)
		x := rng.Intn(w)
		y := rng.Intn(h)
		c := color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
		r := image.Rect(x, y, x+rw, y+rh).Intersect(img.Bounds())
		draw.Draw(img, r, &image.Uniform{c}, image.Point{}, draw.Src)
	}
	return img
}

// MockSource is a synthetic camera for testing and demos.
// It pans horizontally back and forth across a scene three frames wide.
type MockSource struct {
	*producer
	cfg Config

	scene image.Image
	seed  int64
	step  int

	once     sync.Once
	sceneMat gocv.Mat
	hasScene bool
	initErr  error

	offset atomic.Int64
	dir    int
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithScene pans across img instead of a generated scene. The image must be
// at least as large as the configured resolution.
func WithScene(img image.Image) MockSourceOption {
	return func(m *MockSource) { m.scene = img }
}

// WithSeed sets the seed of the generated scene.
func WithSeed(seed int64) MockSourceOption {
	return func(m *MockSource) { m.seed = seed }
}

// WithStep sets how many pixels the camera pans per frame.
func WithStep(px int) MockSourceOption {
	return func(m *MockSource) { m.step = px }
}

// NewMockSource creates a new mock capture source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		producer: newProducer("mock", logger),
		cfg:      cfg,
		seed:     1,
		step:     cfg.Width / 32,
		dir:      1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.step <= 0 {
		m.step = 1
	}
	return m
}

func (m *MockSource) init() error {
	m.once.Do(func() {
		if m.scene == nil {
			m.scene = Scene(3*m.cfg.Width, m.cfg.Height, m.seed)
		}
		b := m.scene.Bounds()
		if b.Dx() < m.cfg.Width || b.Dy() < m.cfg.Height {
			m.initErr = fmt.Errorf("capture: mock scene %v smaller than %dx%d", b.Size(), m.cfg.Width, m.cfg.Height)
			return
		}
		mat, err := gocv.ImageToMatRGB(m.scene)
		if err != nil {
			m.initErr = fmt.Errorf("capture: mock scene: %w", err)
			return
		}
		m.sceneMat, m.hasScene = mat, true
	})
	return m.initErr
}

// Start begins generating frames.
func (m *MockSource) Start(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	if err := m.start(ctx, m.cfg.Interval(), m.next); err != nil {
		return err
	}
	m.logger.Info("mock capture source started",
		"width", m.cfg.Width,
		"height", m.cfg.Height,
		"framerate", m.cfg.Framerate,
		"step", m.step,
	)
	return nil
}

func (m *MockSource) next() (frame.Frame, error) {
	off := int(m.offset.Load())
	region := m.sceneMat.Region(image.Rect(off, 0, off+m.cfg.Width, m.cfg.Height))
	mat := region.Clone()
	region.Close()

	limit := m.sceneMat.Cols() - m.cfg.Width
	off += m.dir * m.step
	if off >= limit {
		off, m.dir = limit, -1
	} else if off <= 0 {
		off, m.dir = 0, 1
	}
	m.offset.Store(int64(off))

	return frame.New(mat), nil
}

// Offset returns the horizontal position of the next frame in the scene.
func (m *MockSource) Offset() int {
	return int(m.offset.Load())
}

// Stop halts frame generation.
func (m *MockSource) Stop() error {
	m.halt()
	return nil
}

// Frames returns the frame channel.
func (m *MockSource) Frames() <-chan frame.Frame {
	return m.frames()
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	if !m.markClosed() {
		return nil
	}
	m.halt()
	if m.hasScene {
		return m.sceneMat.Close()
	}
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return m.stats()
}

var _ SourceWithStats = (*MockSource)(nil)
