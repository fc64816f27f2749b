package capture

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-panorama/pkg/frame"
	"github.com/teslashibe/go-panorama/pkg/framebuffer"
)

// pushSource delivers only the frames a test pushes.
type pushSource struct {
	ch      chan frame.Frame
	started atomic.Int32
	stopped atomic.Int32
}

func newPushSource() *pushSource {
	return &pushSource{ch: make(chan frame.Frame, 4)}
}

func (s *pushSource) Start(ctx context.Context) error { s.started.Add(1); return nil }
func (s *pushSource) Stop() error                     { s.stopped.Add(1); return nil }
func (s *pushSource) Frames() <-chan frame.Frame      { return s.ch }
func (s *pushSource) Name() string                    { return "push" }
func (s *pushSource) Close() error                    { return nil }

func solid(t *testing.T, c color.RGBA) frame.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	f, err := frame.FromImage(img)
	require.NoError(t, err)
	return f
}

func waitLatest(t *testing.T, c *Collector, want color.RGBA) {
	t.Helper()
	require.Eventually(t, func() bool {
		f, ok := c.Latest()
		if !ok {
			return false
		}
		defer f.Close()
		img, err := f.ToImage()
		return err == nil && img.RGBAAt(0, 0) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCollector_CapturesLatestFrame(t *testing.T) {
	src := newPushSource()
	buf := framebuffer.New(image.Pt(16, 12))
	defer buf.Clear()

	var captured []int
	c := NewCollector(src, buf, OnCapture(func(i int) { captured = append(captured, i) }))
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Running())

	red := color.RGBA{255, 0, 0, 255}
	blue := color.RGBA{0, 0, 255, 255}

	src.ch <- solid(t, red)
	waitLatest(t, c, red)
	idx, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	src.ch <- solid(t, blue)
	waitLatest(t, c, blue)
	idx, err = c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	// Capturing twice without a new frame stores the same picture again.
	idx, err = c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	require.NoError(t, c.Stop())
	assert.False(t, c.Running())
	assert.Equal(t, int32(1), src.stopped.Load())

	require.Equal(t, 3, buf.Count())
	want := []color.RGBA{red, blue, blue}
	for i, f := range buf.All() {
		img, err := f.ToImage()
		require.NoError(t, err)
		assert.Equal(t, want[i], img.RGBAAt(0, 0), "frame %d", i)
	}
	assert.Equal(t, []int{0, 1, 2}, captured)
}

func TestCollector_CaptureBeforeFirstFrame(t *testing.T) {
	c := NewCollector(newPushSource(), framebuffer.New(image.Pt(16, 12)))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	_, err := c.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestCollector_CaptureWhenStopped(t *testing.T) {
	c := NewCollector(newPushSource(), framebuffer.New(image.Pt(16, 12)))
	_, err := c.Capture(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	_, err = c.Capture(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	_, ok := c.Latest()
	assert.False(t, ok)
}

func TestCollector_OnFrameSeesEveryFrame(t *testing.T) {
	src := newPushSource()
	var seen atomic.Int32
	c := NewCollector(src, framebuffer.New(image.Pt(16, 12)), OnFrame(func(frame.Frame) { seen.Add(1) }))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	for i := 0; i < 3; i++ {
		src.ch <- solid(t, color.RGBA{uint8(i), 0, 0, 255})
	}
	require.Eventually(t, func() bool { return seen.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestCollector_WithMockSource(t *testing.T) {
	cfg := testConfig()
	buf := framebuffer.New(image.Pt(cfg.Width, cfg.Height))
	defer buf.Clear()

	src := NewMockSource(cfg, nil)
	defer src.Close()

	c := NewCollector(src, buf)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		f, ok := c.Latest()
		f.Close()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 4; i++ {
		_, err := c.Capture(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, c.Stop())
	assert.Equal(t, 4, buf.Count())
}
