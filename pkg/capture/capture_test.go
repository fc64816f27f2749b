package capture

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.Width = 64
	cfg.Height = 48
	cfg.Framerate = 100
	return cfg
}

func receive(t *testing.T, src Source) frame.Frame {
	t.Helper()
	select {
	case f, ok := <-src.Frames():
		require.True(t, ok, "frame channel closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame.Frame{}
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "v4l2" }},
		{"tiny resolution", func(c *Config) { c.Width = 8 }},
		{"zero framerate", func(c *Config) { c.Framerate = 0 }},
		{"files without dir", func(c *Config) { c.Backend = BackendFiles }},
		{"device without device", func(c *Config) { c.Backend = BackendDevice; c.Device = "" }},
		{"webrtc without signalling", func(c *Config) { c.Backend = BackendWebRTC }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfig_Interval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framerate = 20
	assert.Equal(t, 50*time.Millisecond, cfg.Interval())
}

func TestScene_Deterministic(t *testing.T) {
	a := Scene(120, 80, 9)
	b := Scene(120, 80, 9)
	c := Scene(120, 80, 10)
	assert.Equal(t, a.Pix, b.Pix)
	assert.NotEqual(t, a.Pix, c.Pix)
}

func TestMockSource_StartStop(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	defer src.Close()

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	// Starting again should be a no-op
	require.NoError(t, src.Start(ctx))

	require.NoError(t, src.Stop())
	// Stopping again should be a no-op
	require.NoError(t, src.Stop())

	// Restart after stop.
	require.NoError(t, src.Start(ctx))
	f := receive(t, src)
	f.Close()
}

func TestMockSource_Frames(t *testing.T) {
	cfg := testConfig()
	src := NewMockSource(cfg, nil, WithSeed(3), WithStep(8))
	defer src.Close()

	require.NoError(t, src.Start(context.Background()))

	first := receive(t, src)
	defer first.Close()
	second := receive(t, src)
	defer second.Close()

	assert.Equal(t, image.Pt(cfg.Width, cfg.Height), first.Size())
	assert.Equal(t, 3, first.Mat().Channels())

	// The camera pans, so consecutive frames differ.
	a, err := first.ToImage()
	require.NoError(t, err)
	b, err := second.ToImage()
	require.NoError(t, err)
	assert.NotEqual(t, a.Pix, b.Pix)

	stats := src.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, "mock", stats.Backend)
	assert.GreaterOrEqual(t, stats.Delivered, int64(2))
}

func TestMockSource_PansAcrossScene(t *testing.T) {
	cfg := testConfig()
	scene := Scene(3*cfg.Width, cfg.Height, 5)
	src := NewMockSource(cfg, nil, WithScene(scene), WithStep(cfg.Width))
	defer src.Close()
	require.NoError(t, src.init())

	// Pans right to the end of the scene, then back.
	for i, off := range []int{0, cfg.Width, 2 * cfg.Width, cfg.Width, 0} {
		assert.Equal(t, off, src.Offset(), "frame %d", i)

		f, err := src.next()
		require.NoError(t, err)
		img, err := f.ToImage()
		require.NoError(t, err)
		f.Close()

		want := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
		draw.Draw(want, want.Bounds(), scene, image.Pt(off, 0), draw.Src)
		assert.Equal(t, want.Pix, img.Pix, "frame %d", i)
	}
}

func TestMockSource_SceneTooSmall(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithScene(image.NewRGBA(image.Rect(0, 0, 10, 10))))
	defer src.Close()
	assert.Error(t, src.Start(context.Background()))
}

func TestMockSource_ClosedCannotRestart(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	assert.ErrorIs(t, src.Start(context.Background()), io.ErrClosedPipe)
}

func writePNG(t *testing.T, path string, c color.Color, size image.Point) {
	t.Helper()
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), color.White, image.Pt(4, 4))
	writePNG(t, filepath.Join(dir, "a.png"), color.White, image.Pt(4, 4))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	paths, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, paths)
}

func TestFileSource_ReplaysInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "01.png"), color.RGBA{255, 0, 0, 255}, image.Pt(32, 24))
	writePNG(t, filepath.Join(dir, "02.png"), color.RGBA{0, 0, 255, 255}, image.Pt(32, 24))

	cfg := testConfig()
	cfg.Backend = BackendFiles
	cfg.Dir = dir
	src := NewFileSource(cfg, nil)
	defer src.Close()
	require.NoError(t, src.load())

	want := []color.RGBA{{255, 0, 0, 255}, {0, 0, 255, 255}, {255, 0, 0, 255}}
	for i, c := range want {
		f, err := src.next()
		require.NoError(t, err)
		img, err := f.ToImage()
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, c, img.RGBAAt(1, 1), "frame %d", i)
		assert.Equal(t, i%2, f.Seq)
	}
}

func TestFileSource_Start(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.White, image.Pt(32, 24))

	cfg := testConfig()
	cfg.Backend = BackendFiles
	cfg.Dir = dir
	src := NewFileSource(cfg, nil)
	defer src.Close()
	require.NoError(t, src.Start(context.Background()))

	f := receive(t, src)
	defer f.Close()
	assert.Equal(t, image.Pt(32, 24), f.Size())
}

func TestFileSource_EmptyDir(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = BackendFiles
	cfg.Dir = t.TempDir()
	src := NewFileSource(cfg, nil)
	defer src.Close()
	assert.Error(t, src.Start(context.Background()))
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		want    string
		wantErr bool
	}{
		{"mock", func(c *Config) { c.Backend = BackendMock }, "mock", false},
		{"files", func(c *Config) { c.Backend = BackendFiles; c.Dir = "." }, "files", false},
		{"device", func(c *Config) { c.Backend = BackendDevice }, "device", false},
		{"auto with dir", func(c *Config) { c.Backend = BackendAuto; c.Dir = "." }, "files", false},
		{"auto without dir", func(c *Config) { c.Backend = BackendAuto }, "device", false},
		{"webrtc", func(c *Config) { c.Backend = BackendWebRTC; c.Signalling = "ws://robot:8443" }, "webrtc", false},
		{"auto with signalling", func(c *Config) { c.Backend = BackendAuto; c.Signalling = "ws://robot:8443" }, "webrtc", false},
		{"invalid", func(c *Config) { c.Framerate = -1 }, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			src, err := NewSource(cfg, nil)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer src.Close()
			assert.Equal(t, tc.want, src.Name())
		})
	}
}

func TestDeviceTarget(t *testing.T) {
	assert.Equal(t, 2, deviceTarget("2"))
	assert.Equal(t, "rtsp://cam/stream", deviceTarget("rtsp://cam/stream"))
}
