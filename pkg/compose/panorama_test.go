package compose

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-panorama/pkg/frame"
	"github.com/teslashibe/go-panorama/pkg/frame/frametest"
)

var panoSize = image.Pt(400, 300)

func TestPanoramaConfig_Validate(t *testing.T) {
	cfg := DefaultPanoramaConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*PanoramaConfig)
	}{
		{"min matches below four", func(c *PanoramaConfig) { c.MinMatches = 3 }},
		{"features below min matches", func(c *PanoramaConfig) { c.Features = 5 }},
		{"ratio zero", func(c *PanoramaConfig) { c.RatioTest = 0 }},
		{"ratio above one", func(c *PanoramaConfig) { c.RatioTest = 1.5 }},
		{"ransac threshold", func(c *PanoramaConfig) { c.RansacThreshold = 0 }},
		{"max scale", func(c *PanoramaConfig) { c.MaxScale = 0.5 }},
		{"max canvas scale", func(c *PanoramaConfig) { c.MaxCanvasScale = 0.9 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultPanoramaConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewPanorama_InvalidConfigFallsBack(t *testing.T) {
	p := NewPanorama(PanoramaConfig{}, nil)
	assert.Equal(t, DefaultPanoramaConfig(), p.Config())
}

func TestPanorama_SingleFrame(t *testing.T) {
	f := frametest.Solid(t, panoSize, color.White)
	defer f.Close()

	_, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(context.Background(), []frame.Frame{f})
	assert.ErrorIs(t, err, ErrInsufficientInput)
	assert.Equal(t, StatusInsufficientInput, StatusOf(err))
}

func TestPanorama_DisjointSolidFrames(t *testing.T) {
	a := frametest.Solid(t, panoSize, color.RGBA{255, 0, 0, 255})
	b := frametest.Solid(t, panoSize, color.RGBA{0, 0, 255, 255})
	defer frametest.CloseAll([]frame.Frame{a, b})

	_, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(context.Background(), []frame.Frame{a, b})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlignmentFailed)
	assert.Equal(t, StatusAlignmentFailed, StatusOf(err))

	var aerr *AlignmentError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 0, aerr.Pair)
}

func TestPanorama_SyntheticPair(t *testing.T) {
	frames := frametest.PanFrames(t, panoSize, 2, 0.5, 42)
	defer frametest.CloseAll(frames)

	out, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(context.Background(), frames)
	require.NoError(t, err)
	defer out.Close()

	single := panoSize.X * panoSize.Y
	area := out.Cols() * out.Rows()
	assert.GreaterOrEqual(t, area, single)
	assert.LessOrEqual(t, area, 2*single)
	assert.Greater(t, out.Cols(), panoSize.X)

	// The pan is horizontal; the stitched width is close to the scene width.
	scene := frametest.SceneWidth(panoSize, 2, 0.5)
	assert.InDelta(t, scene, out.Cols(), 4)
	assert.InDelta(t, panoSize.Y, out.Rows(), 4)
}

func TestPanorama_FourFrameSweep(t *testing.T) {
	frames := frametest.PanFrames(t, panoSize, 4, 0.5, 7)
	defer frametest.CloseAll(frames)

	out, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(context.Background(), frames)
	require.NoError(t, err)
	defer out.Close()

	assert.Greater(t, out.Cols(), panoSize.X)
	assert.InDelta(t, frametest.SceneWidth(panoSize, 4, 0.5), out.Cols(), 8)
}

func TestPanorama_Canceled(t *testing.T) {
	frames := frametest.PanFrames(t, panoSize, 3, 0.5, 5)
	defer frametest.CloseAll(frames)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(ctx, frames)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCanceled, StatusOf(err))
}

func TestPanorama_MixedSizes(t *testing.T) {
	a := frametest.Solid(t, panoSize, color.White)
	b := frametest.Solid(t, image.Pt(320, 240), color.White)
	defer frametest.CloseAll([]frame.Frame{a, b})

	_, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(context.Background(), []frame.Frame{a, b})
	assert.ErrorIs(t, err, ErrMixedSizes)
}

func TestPanorama_RejectsNonBGRFrame(t *testing.T) {
	frames := []frame.Frame{grayFrame(panoSize), grayFrame(panoSize)}
	defer frametest.CloseAll(frames)

	_, err := NewPanorama(DefaultPanoramaConfig(), nil).Compose(context.Background(), frames)
	assert.ErrorIs(t, err, ErrInvalidFrame)
	assert.Equal(t, StatusInvalidInput, StatusOf(err))
}

func TestPanorama_CanvasBoundedBySumOfAreas(t *testing.T) {
	p := NewPanorama(DefaultPanoramaConfig(), nil)
	size := image.Pt(100, 50)

	r, err := p.canvas([]*mat.Dense{identity(), translation(60, 0)}, size, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 50), r)

	// Side by side with no overlap fills exactly the summed area.
	_, err = p.canvas([]*mat.Dense{identity(), translation(100, 0)}, size, 2)
	require.NoError(t, err)

	// A diagonal jump leaves empty quadrants larger than both frames.
	_, err = p.canvas([]*mat.Dense{identity(), translation(100, 50)}, size, 2)
	var aerr *AlignmentError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Reason, "exceeds input area")
	assert.Equal(t, StatusAlignmentFailed, StatusOf(err))
}
