// Package frametest provides synthetic imagery for exercising the
// composition pipeline without a camera: feature-rich textures, crops of
// those textures with controlled overlap, and flat single-color frames.
package frametest

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/frame"
)

// Texture renders a deterministic feature-rich w×h scene.
func Texture(w, h int, seed int64) *image.RGBA {
	return capture.Scene(w, h, seed)
}

// Window returns the sub-rectangle of a scene seen by a camera with the
// given frame size after panning right by offset pixels.
func Window(size image.Point, offset int) image.Rectangle {
	return image.Rect(offset, 0, offset+size.X, size.Y)
}

// Pan returns n windows of the given size panning right across a scene so
// that consecutive windows overlap by the given fraction (0..1).
func Pan(size image.Point, n int, overlap float64) []image.Rectangle {
	step := int(float64(size.X) * (1 - overlap))
	rects := make([]image.Rectangle, n)
	for i := range rects {
		rects[i] = Window(size, i*step)
	}
	return rects
}

// SceneWidth returns the scene width needed for Pan to stay in bounds.
func SceneWidth(size image.Point, n int, overlap float64) int {
	step := int(float64(size.X) * (1 - overlap))
	return (n-1)*step + size.X
}

// CropImage copies r out of src into a new RGBA image anchored at the origin.
func CropImage(src image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// Crop converts the r region of src into a Frame.
func Crop(t testing.TB, src image.Image, r image.Rectangle) frame.Frame {
	t.Helper()
	f, err := frame.FromImage(CropImage(src, r))
	if err != nil {
		t.Fatalf("frametest: crop %v: %v", r, err)
	}
	return f
}

// Solid returns a frame filled with a single color.
func Solid(t testing.TB, size image.Point, c color.Color) frame.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	f, err := frame.FromImage(img)
	if err != nil {
		t.Fatalf("frametest: solid: %v", err)
	}
	return f
}

// PanFrames builds n overlapping frames panning across a generated texture.
func PanFrames(t testing.TB, size image.Point, n int, overlap float64, seed int64) []frame.Frame {
	t.Helper()
	scene := Texture(SceneWidth(size, n, overlap), size.Y, seed)
	frames := make([]frame.Frame, 0, n)
	for i, r := range Pan(size, n, overlap) {
		f := Crop(t, scene, r)
		f.Seq = i
		frames = append(frames, f)
	}
	return frames
}

// CloseAll releases every frame.
func CloseAll(frames []frame.Frame) {
	for _, f := range frames {
		f.Close()
	}
}
