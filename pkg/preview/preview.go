// Package preview renders thumbnails of buffered frames for the web UI.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/nfnt/resize"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// DefaultScale is the thumbnail scale used when none is given.
const DefaultScale = 0.25

// Gap is the horizontal spacing between thumbnails, in pixels.
const Gap = 4

// ErrNoFrames is returned when there is nothing to render.
var ErrNoFrames = errors.New("preview: no frames")

// Thumbnail scales img by scale.
func Thumbnail(img image.Image, scale float64) image.Image {
	if scale <= 0 || scale > 1 {
		scale = DefaultScale
	}
	w := uint(float64(img.Bounds().Dx()) * scale)
	if w == 0 {
		w = 1
	}
	return resize.Resize(w, 0, img, resize.Bilinear)
}

// Strip lays thumbnails of frames side by side in capture order, each
// labelled with its buffer index.
func Strip(frames []frame.Frame, scale float64) (*image.RGBA, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	thumbs := make([]image.Image, len(frames))
	width, height := 0, 0
	for i, f := range frames {
		img, err := f.ToImage()
		if err != nil {
			return nil, fmt.Errorf("preview: frame %d: %w", i, err)
		}
		thumbs[i] = Thumbnail(img, scale)
		b := thumbs[i].Bounds()
		width += b.Dx()
		if b.Dy() > height {
			height = b.Dy()
		}
	}
	width += Gap * (len(thumbs) - 1)

	dc := gg.NewContext(width, height)
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.Clear()

	x := 0
	for i, th := range thumbs {
		dc.DrawImage(th, x, 0)
		label := strconv.Itoa(i)
		dc.SetRGB(0, 0, 0)
		dc.DrawRectangle(float64(x), 0, float64(8*len(label)+6), 16)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(label, float64(x+3), 12)
		x += th.Bounds().Dx() + Gap
	}

	if rgba, ok := dc.Image().(*image.RGBA); ok {
		return rgba, nil
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), dc.Image(), image.Point{}, draw.Src)
	return out, nil
}
