// Package frame defines the canonical raster used throughout go-panorama:
// an 8-bit, 3-channel image in BGR channel order backed by an OpenCV Mat.
package frame

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for Load
	_ "image/png"
	"os"
	"time"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Canonical capture resolution. Frames are normalized to this size when
// they enter a frame buffer.
const (
	CanonicalWidth  = 640
	CanonicalHeight = 480
)

// CanonicalSize returns the default canonical resolution.
func CanonicalSize() image.Point {
	return image.Pt(CanonicalWidth, CanonicalHeight)
}

// ErrEmpty is returned when an operation needs pixel data but the frame has none.
var ErrEmpty = errors.New("frame: empty")

// Frame is one captured raster. The zero value is an empty frame.
//
// A Frame owns native memory through its Mat. Copies of a Frame value share
// that memory; exactly one owner must call Close.
type Frame struct {
	mat   gocv.Mat
	valid bool

	// Seq is the capture sequence number assigned by the producer.
	Seq int

	// CapturedAt is when the frame was read from its source.
	CapturedAt time.Time
}

// New wraps mat as a Frame. The frame takes ownership of mat.
func New(mat gocv.Mat) Frame {
	return Frame{mat: mat, valid: true, CapturedAt: time.Now()}
}

// FromImage converts a Go image into a BGR frame.
func FromImage(img image.Image) (Frame, error) {
	if img == nil || img.Bounds().Empty() {
		return Frame{}, ErrEmpty
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return Frame{}, fmt.Errorf("frame: convert image: %w", err)
	}
	return New(mat), nil
}

// Load decodes an image file (PNG, JPEG, TIFF, BMP, WebP) into a frame.
func Load(path string) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("frame: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("frame: decode %s: %w", path, err)
	}
	return FromImage(img)
}

// Mat returns the underlying Mat. The frame keeps ownership.
func (f Frame) Mat() gocv.Mat {
	return f.mat
}

// Empty reports whether the frame holds no pixels.
func (f Frame) Empty() bool {
	return !f.valid || f.mat.Empty()
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	if f.Empty() {
		return 0
	}
	return f.mat.Cols()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	if f.Empty() {
		return 0
	}
	return f.mat.Rows()
}

// Size returns the frame dimensions as a point (X = width, Y = height).
func (f Frame) Size() image.Point {
	return image.Pt(f.Width(), f.Height())
}

// Bounds returns the frame rectangle anchored at the origin.
func (f Frame) Bounds() image.Rectangle {
	return image.Rectangle{Max: f.Size()}
}

// Clone returns a deep copy that the caller owns.
func (f Frame) Clone() Frame {
	if f.Empty() {
		return Frame{Seq: f.Seq, CapturedAt: f.CapturedAt}
	}
	return Frame{mat: f.mat.Clone(), valid: true, Seq: f.Seq, CapturedAt: f.CapturedAt}
}

// Close releases the native memory. Closing an empty frame is a no-op.
func (f Frame) Close() error {
	if !f.valid {
		return nil
	}
	return f.mat.Close()
}

// Normalize returns a new BGR frame resized to size. Grayscale and BGRA
// inputs are converted to BGR. The receiver is left untouched.
func (f Frame) Normalize(size image.Point) (Frame, error) {
	if f.Empty() {
		return Frame{}, ErrEmpty
	}
	if size.X <= 0 || size.Y <= 0 {
		return Frame{}, fmt.Errorf("frame: invalid size %v", size)
	}

	bgr := gocv.NewMat()
	switch f.mat.Channels() {
	case 1:
		gocv.CvtColor(f.mat, &bgr, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(f.mat, &bgr, gocv.ColorBGRAToBGR)
	case 3:
		f.mat.CopyTo(&bgr)
	default:
		bgr.Close()
		return Frame{}, fmt.Errorf("frame: unsupported channel count %d", f.mat.Channels())
	}

	if bgr.Cols() == size.X && bgr.Rows() == size.Y {
		return Frame{mat: bgr, valid: true, Seq: f.Seq, CapturedAt: f.CapturedAt}, nil
	}

	resized := gocv.NewMat()
	gocv.Resize(bgr, &resized, size, 0, 0, gocv.InterpolationArea)
	bgr.Close()
	return Frame{mat: resized, valid: true, Seq: f.Seq, CapturedAt: f.CapturedAt}, nil
}

// ToImage converts the frame into an RGBA image owned by the caller.
func (f Frame) ToImage() (*image.RGBA, error) {
	if f.Empty() {
		return nil, ErrEmpty
	}
	return MatToRGBA(f.mat)
}

// MatToRGBA converts a BGR (or grayscale) Mat into a freshly allocated RGBA
// image.
func MatToRGBA(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Empty() {
		return nil, ErrEmpty
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("frame: convert mat: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return rgba, nil
}

// EncodeJPEG encodes the frame as JPEG with OpenCV for the live stream.
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	if f.Empty() {
		return nil, ErrEmpty
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("frame: encode jpeg: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// SameSize reports whether every frame shares the dimensions of the first.
func SameSize(frames []Frame) bool {
	if len(frames) == 0 {
		return true
	}
	size := frames[0].Size()
	for _, f := range frames[1:] {
		if f.Size() != size {
			return false
		}
	}
	return true
}
