package compose

import (
	"errors"
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Projective terms larger than this (per pixel) indicate a fit that folds
// the image plane.
const maxPerspective = 0.002

var errBehindCamera = errors.New("corner projects behind the camera")

// identity returns a 3×3 identity matrix.
func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// translation returns the homography that shifts points by (dx, dy).
func translation(dx, dy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, dx, 0, 1, dy, 0, 0, 1})
}

// mul returns a·b.
func mul(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

// fromMat copies a 3×3 CV_64F homography into a gonum matrix normalized so
// that h[2][2] == 1. ok is false for empty or non-normalizable input.
func fromMat(h gocv.Mat) (*mat.Dense, bool) {
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		return nil, false
	}
	data := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			data[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	if math.Abs(data[8]) < 1e-12 {
		return nil, false
	}
	d := mat.NewDense(3, 3, data)
	d.Scale(1/data[8], d)
	return d, true
}

// toMat copies a gonum homography into a new CV_64F Mat owned by the caller.
func toMat(h mat.Matrix) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h.At(r, c))
		}
	}
	return m
}

// degenerate returns a reason when h cannot be a plausible camera motion
// between two overlapping frames, or "" when it looks sane.
func degenerate(h *mat.Dense, maxScale float64) string {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := h.At(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return "non-finite homography"
			}
		}
	}

	det := mat.Det(h.Slice(0, 2, 0, 2))
	if det <= 0 {
		return "homography flips the image"
	}
	if det < 1/maxScale || det > maxScale {
		return "homography scale out of range"
	}
	if math.Abs(h.At(2, 0)) > maxPerspective || math.Abs(h.At(2, 1)) > maxPerspective {
		return "homography perspective out of range"
	}
	return ""
}

// chain composes pairwise homographies into per-frame transforms onto the
// reference frame. pairs[k] maps frame k+1 into frame k.
func chain(pairs []*mat.Dense, ref int) ([]*mat.Dense, error) {
	n := len(pairs) + 1
	out := make([]*mat.Dense, n)
	out[ref] = identity()

	for i := ref + 1; i < n; i++ {
		out[i] = mul(out[i-1], pairs[i-1])
	}
	for i := ref - 1; i >= 0; i-- {
		var inv mat.Dense
		if err := inv.Inverse(pairs[i]); err != nil {
			return nil, err
		}
		out[i] = mul(out[i+1], &inv)
	}
	return out, nil
}

// project maps (x, y) through h.
func project(h mat.Matrix, x, y float64) (float64, float64, error) {
	px := h.At(0, 0)*x + h.At(0, 1)*y + h.At(0, 2)
	py := h.At(1, 0)*x + h.At(1, 1)*y + h.At(1, 2)
	w := h.At(2, 0)*x + h.At(2, 1)*y + h.At(2, 2)
	if w <= 1e-9 {
		return 0, 0, errBehindCamera
	}
	return px / w, py / w, nil
}

// bounds returns the integer bounding box of every frame projected through
// its transform.
func bounds(transforms []*mat.Dense, size image.Point) (image.Rectangle, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	w, h := float64(size.X), float64(size.Y)
	corners := [][2]float64{{0, 0}, {w, 0}, {w, h}, {0, h}}

	for _, t := range transforms {
		for _, c := range corners {
			x, y, err := project(t, c[0], c[1])
			if err != nil {
				return image.Rectangle{}, err
			}
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}

	// Absorb floating-point noise so an exact fit does not grow the canvas
	// by a pixel.
	const eps = 1e-3
	return image.Rect(
		int(math.Floor(minX+eps)),
		int(math.Floor(minY+eps)),
		int(math.Ceil(maxX-eps)),
		int(math.Ceil(maxY-eps)),
	), nil
}
