package compose

import (
	"context"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// Mosaic tiles frames onto a square grid canvas in row-major capture order.
// Cells past the last frame stay black.
type Mosaic struct {
	logger *slog.Logger
}

// NewMosaic creates a mosaic composer.
func NewMosaic(logger *slog.Logger) *Mosaic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mosaic{logger: logger}
}

// Mode returns ModeMosaic.
func (m *Mosaic) Mode() Mode {
	return ModeMosaic
}

// Grid returns the grid shape for n frames: rows = cols = ceil(sqrt(n)).
func Grid(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	side := 1
	for side*side < n {
		side++
	}
	return side, side
}

// Cell returns the canvas rectangle of frame i on a grid with cols columns
// of cells sized like size.
func Cell(i, cols int, size image.Point) image.Rectangle {
	row, col := i/cols, i%cols
	min := image.Pt(col*size.X, row*size.Y)
	return image.Rectangle{Min: min, Max: min.Add(size)}
}

// Compose copies every frame, unmodified, into its grid cell.
func (m *Mosaic) Compose(ctx context.Context, frames []frame.Frame) (gocv.Mat, error) {
	if err := checkFrames(frames, 1, ModeMosaic); err != nil {
		return gocv.Mat{}, err
	}

	size := frames[0].Size()
	rows, cols := Grid(len(frames))
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0),
		rows*size.Y, cols*size.X, gocv.MatTypeCV8UC3)

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			canvas.Close()
			return gocv.Mat{}, err
		}
		cell := canvas.Region(Cell(i, cols, size))
		f.Mat().CopyTo(&cell)
		cell.Close()
	}

	m.logger.Debug("mosaic composed",
		"frames", len(frames),
		"rows", rows,
		"cols", cols,
		"width", canvas.Cols(),
		"height", canvas.Rows(),
	)
	return canvas, nil
}
