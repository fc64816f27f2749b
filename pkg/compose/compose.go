// Package compose turns a sequence of frames into one composite image.
//
// Two strategies are provided:
//   - Mosaic: lays frames out on a square grid, no alignment.
//   - Panorama: matches ORB features between consecutive frames, estimates
//     homographies with RANSAC and warps every frame onto a shared canvas.
//
// A Selector dispatches to the composer for a requested Mode and keeps the
// most recent successful composite.
package compose

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// Composer builds a composite from frames. The returned Mat is owned by
// the caller. Composers never modify or close the input frames.
type Composer interface {
	// Compose runs the composition. It returns a wrapped sentinel error
	// (ErrInsufficientInput, ErrAlignmentFailed, ErrMixedSizes,
	// ErrInvalidFrame) or the
	// context error when canceled between stages.
	Compose(ctx context.Context, frames []frame.Frame) (gocv.Mat, error)

	// Mode identifies the strategy.
	Mode() Mode
}

// checkFrames validates the common preconditions: at least min frames, all
// non-empty 8-bit BGR and of one resolution.
func checkFrames(frames []frame.Frame, min int, mode Mode) error {
	if len(frames) < min {
		return fmt.Errorf("%w: %s needs at least %d frame(s), got %d",
			ErrInsufficientInput, mode, min, len(frames))
	}
	for i, f := range frames {
		if f.Empty() {
			return fmt.Errorf("%w: frame %d is empty", ErrMixedSizes, i)
		}
		if typ := f.Mat().Type(); typ != gocv.MatTypeCV8UC3 {
			return fmt.Errorf("%w: frame %d has type %v", ErrInvalidFrame, i, typ)
		}
	}
	if !frame.SameSize(frames) {
		return fmt.Errorf("%w: expected %v for every frame", ErrMixedSizes, frames[0].Size())
	}
	return nil
}
