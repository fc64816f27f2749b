// Package framebuffer holds the frames collected during one capture session.
//
// The buffer is ordered and append-only: insertion order is significant
// (mosaic placement and panorama ordering both follow it) and stored frames
// are never modified. Every appended frame is a private copy resized to the
// buffer's canonical resolution, so producers may reuse their own buffers.
package framebuffer

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// ErrEmptyFrame is returned when appending a frame with no pixels.
var ErrEmptyFrame = errors.New("framebuffer: empty frame")

// Buffer is an ordered collection of canonical-size frames.
// It is safe for concurrent use.
type Buffer struct {
	size image.Point

	mu     sync.RWMutex
	frames []frame.Frame
	seq    int
}

// New creates an empty buffer that normalizes frames to size.
// A zero size selects frame.CanonicalSize.
func New(size image.Point) *Buffer {
	if size.X <= 0 || size.Y <= 0 {
		size = frame.CanonicalSize()
	}
	return &Buffer{size: size}
}

// Size returns the canonical resolution of stored frames.
func (b *Buffer) Size() image.Point {
	return b.size
}

// Append stores a normalized copy of f. The caller keeps ownership of f.
func (b *Buffer) Append(f frame.Frame) error {
	if f.Empty() {
		return ErrEmptyFrame
	}

	copied, err := f.Normalize(b.size)
	if err != nil {
		return fmt.Errorf("framebuffer: normalize: %w", err)
	}

	b.mu.Lock()
	copied.Seq = b.seq
	b.seq++
	b.frames = append(b.frames, copied)
	b.mu.Unlock()
	return nil
}

// Clear drops every frame and releases its memory.
func (b *Buffer) Clear() {
	b.mu.Lock()
	frames := b.frames
	b.frames = nil
	b.seq = 0
	b.mu.Unlock()

	for _, f := range frames {
		f.Close()
	}
}

// Count returns the number of stored frames.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.frames)
}

// At returns the frame at index i. The buffer keeps ownership; the frame
// must not be closed or written to.
func (b *Buffer) At(i int) (frame.Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.frames) {
		return frame.Frame{}, false
	}
	return b.frames[i], true
}

// All returns a read-only view of the stored frames in insertion order.
// The returned slice is a copy but the frames are shared with the buffer:
// callers must not close or modify them, and must not hold them across a
// Clear.
func (b *Buffer) All() []frame.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]frame.Frame, len(b.frames))
	copy(out, b.frames)
	return out
}
