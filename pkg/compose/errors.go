package compose

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for composition failures. All of them are recoverable:
// the caller may retry with the same or a different frame set.
var (
	// ErrInsufficientInput is returned when too few frames are supplied.
	ErrInsufficientInput = errors.New("compose: insufficient input")

	// ErrAlignmentFailed is returned when panorama geometry cannot be resolved.
	ErrAlignmentFailed = errors.New("compose: alignment failed")

	// ErrMixedSizes is returned when input frames do not share one resolution.
	ErrMixedSizes = errors.New("compose: frames differ in size")

	// ErrInvalidFrame is returned for a frame that is not 8-bit 3-channel BGR.
	ErrInvalidFrame = errors.New("compose: frame is not 8-bit BGR")

	// ErrUnknownMode is returned for a mode with no registered composer.
	ErrUnknownMode = errors.New("compose: unknown mode")

	// ErrNoComposite is returned when no composition has succeeded yet.
	ErrNoComposite = errors.New("compose: no composite available")
)

// AlignmentError describes why two consecutive frames could not be aligned.
type AlignmentError struct {
	// Pair is the index of the first frame of the failing pair.
	// -1 when the failure concerns the whole canvas.
	Pair int

	// Matches is the number of usable correspondences found, if relevant.
	Matches int

	// Reason is a short human-readable description.
	Reason string
}

// Error implements the error interface.
func (e *AlignmentError) Error() string {
	if e.Pair < 0 {
		return fmt.Sprintf("compose: alignment failed: %s", e.Reason)
	}
	return fmt.Sprintf("compose: alignment failed between frames %d and %d: %s (%d matches)",
		e.Pair, e.Pair+1, e.Reason, e.Matches)
}

// Unwrap lets errors.Is match ErrAlignmentFailed.
func (e *AlignmentError) Unwrap() error {
	return ErrAlignmentFailed
}

// Status is the outcome code of a composition, reported to callers
// alongside the error.
type Status int

const (
	StatusOK Status = iota
	StatusInsufficientInput
	StatusAlignmentFailed
	StatusInvalidInput
	StatusCanceled
	StatusFailed
)

var statusNames = map[Status]string{
	StatusOK:                "ok",
	StatusInsufficientInput: "insufficient_input",
	StatusAlignmentFailed:   "alignment_failed",
	StatusInvalidInput:      "invalid_input",
	StatusCanceled:          "canceled",
	StatusFailed:            "failed",
}

// String returns the snake_case status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("compose: unknown status %q", text)
}

// StatusOf classifies err into a Status. A nil error is StatusOK.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInsufficientInput):
		return StatusInsufficientInput
	case errors.Is(err, ErrAlignmentFailed):
		return StatusAlignmentFailed
	case errors.Is(err, ErrMixedSizes), errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrUnknownMode):
		return StatusInvalidInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	default:
		return StatusFailed
	}
}
