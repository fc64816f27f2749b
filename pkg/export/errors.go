package export

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every *Error matches exactly one of ErrEncode and ErrIO
// via errors.Is.
var (
	// ErrEncode is returned when the image cannot be encoded in the requested format.
	ErrEncode = errors.New("export: encode failed")

	// ErrIO is returned when the destination cannot be created or written.
	ErrIO = errors.New("export: write failed")

	// ErrNoImage is returned when there is nothing to export.
	ErrNoImage = errors.New("export: no image")

	// ErrUnsafePath is returned by a confined exporter for a path that is
	// absolute or leaves the export directory.
	ErrUnsafePath = errors.New("export: path outside export directory")
)

// Error describes a failed export.
type Error struct {
	// Kind is ErrEncode or ErrIO.
	Kind error

	// Path is the destination file.
	Path string

	// Format is the encoder that was selected.
	Format Format

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s (%s): %v", e.Kind, e.Path, e.Format, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
