package session

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-panorama/pkg/compose"
)

// Command is a user intent. The concrete types below are the only
// implementations.
type Command interface {
	command()
}

// StartCollection clears the buffer and starts collecting live frames.
type StartCollection struct{}

// CaptureFrame appends the current live frame to the buffer.
type CaptureFrame struct{}

// StopCollection stops collecting.
type StopCollection struct{}

// Compose builds a composite from the collected frames.
type Compose struct {
	Mode compose.Mode
}

// Export writes the current composite to Path.
type Export struct {
	Path string
}

// Reset stops any collection and discards frames and composite.
type Reset struct{}

func (StartCollection) command() {}
func (CaptureFrame) command()    {}
func (StopCollection) command()  {}
func (Compose) command()         {}
func (Export) command()          {}
func (Reset) command()           {}

// Outcome carries what a command produced, depending on its type.
type Outcome struct {
	// Index is the buffer index of a captured frame.
	Index int `json:"index,omitempty"`

	// Result describes a composition attempt.
	Result *compose.Result `json:"result,omitempty"`

	// Path is where an export was written.
	Path string `json:"path,omitempty"`
}

// Dispatch executes cmd against the session.
func (s *Session) Dispatch(ctx context.Context, cmd Command) (Outcome, error) {
	switch c := cmd.(type) {
	case StartCollection:
		return Outcome{}, s.Start(ctx)
	case CaptureFrame:
		i, err := s.Capture(ctx)
		return Outcome{Index: i}, err
	case StopCollection:
		return Outcome{}, s.Stop()
	case Compose:
		res, err := s.Compose(ctx, c.Mode)
		return Outcome{Result: &res}, err
	case Export:
		p, err := s.Export(c.Path)
		return Outcome{Path: p}, err
	case Reset:
		s.Reset()
		return Outcome{}, nil
	default:
		return Outcome{}, fmt.Errorf("session: unknown command %T", cmd)
	}
}
