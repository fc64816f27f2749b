package session

import (
	"time"

	"github.com/teslashibe/go-panorama/pkg/compose"
)

// EventType names a session event.
type EventType string

const (
	EventCollectionStarted EventType = "collection_started"
	EventFrameCaptured     EventType = "frame_captured"
	EventCollectionStopped EventType = "collection_stopped"
	EventComposed          EventType = "composed"
	EventComposeFailed     EventType = "compose_failed"
	EventExported          EventType = "exported"
	EventExportFailed      EventType = "export_failed"
	EventReset             EventType = "reset"
)

// Event is published on every state change, for the events WebSocket.
type Event struct {
	Type    EventType       `json:"type"`
	Session string          `json:"session"`
	Time    time.Time       `json:"time"`
	Frames  int             `json:"frames"`
	Index   *int            `json:"index,omitempty"`
	Result  *compose.Result `json:"result,omitempty"`
	Path    string          `json:"path,omitempty"`
	Error   string          `json:"error,omitempty"`
}
