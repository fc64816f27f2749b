package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const signallingTimeout = 10 * time.Second

// signalMessage is one message of the GStreamer webrtcsink signalling
// protocol.
type signalMessage struct {
	Type      string         `json:"type"`
	PeerID    string         `json:"peerId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Producers []producerInfo `json:"producers,omitempty"`
	SDP       *sdpPayload    `json:"sdp,omitempty"`
	ICE       *icePayload    `json:"ice,omitempty"`
}

type producerInfo struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// signaller is a consumer-side signalling connection.
type signaller struct {
	conn   *websocket.Conn
	peerID string

	wmu sync.Mutex

	mu        sync.Mutex
	sessionID string
}

// dialSignaller connects and waits for the welcome message.
func dialSignaller(ctx context.Context, url string) (*signaller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: signallingTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: signalling connect %s: %w", url, err)
	}
	s := &signaller{conn: conn}

	msg, err := s.await("welcome")
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.peerID = msg.PeerID
	return s, nil
}

// await reads until a message of type typ arrives.
func (s *signaller) await(typ string) (signalMessage, error) {
	s.conn.SetReadDeadline(time.Now().Add(signallingTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		var msg signalMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return msg, fmt.Errorf("capture: signalling wait for %s: %w", typ, err)
		}
		if msg.Type == typ {
			return msg, nil
		}
	}
}

func (s *signaller) send(msg signalMessage) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(signallingTimeout))
	return s.conn.WriteJSON(msg)
}

// findProducer lists producers and returns the ID of the one named name,
// or the first one when name is empty.
func (s *signaller) findProducer(name string) (string, error) {
	if err := s.send(signalMessage{Type: "list"}); err != nil {
		return "", err
	}
	msg, err := s.await("list")
	if err != nil {
		return "", err
	}
	for _, p := range msg.Producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("capture: producer %q not found among %d producers", name, len(msg.Producers))
}

func (s *signaller) startSession(producerID string) error {
	return s.send(signalMessage{Type: "startSession", PeerID: producerID})
}

func (s *signaller) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// run reads messages until the connection fails or the session ends.
// sessionStarted is tracked here; everything else goes to handle.
func (s *signaller) run(handle func(signalMessage)) error {
	for {
		var msg signalMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = msg.SessionID
			s.mu.Unlock()
		case "endSession":
			return nil
		default:
			handle(msg)
		}
	}
}

func (s *signaller) sendSDP(typ, sdp string) error {
	return s.send(signalMessage{
		Type:      "peer",
		SessionID: s.session(),
		SDP:       &sdpPayload{Type: typ, SDP: sdp},
	})
}

func (s *signaller) sendICE(ice icePayload) error {
	id := s.session()
	if id == "" {
		return nil
	}
	return s.send(signalMessage{Type: "peer", SessionID: id, ICE: &ice})
}

func (s *signaller) close() error {
	return s.conn.Close()
}
