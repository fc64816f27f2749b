package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

const decodeTimeout = 2 * time.Second

// WebRTCSource receives an H264 video track from a GStreamer webrtcsink
// producer (such as a robot head camera) and decodes it with ffmpeg.
type WebRTCSource struct {
	*producer
	cfg     Config
	decoder h264Decoder

	mu     sync.Mutex
	sig    *signaller
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc
	wg     sync.WaitGroup

	latestMu  sync.Mutex
	latest    frame.Frame
	hasLatest bool
}

// NewWebRTCSource creates a WebRTC source. The session is negotiated on
// Start.
func NewWebRTCSource(cfg Config, logger *slog.Logger) *WebRTCSource {
	bin := cfg.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	return &WebRTCSource{
		producer: newProducer("webrtc", logger),
		cfg:      cfg,
		decoder:  ffmpegDecoder{bin: bin, timeout: decodeTimeout},
	}
}

// Start negotiates the session if needed and begins delivering frames.
func (s *WebRTCSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.pc == nil {
		if err := s.connect(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	if err := s.start(ctx, s.cfg.Interval(), s.next); err != nil {
		return err
	}
	s.logger.Info("webrtc capture source started",
		"signalling", s.cfg.Signalling,
		"producer", s.cfg.Producer,
	)
	return nil
}

// connect must be called with s.mu held.
func (s *WebRTCSource) connect(ctx context.Context) error {
	sig, err := dialSignaller(ctx, s.cfg.Signalling)
	if err != nil {
		return err
	}
	producerID, err := sig.findProducer(s.cfg.Producer)
	if err != nil {
		sig.close()
		return err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		sig.close()
		return fmt.Errorf("capture: peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		sig.close()
		return fmt.Errorf("capture: add transceiver: %w", err)
	}

	rctx, cancel := context.WithCancel(context.Background())

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		s.logger.Info("video track received", "codec", track.Codec().MimeType)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.receive(rctx, func() (*rtp.Packet, error) {
				pkt, _, err := track.ReadRTP()
				return pkt, err
			})
		}()
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := sig.sendICE(icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}); err != nil {
			s.logger.Debug("send ice candidate failed", "error", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("webrtc connection state", "state", state.String())
	})

	if err := sig.startSession(producerID); err != nil {
		cancel()
		pc.Close()
		sig.close()
		return fmt.Errorf("capture: start session: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := sig.run(func(msg signalMessage) { s.handleSignal(pc, sig, msg) })
		if err != nil && rctx.Err() == nil {
			s.logger.Warn("signalling closed", "error", err)
		}
	}()

	s.sig, s.pc, s.cancel = sig, pc, cancel
	return nil
}

func (s *WebRTCSource) handleSignal(pc *webrtc.PeerConnection, sig *signaller, msg signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := pc.SetRemoteDescription(offer); err != nil {
			s.logger.Warn("set remote description failed", "error", err)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			s.logger.Warn("create answer failed", "error", err)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			s.logger.Warn("set local description failed", "error", err)
			return
		}
		if err := sig.sendSDP(answer.Type.String(), answer.SDP); err != nil {
			s.logger.Warn("send answer failed", "error", err)
		}
	}

	if msg.ICE != nil {
		if err := pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			s.logger.Debug("add ice candidate failed", "error", err)
		}
	}
}

// receive assembles RTP into a group of pictures and decodes its latest
// picture at most once per frame interval.
func (s *WebRTCSource) receive(ctx context.Context, read func() (*rtp.Packet, error)) {
	var gop gopAssembler
	interval := s.cfg.Interval()
	var last time.Time

	for {
		pkt, err := read()
		if err != nil {
			return
		}
		if err := gop.Push(pkt); err != nil {
			s.logger.Debug("depacketize failed", "error", err)
			continue
		}
		if !gop.Ready() || time.Since(last) < interval {
			continue
		}
		last = time.Now()

		mat, err := s.decoder.Decode(ctx, gop.Bytes())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("h264 decode failed", "pictures", gop.Pictures(), "error", err)
			continue
		}
		s.setLatest(frame.New(mat))
	}
}

func (s *WebRTCSource) setLatest(f frame.Frame) {
	s.latestMu.Lock()
	old, had := s.latest, s.hasLatest
	s.latest, s.hasLatest = f, true
	s.latestMu.Unlock()
	if had {
		old.Close()
	}
}

// next hands over the newest decoded picture, if there is one.
func (s *WebRTCSource) next() (frame.Frame, error) {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	if !s.hasLatest {
		return frame.Frame{}, ErrNoFrame
	}
	f := s.latest
	s.latest, s.hasLatest = frame.Frame{}, false
	return f, nil
}

// Stop halts delivery. The WebRTC session stays up for a later Start.
func (s *WebRTCSource) Stop() error {
	s.halt()
	return nil
}

// Frames returns the frame channel.
func (s *WebRTCSource) Frames() <-chan frame.Frame {
	return s.producer.frames()
}

// Name returns "webrtc".
func (s *WebRTCSource) Name() string {
	return "webrtc"
}

// Close ends the session and releases every resource.
func (s *WebRTCSource) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.halt()

	s.mu.Lock()
	var err error
	if s.pc != nil {
		s.cancel()
		err = s.pc.Close()
		s.sig.close()
		s.pc, s.sig = nil, nil
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.latestMu.Lock()
	if s.hasLatest {
		s.latest.Close()
		s.hasLatest = false
	}
	s.latestMu.Unlock()
	return err
}

// Stats returns source statistics.
func (s *WebRTCSource) Stats() SourceStats {
	return s.stats()
}

var _ SourceWithStats = (*WebRTCSource)(nil)
