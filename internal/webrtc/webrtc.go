// Package webrtc wraps a pion peer connection that sends one H264 track to
// a browser.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("webrtc: session closed")

// Session is one browser's peer connection.
type Session struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu     sync.Mutex
	video  *webrtc.TrackLocalStaticRTP
	closed bool
}

// Config for WebRTC session
type Config struct {
	ICEServers []string // STUN/TURN server URLs
	Logger     *slog.Logger
}

// NewSession creates the peer connection. onICE receives each local
// candidate as it is gathered; it may be nil.
func NewSession(cfg Config, onICE func(webrtc.ICECandidateInit)) (*Session, error) {
	config := webrtc.Configuration{}
	for _, url := range cfg.ICEServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{pc: pc, logger: logger.With("component", "webrtc")}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && onICE != nil {
			onICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("connection state", "state", state.String())
	})

	return s, nil
}

// AddH264Track adds the camera video track.
func (s *Session) AddH264Track() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"bcc950",
	)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	if _, err := s.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	s.video = track
	return nil
}

// CreateOffer sets the local description and waits for ICE gathering so
// the returned SDP carries every candidate.
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer applies the browser's SDP answer.
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote candidate.
func (s *Session) AddICECandidate(candidate, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// WriteRTP forwards one marshaled RTP packet to the video track.
func (s *Session) WriteRTP(packet []byte) error {
	s.mu.Lock()
	track, closed := s.video, s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if track == nil {
		return errors.New("webrtc: no video track")
	}
	_, err := track.Write(packet)
	return err
}

// Close closes the peer connection. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pc.Close()
}
