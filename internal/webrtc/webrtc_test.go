package webrtc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOfferCarriesH264Track(t *testing.T) {
	s, err := NewSession(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.AddH264Track(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sdp, err := s.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sdp, "m=video") || !strings.Contains(sdp, "H264") {
		t.Errorf("offer lacks H264 video:\n%s", sdp)
	}
}

func TestWriteRTPWithoutTrack(t *testing.T) {
	s, err := NewSession(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.WriteRTP([]byte{0x80}); err == nil {
		t.Error("WriteRTP without a track succeeded")
	}
}

func TestClosedSession(t *testing.T) {
	s, err := NewSession(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := s.AddH264Track(); !errors.Is(err, ErrClosed) {
		t.Errorf("AddH264Track() = %v, want ErrClosed", err)
	}
	if err := s.SetAnswer("v=0"); !errors.Is(err, ErrClosed) {
		t.Errorf("SetAnswer() = %v, want ErrClosed", err)
	}
	if err := s.WriteRTP(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteRTP() = %v, want ErrClosed", err)
	}
}
