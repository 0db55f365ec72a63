package mqtt

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"bcc950-remote/internal/camera"
	"bcc950-remote/internal/config"
	"bcc950-remote/internal/metrics"
	"bcc950-remote/internal/motion"
	"bcc950-remote/internal/preset"
	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/v4l2"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

type sink struct {
	mu  sync.Mutex
	got []published
}

func (s *sink) publish(topic string, payload []byte, retained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, published{topic, string(payload), retained})
}

func (s *sink) last(topic string) (published, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.got) - 1; i >= 0; i-- {
		if s.got[i].topic == topic {
			return s.got[i], true
		}
	}
	return published{}, false
}

func newTestBridge(t *testing.T) (*Bridge, *v4l2.Recorder, *sink) {
	t.Helper()
	dir := t.TempDir()
	rec := v4l2.NewRecorder()
	presets, err := preset.Open(filepath.Join(dir, "presets.json"))
	if err != nil {
		t.Fatal(err)
	}
	ctrl := motion.New(rec, motion.WithSleep(func(time.Duration) {}))
	cam := camera.New(config.New(filepath.Join(dir, "config")), rec, ctrl, presets, nil)

	s := &sink{}
	b := newBridge(cam, Config{TopicPrefix: "office/cam/", Metrics: metrics.New(prometheus.NewRegistry())}, nil)
	b.publish = s.publish
	return b, rec, s
}

func statePosition(t *testing.T, s *sink) ptz.Position {
	t.Helper()
	msg, ok := s.last("office/cam/state")
	if !ok {
		t.Fatal("no state published")
	}
	if !msg.retained {
		t.Error("state not retained")
	}
	var p ptz.Position
	if err := json.Unmarshal([]byte(msg.payload), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPanCommand(t *testing.T) {
	b, rec, s := newTestBridge(t)
	b.handleMessage("office/cam/cmd/pan", []byte(`{"direction":-1,"duration_ms":400}`))

	if p := statePosition(t, s); math.Abs(p.Pan+0.4) > 1e-9 {
		t.Errorf("pan = %v, want -0.4", p.Pan)
	}
	calls := rec.Calls()
	if len(calls) != 2 || calls[0] != (v4l2.Call{ID: v4l2.PanSpeed, Value: -1}) {
		t.Errorf("calls = %+v", calls)
	}
}

func TestTiltDefaultsDuration(t *testing.T) {
	b, _, s := newTestBridge(t)
	b.handleMessage("office/cam/cmd/tilt", []byte(`{"direction":1}`))
	if p := statePosition(t, s); math.Abs(p.Tilt-ptz.DefaultMoveDuration.Seconds()) > 1e-9 {
		t.Errorf("tilt = %v", p.Tilt)
	}
}

func TestMoveAndZoomCommands(t *testing.T) {
	b, _, s := newTestBridge(t)
	b.handleMessage("office/cam/cmd/move", []byte(`{"pan":1,"tilt":1,"duration_ms":1000,"zoom":220}`))
	p := statePosition(t, s)
	if math.Abs(p.Pan-1) > 1e-9 || math.Abs(p.Tilt-1) > 1e-9 || p.Zoom != 220 {
		t.Errorf("after move = %+v", p)
	}

	b.handleMessage("office/cam/cmd/zoom", []byte(`{"delta":30}`))
	if p := statePosition(t, s); p.Zoom != 250 {
		t.Errorf("zoom = %d, want 250", p.Zoom)
	}
}

func TestStopWithEmptyPayload(t *testing.T) {
	b, rec, s := newTestBridge(t)
	b.handleMessage("office/cam/cmd/stop", nil)
	if len(rec.Calls()) != 2 {
		t.Errorf("stop calls = %+v", rec.Calls())
	}
	if _, ok := s.last("office/cam/state"); !ok {
		t.Error("no state after stop")
	}
}

func TestInvalidCommandsPublishNothing(t *testing.T) {
	b, rec, s := newTestBridge(t)
	for topic, payload := range map[string]string{
		"office/cam/cmd/pan":    `{"direction":`,
		"office/cam/cmd/move":   `{"pan":1,"duration_ms":99999}`,
		"office/cam/cmd/zoom":   `{}`,
		"office/cam/cmd/preset": `{"action":"recall","name":"missing"}`,
		"office/cam/cmd/spin":   `{}`,
		"other/cmd/stop":        ``,
	} {
		b.handleMessage(topic, []byte(payload))
	}
	if len(s.got) != 0 {
		t.Errorf("published %+v", s.got)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("device calls %+v", rec.Calls())
	}
}

func TestPresetCommands(t *testing.T) {
	b, _, s := newTestBridge(t)
	b.handleMessage("office/cam/cmd/zoom", []byte(`{"value":300}`))
	b.handleMessage("office/cam/cmd/preset", []byte(`{"action":"save","name":"door"}`))

	msg, ok := s.last("office/cam/presets")
	if !ok {
		t.Fatal("presets not published after save")
	}
	var all map[string]ptz.Position
	if err := json.Unmarshal([]byte(msg.payload), &all); err != nil {
		t.Fatal(err)
	}
	if all["door"].Zoom != 300 {
		t.Errorf("presets = %+v", all)
	}

	b.handleMessage("office/cam/cmd/zoom", []byte(`{"value":100}`))
	b.handleMessage("office/cam/cmd/preset", []byte(`{"action":"recall","name":"door"}`))
	if p := statePosition(t, s); p.Zoom != 300 {
		t.Errorf("zoom after recall = %d", p.Zoom)
	}

	b.handleMessage("office/cam/cmd/preset", []byte(`{"action":"delete","name":"door"}`))
	msg, _ = s.last("office/cam/presets")
	if msg.payload != "{}" {
		t.Errorf("presets after delete = %s", msg.payload)
	}
}

func TestOnPositionHook(t *testing.T) {
	b, _, _ := newTestBridge(t)
	var got []ptz.Position
	b.cfg.OnPosition = func(p ptz.Position) { got = append(got, p) }
	b.handleMessage("office/cam/cmd/reset", nil)
	if len(got) != 1 || got[0] != ptz.NewPosition() {
		t.Errorf("OnPosition = %+v", got)
	}
}

type stubToken struct {
	pahomqtt.Token
	completes bool
	err       error
}

func (t stubToken) WaitTimeout(time.Duration) bool { return t.completes }
func (t stubToken) Error() error                   { return t.err }

type stubClient struct {
	pahomqtt.Client
	token        stubToken
	disconnected bool
}

func (c *stubClient) Connect() pahomqtt.Token { return c.token }
func (c *stubClient) Disconnect(uint)         { c.disconnected = true }

func TestConnectFailureDisconnects(t *testing.T) {
	refused := errors.New("connection refused")
	tests := []struct {
		name           string
		token          stubToken
		wantErr        bool
		wantDisconnect bool
	}{
		{"timeout", stubToken{completes: false}, true, true},
		{"refused", stubToken{completes: true, err: refused}, true, true},
		{"ok", stubToken{completes: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubClient{token: tt.token}
			err := connect(c, time.Millisecond)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if c.disconnected != tt.wantDisconnect {
				t.Errorf("disconnected = %v, want %v", c.disconnected, tt.wantDisconnect)
			}
		})
	}
}
