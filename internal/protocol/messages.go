package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"bcc950-remote/internal/ptz"
)

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypePTZMove      = "ptz_move"
	TypePTZZoom      = "ptz_zoom"
	TypePTZStop      = "ptz_stop"
	TypePTZReset     = "ptz_reset"
	TypePTZPreset    = "ptz_preset"
	TypePosition     = "position"
	TypePresets      = "presets"
	TypeError        = "error"
)

// Preset actions
const (
	PresetSave   = "save"
	PresetRecall = "recall"
	PresetDelete = "delete"
	PresetList   = "list"
)

// Error codes
const (
	ErrDevice         = "DEVICE_ERROR"
	ErrPersistence    = "PERSISTENCE_ERROR"
	ErrPresetNotFound = "PRESET_NOT_FOUND"
	ErrRTSP           = "RTSP_ERROR"
	ErrInvalidMessage = "INVALID_MESSAGE"
)

// MaxMoveDuration caps a single remote move so a lost stop cannot leave the
// motors running for long.
const MaxMoveDuration = 5 * time.Second

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload is sent once when a client connects.
type StatusPayload struct {
	Device   string       `json:"device"`
	HasPTZ   bool         `json:"has_ptz"`
	Video    bool         `json:"video"`
	RTSPURL  string       `json:"rtsp_url,omitempty"`
	ClientID string       `json:"client_id"`
	Position ptz.Position `json:"position"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// MovePayload pans and tilts for DurationMS. Directions are clamped to
// -1, 0 or 1 by the motion controller. A zero duration means
// ptz.DefaultMoveDuration.
type MovePayload struct {
	Pan        int  `json:"pan"`
	Tilt       int  `json:"tilt"`
	DurationMS int  `json:"duration_ms"`
	Zoom       *int `json:"zoom,omitempty"`
}

// Duration validates and converts DurationMS.
func (p MovePayload) Duration() (time.Duration, error) {
	if p.DurationMS < 0 {
		return 0, fmt.Errorf("duration_ms must not be negative, got %d", p.DurationMS)
	}
	if p.DurationMS == 0 {
		return ptz.DefaultMoveDuration, nil
	}
	d := time.Duration(p.DurationMS) * time.Millisecond
	if d > MaxMoveDuration {
		return 0, fmt.Errorf("duration_ms must be at most %d, got %d", MaxMoveDuration.Milliseconds(), p.DurationMS)
	}
	return d, nil
}

// ZoomPayload sets zoom absolutely (Value) or relatively (Delta). Exactly
// one must be given.
type ZoomPayload struct {
	Value *int `json:"value,omitempty"`
	Delta *int `json:"delta,omitempty"`
}

// Validate reports a payload that names neither or both fields.
func (p ZoomPayload) Validate() error {
	if (p.Value == nil) == (p.Delta == nil) {
		return fmt.Errorf("exactly one of value or delta is required")
	}
	return nil
}

// PresetPayload for preset save/recall/delete/list
type PresetPayload struct {
	Action string `json:"action"`
	Name   string `json:"name,omitempty"`
}

// Validate checks the action and that a name accompanies it where needed.
func (p PresetPayload) Validate() error {
	switch p.Action {
	case PresetList:
		return nil
	case PresetSave, PresetRecall, PresetDelete:
		if p.Name == "" {
			return fmt.Errorf("preset %s needs a name", p.Action)
		}
		return nil
	default:
		return fmt.Errorf("unknown preset action %q", p.Action)
	}
}

// PresetsPayload lists every saved preset.
type PresetsPayload struct {
	Presets map[string]ptz.Position `json:"presets"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// Encode marshals a message of msgType carrying payload.
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// ParsePayload unmarshals the payload into the given struct. An absent
// payload leaves v at its zero value.
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
