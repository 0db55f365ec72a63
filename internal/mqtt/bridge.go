// Package mqtt exposes the camera to home-automation systems over MQTT.
//
// Commands arrive on <prefix>/cmd/<command> as JSON. After each successful
// command the estimate is published retained on <prefix>/state. The bridge
// availability lives on <prefix>/bridge/state with a last-will of offline.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"bcc950-remote/internal/camera"
	"bcc950-remote/internal/metrics"
	"bcc950-remote/internal/protocol"
	"bcc950-remote/internal/ptz"
)

const source = "mqtt"

// Commands is every command topic suffix the bridge subscribes to.
var Commands = []string{"pan", "tilt", "move", "zoom", "stop", "reset", "preset"}

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string

	Metrics *metrics.Metrics
	// OnPosition, if set, is called after every successful command.
	OnPosition func(ptz.Position)
}

// AxisCommand is the payload of the pan and tilt commands.
type AxisCommand struct {
	Direction  int `json:"direction"`
	DurationMS int `json:"duration_ms"`
}

// Bridge connects the camera to an MQTT broker.
type Bridge struct {
	client  pahomqtt.Client
	cam     *camera.Camera
	cfg     Config
	prefix  string
	logger  *slog.Logger
	publish func(topic string, payload []byte, retained bool)
}

func newBridge(cam *camera.Camera, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		cam:    cam,
		cfg:    cfg,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		logger: logger.With("component", "mqtt"),
	}
	b.publish = b.publishMQTT
	return b
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(cam *camera.Camera, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(cam, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bcc950-remote"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.topic("bridge/state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected", "broker", cfg.Broker)
			b.publish(b.topic("bridge/state"), []byte("online"), true)
			b.subscribeCommands()
			b.PublishState(b.cam.Position())
			b.publishPresets()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	if err := connect(b.client, 10*time.Second); err != nil {
		return nil, err
	}
	return b, nil
}

// connect waits up to timeout for the first connection. On failure the
// client is disconnected so its retry loop does not outlive the error.
func connect(client pahomqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	var err error
	if !token.WaitTimeout(timeout) {
		err = errors.New("mqtt connect timeout")
	} else if terr := token.Error(); terr != nil {
		err = fmt.Errorf("mqtt connect: %w", terr)
	}
	if err != nil {
		client.Disconnect(0)
	}
	return err
}

// Stop publishes offline state and disconnects.
func (b *Bridge) Stop() {
	b.publish(b.topic("bridge/state"), []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// PublishState publishes pos retained on <prefix>/state.
func (b *Bridge) PublishState(pos ptz.Position) {
	payload, err := json.Marshal(pos)
	if err != nil {
		b.logger.Error("encode state", "err", err)
		return
	}
	b.publish(b.topic("state"), payload, true)
}

func (b *Bridge) publishPresets() {
	payload, err := json.Marshal(b.cam.Presets())
	if err != nil {
		b.logger.Error("encode presets", "err", err)
		return
	}
	b.publish(b.topic("presets"), payload, true)
}

func (b *Bridge) subscribeCommands() {
	filters := make(map[string]byte, len(Commands))
	for _, cmd := range Commands {
		filters[b.topic("cmd/"+cmd)] = 1
	}
	token := b.client.SubscribeMultiple(filters, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMessage(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout")
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe", "err", err)
		}
	}()
}

func (b *Bridge) handleMessage(topic string, payload []byte) {
	cmd, ok := strings.CutPrefix(topic, b.topic("cmd/"))
	if !ok {
		return
	}
	err := b.dispatch(cmd, payload)
	b.cfg.Metrics.ObserveCommand(source, cmd, err)
	if err != nil {
		b.logger.Warn("command failed", "command", cmd, "err", err)
		return
	}
	pos := b.cam.Position()
	b.PublishState(pos)
	if b.cfg.OnPosition != nil {
		b.cfg.OnPosition(pos)
	}
}

func (b *Bridge) dispatch(cmd string, payload []byte) error {
	switch cmd {
	case "pan", "tilt":
		var c AxisCommand
		if err := decode(payload, &c); err != nil {
			return err
		}
		d, err := protocol.MovePayload{DurationMS: c.DurationMS}.Duration()
		if err != nil {
			return err
		}
		if cmd == "pan" {
			return b.cam.Pan(c.Direction, d)
		}
		return b.cam.Tilt(c.Direction, d)

	case "move":
		var c protocol.MovePayload
		if err := decode(payload, &c); err != nil {
			return err
		}
		d, err := c.Duration()
		if err != nil {
			return err
		}
		if c.Zoom != nil {
			return b.cam.MoveWithZoom(c.Pan, c.Tilt, *c.Zoom, d)
		}
		return b.cam.Move(c.Pan, c.Tilt, d)

	case "zoom":
		var c protocol.ZoomPayload
		if err := decode(payload, &c); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Value != nil {
			return b.cam.ZoomTo(*c.Value)
		}
		return b.cam.ZoomBy(*c.Delta)

	case "stop":
		return b.cam.Stop()

	case "reset":
		return b.cam.Reset()

	case "preset":
		var c protocol.PresetPayload
		if err := decode(payload, &c); err != nil {
			return err
		}
		return b.preset(c)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (b *Bridge) preset(c protocol.PresetPayload) error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.Action {
	case protocol.PresetSave:
		if err := b.cam.SavePreset(c.Name); err != nil {
			return err
		}
	case protocol.PresetRecall:
		found, err := b.cam.RecallPreset(c.Name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("preset %q not found", c.Name)
		}
		return nil
	case protocol.PresetDelete:
		existed, err := b.cam.DeletePreset(c.Name)
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("preset %q not found", c.Name)
		}
	}
	b.publishPresets()
	return nil
}

// decode accepts an empty payload as all defaults.
func decode(payload []byte, v any) error {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (b *Bridge) topic(suffix string) string {
	return b.prefix + "/" + suffix
}

func (b *Bridge) publishMQTT(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
