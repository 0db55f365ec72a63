package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Daemon holds the remote-control server settings. It is read from an
// optional YAML file; command-line flags override it.
type Daemon struct {
	Listen string `yaml:"listen"`
	RTSP   struct {
		URL string `yaml:"url"`
	} `yaml:"rtsp"`
	ICEServers []string `yaml:"ice_servers"`
	MQTT       struct {
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultDaemon returns the settings used when no file is given.
func DefaultDaemon() Daemon {
	var d Daemon
	d.Listen = ":8080"
	d.ICEServers = []string{"stun:stun.l.google.com:19302"}
	d.MQTT.ClientID = "bcc950-remote"
	d.MQTT.TopicPrefix = "bcc950"
	d.Log.Level = "info"
	d.Log.Format = "text"
	return d
}

// LoadDaemon reads path over the defaults. An empty path returns the
// defaults; a named file that cannot be read is an error.
func LoadDaemon(path string) (Daemon, error) {
	d := DefaultDaemon()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Daemon{}, fmt.Errorf("read daemon config: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Daemon{}, fmt.Errorf("parse daemon config %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return Daemon{}, fmt.Errorf("daemon config %s: %w", path, err)
	}
	return d, nil
}

// Validate checks values that would otherwise fail late.
func (d *Daemon) Validate() error {
	if d.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch d.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", d.Log.Level)
	}
	switch d.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", d.Log.Format)
	}
	if d.MQTT.Broker != "" && d.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required when mqtt.broker is set")
	}
	return nil
}
