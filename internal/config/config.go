// Package config holds the camera defaults file (~/.bcc950_config) and the
// optional daemon settings file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"bcc950-remote/internal/ptz"
)

// DefaultFilename is the config file created in the user's home directory.
const DefaultFilename = ".bcc950_config"

// DefaultDevice is used until a config file or discovery says otherwise.
const DefaultDevice = "/dev/video0"

// Recognized keys.
const (
	KeyDevice    = "DEVICE"
	KeyPanSpeed  = "PAN_SPEED"
	KeyTiltSpeed = "TILT_SPEED"
	KeyZoomStep  = "ZOOM_STEP"
)

var knownKeys = []string{KeyDevice, KeyPanSpeed, KeyTiltSpeed, KeyZoomStep}

func defaults() map[string]string {
	return map[string]string{
		KeyDevice:    DefaultDevice,
		KeyPanSpeed:  strconv.Itoa(ptz.DefaultPanSpeed),
		KeyTiltSpeed: strconv.Itoa(ptz.DefaultTiltSpeed),
		KeyZoomStep:  strconv.Itoa(ptz.DefaultZoomStep),
	}
}

func isKnown(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// DefaultPath returns ~/.bcc950_config, or ./.bcc950_config when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, DefaultFilename)
}

// PersistenceError reports that the config file could not be written.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("write config %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config is a KEY=VALUE store. Values are kept as text; typed accessors
// fall back to built-in defaults when the text does not parse.
type Config struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// New returns a Config for path holding the built-in defaults.
func New(path string) *Config {
	return &Config{path: path, data: defaults()}
}

// Path returns the backing file path.
func (c *Config) Path() string { return c.path }

// Load reads the file, if present. Blank lines and lines starting with #
// are skipped, and only recognized keys are taken.
func (c *Config) Load() error {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", c.path, err)
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if !isKnown(key) {
			continue
		}
		c.data[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read config %s: %w", c.path, err)
	}
	return nil
}

// Save writes the recognized keys in fixed order, then any other keys set
// through Set in sorted order, one KEY=VALUE per line.
func (c *Config) Save() error {
	c.mu.RLock()
	var b strings.Builder
	for _, k := range knownKeys {
		fmt.Fprintf(&b, "%s=%s\n", k, c.data[k])
	}
	var extra []string
	for k := range c.data {
		if !isKnown(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(&b, "%s=%s\n", k, c.data[k])
	}
	c.mu.RUnlock()

	if err := os.WriteFile(c.path, []byte(b.String()), 0o644); err != nil {
		return &PersistenceError{Path: c.path, Err: err}
	}
	return nil
}

// Get returns the value for key, or def when unset.
func (c *Config) Get(key, def string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Set stores value under key. Unrecognized keys are kept and saved as-is.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *Config) Device() string {
	return c.Get(KeyDevice, DefaultDevice)
}

func (c *Config) SetDevice(path string) { c.Set(KeyDevice, path) }

func (c *Config) PanSpeed() int {
	return c.intValue(KeyPanSpeed, ptz.DefaultPanSpeed)
}

func (c *Config) SetPanSpeed(v int) { c.Set(KeyPanSpeed, strconv.Itoa(v)) }

func (c *Config) TiltSpeed() int {
	return c.intValue(KeyTiltSpeed, ptz.DefaultTiltSpeed)
}

func (c *Config) SetTiltSpeed(v int) { c.Set(KeyTiltSpeed, strconv.Itoa(v)) }

func (c *Config) ZoomStep() int {
	return c.intValue(KeyZoomStep, ptz.DefaultZoomStep)
}

func (c *Config) SetZoomStep(v int) { c.Set(KeyZoomStep, strconv.Itoa(v)) }

func (c *Config) intValue(key string, def int) int {
	v, err := strconv.Atoi(c.Get(key, ""))
	if err != nil {
		return def
	}
	return v
}
