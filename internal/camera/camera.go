// Package camera is the high-level BCC950 API used by the CLI, the
// remote-control server and the MQTT bridge.
package camera

import (
	"errors"
	"log/slog"
	"time"

	"bcc950-remote/internal/config"
	"bcc950-remote/internal/preset"
	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/v4l2"
)

// Camera combines a device, its motion controller, the preset store and
// the defaults from the config file.
type Camera struct {
	cfg     *config.Config
	dev     v4l2.Device
	motion  ptz.Controller
	presets *preset.Store
	logger  *slog.Logger
}

// New wires the parts together. dev must be the device motion drives;
// Close closes it.
func New(cfg *config.Config, dev v4l2.Device, motion ptz.Controller, presets *preset.Store, logger *slog.Logger) *Camera {
	if logger == nil {
		logger = slog.Default()
	}
	return &Camera{
		cfg:     cfg,
		dev:     dev,
		motion:  motion,
		presets: presets,
		logger:  logger.With("component", "camera"),
	}
}

func (c *Camera) DevicePath() string     { return c.dev.Path() }
func (c *Camera) Config() *config.Config { return c.cfg }

// Position returns the current estimate.
func (c *Camera) Position() ptz.Position { return c.motion.Position() }

func (c *Camera) PanLeft(d time.Duration) error  { return c.motion.Pan(-c.cfg.PanSpeed(), d) }
func (c *Camera) PanRight(d time.Duration) error { return c.motion.Pan(c.cfg.PanSpeed(), d) }
func (c *Camera) TiltUp(d time.Duration) error   { return c.motion.Tilt(c.cfg.TiltSpeed(), d) }
func (c *Camera) TiltDown(d time.Duration) error { return c.motion.Tilt(-c.cfg.TiltSpeed(), d) }

// ZoomIn zooms in by the configured step.
func (c *Camera) ZoomIn() error { return c.motion.ZoomBy(c.cfg.ZoomStep()) }

// ZoomOut zooms out by the configured step.
func (c *Camera) ZoomOut() error { return c.motion.ZoomBy(-c.cfg.ZoomStep()) }

func (c *Camera) Pan(direction int, d time.Duration) error  { return c.motion.Pan(direction, d) }
func (c *Camera) Tilt(direction int, d time.Duration) error { return c.motion.Tilt(direction, d) }
func (c *Camera) ZoomBy(delta int) error                    { return c.motion.ZoomBy(delta) }

// Move pans and tilts together for d.
func (c *Camera) Move(panDir, tiltDir int, d time.Duration) error {
	return c.motion.Move(panDir, tiltDir, d)
}

// MoveWithZoom pans, tilts and sets zoom together.
func (c *Camera) MoveWithZoom(panDir, tiltDir, zoom int, d time.Duration) error {
	return c.motion.MoveWithZoom(panDir, tiltDir, zoom, d)
}

// ZoomTo sets absolute zoom.
func (c *Camera) ZoomTo(value int) error { return c.motion.ZoomTo(value) }

// Stop halts pan and tilt.
func (c *Camera) Stop() error { return c.motion.Stop() }

// Reset nudges each axis both ways, zooms fully out and zeroes the
// estimate. The steps are locked one at a time, so another caller's
// command may land between them.
func (c *Camera) Reset() error {
	d := ptz.DefaultMoveDuration
	steps := []func() error{
		func() error { return c.motion.Pan(1, d) },
		func() error { return c.motion.Pan(-1, d) },
		func() error { return c.motion.Tilt(1, d) },
		func() error { return c.motion.Tilt(-1, d) },
		func() error { return c.motion.ZoomTo(ptz.ZoomMin) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	c.motion.ResetPosition()
	return nil
}

// SavePreset stores the current estimate under name.
func (c *Camera) SavePreset(name string) error {
	pos := c.motion.Position()
	if err := c.presets.Save(name, pos); err != nil {
		return err
	}
	c.logger.Info("preset saved", "name", name, "position", pos.String())
	return nil
}

// RecallPreset replays the preset's zoom. Pan and tilt cannot be replayed
// because the hardware has no absolute positioning. It reports false when
// no preset has that name.
func (c *Camera) RecallPreset(name string) (bool, error) {
	pos, ok := c.presets.Recall(name)
	if !ok {
		return false, nil
	}
	if err := c.motion.ZoomTo(pos.Zoom); err != nil {
		return true, err
	}
	c.logger.Info("preset recalled", "name", name, "zoom", pos.Zoom)
	return true, nil
}

// DeletePreset removes name and reports whether it existed.
func (c *Camera) DeletePreset(name string) (bool, error) {
	return c.presets.Delete(name)
}

// ListPresets returns the preset names, sorted.
func (c *Camera) ListPresets() []string { return c.presets.List() }

// Presets returns every preset.
func (c *Camera) Presets() map[string]ptz.Position { return c.presets.All() }

// Zoom reads the zoom control back from the hardware.
func (c *Camera) Zoom() (int, error) {
	v, err := c.dev.GetControl(v4l2.ZoomAbsolute)
	return int(v), err
}

// HasPTZ reports whether the device exposes pan, tilt and zoom.
func (c *Camera) HasPTZ() bool { return v4l2.HasPTZ(c.dev) }

// Info describes the device's PTZ controls.
func (c *Camera) Info() ([]v4l2.ControlInfo, error) {
	var infos []v4l2.ControlInfo
	var errs []error
	for _, id := range v4l2.PTZControls {
		info, err := c.dev.QueryControl(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, errors.Join(errs...)
}

// Close stops any motion and releases the device.
func (c *Camera) Close() error {
	var stopErr error
	if c.dev.IsOpen() {
		stopErr = c.motion.Stop()
	}
	return errors.Join(stopErr, c.dev.Close())
}
