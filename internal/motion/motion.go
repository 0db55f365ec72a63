// Package motion turns move intents into timed V4L2 speed writes.
//
// Every primitive runs its whole set-speed, sleep, stop sequence under one
// mutex, so writes from concurrent callers never interleave. A long move
// cannot be interrupted; a later call waits for it to finish.
package motion

import (
	"log/slog"
	"sync"
	"time"

	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/v4l2"
)

// Controller owns one open device and the position estimate derived from
// what it commanded.
type Controller struct {
	mu     sync.Mutex
	dev    v4l2.Device
	pos    ptz.Position
	sleep  func(time.Duration)
	logger *slog.Logger
}

var _ ptz.Controller = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces time.Sleep, typically with a no-op in tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithPosition seeds the estimate instead of starting at the origin.
func WithPosition(p ptz.Position) Option {
	return func(c *Controller) { c.pos = p }
}

// New creates a Controller driving dev. The caller keeps ownership of
// closing dev.
func New(dev v4l2.Device, opts ...Option) *Controller {
	c := &Controller{
		dev:    dev,
		pos:    ptz.NewPosition(),
		sleep:  time.Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "motion")
	return c
}

type write struct {
	id    v4l2.ControlID
	value int32
}

// Pan drives the pan motor at direction for d.
func (c *Controller) Pan(direction int, d time.Duration) error {
	speed := ptz.ClampSpeed(direction)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.drive([]write{{v4l2.PanSpeed, int32(speed)}}, d); err != nil {
		return err
	}
	c.pos.UpdatePan(speed, d)
	return nil
}

// Tilt drives the tilt motor at direction for d.
func (c *Controller) Tilt(direction int, d time.Duration) error {
	speed := ptz.ClampSpeed(direction)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.drive([]write{{v4l2.TiltSpeed, int32(speed)}}, d); err != nil {
		return err
	}
	c.pos.UpdateTilt(speed, d)
	return nil
}

// Move drives pan and tilt simultaneously with one shared wait.
func (c *Controller) Move(panDir, tiltDir int, d time.Duration) error {
	panSpeed := ptz.ClampSpeed(panDir)
	tiltSpeed := ptz.ClampSpeed(tiltDir)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.drive([]write{
		{v4l2.PanSpeed, int32(panSpeed)},
		{v4l2.TiltSpeed, int32(tiltSpeed)},
	}, d)
	if err != nil {
		return err
	}
	c.pos.UpdatePan(panSpeed, d)
	c.pos.UpdateTilt(tiltSpeed, d)
	return nil
}

// MoveWithZoom is Move with an absolute zoom set before the wait.
func (c *Controller) MoveWithZoom(panDir, tiltDir, zoom int, d time.Duration) error {
	panSpeed := ptz.ClampSpeed(panDir)
	tiltSpeed := ptz.ClampSpeed(tiltDir)
	zoom = ptz.ClampZoom(zoom)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.drive([]write{
		{v4l2.PanSpeed, int32(panSpeed)},
		{v4l2.TiltSpeed, int32(tiltSpeed)},
		{v4l2.ZoomAbsolute, int32(zoom)},
	}, d)
	if err != nil {
		return err
	}
	c.pos.UpdatePan(panSpeed, d)
	c.pos.UpdateTilt(tiltSpeed, d)
	c.pos.UpdateZoom(zoom)
	return nil
}

// ZoomTo sets absolute zoom. Zoom is positional, so there is no wait.
func (c *Controller) ZoomTo(value int) error {
	value = ptz.ClampZoom(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setZoom(value)
}

// ZoomBy moves zoom by delta from the current estimate.
func (c *Controller) ZoomBy(delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Bound delta first so the sum cannot overflow.
	span := ptz.ZoomMax - ptz.ZoomMin
	delta = max(-span, min(delta, span))
	return c.setZoom(ptz.ClampZoom(c.pos.Zoom + delta))
}

// Stop zeroes both speed controls. Both writes are always attempted and the
// first error is returned. Zoom and the estimate are untouched.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for _, id := range []v4l2.ControlID{v4l2.PanSpeed, v4l2.TiltSpeed} {
		if err := c.dev.SetControl(id, 0); err != nil {
			c.logger.Warn("stop write failed", "control", id, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Position returns a copy of the current estimate.
func (c *Controller) Position() ptz.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// ResetPosition returns the estimate to the origin without moving.
func (c *Controller) ResetPosition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos.Reset()
}

func (c *Controller) setZoom(value int) error {
	if err := c.dev.SetControl(v4l2.ZoomAbsolute, int32(value)); err != nil {
		return err
	}
	c.pos.UpdateZoom(value)
	return nil
}

// drive issues starts in order, sleeps d, then zeroes every speed control
// among starts. It must be called with c.mu held.
//
// If a write fails, any speed control already started is zeroed on a best
// effort basis and the first error is returned. Zero writes are safe to
// repeat; the motion itself is never retried.
func (c *Controller) drive(starts []write, d time.Duration) error {
	var speeds []v4l2.ControlID
	for _, w := range starts {
		if err := c.dev.SetControl(w.id, w.value); err != nil {
			c.halt(speeds)
			return err
		}
		if isSpeed(w.id) {
			speeds = append(speeds, w.id)
		}
	}

	c.sleep(d)

	for i, id := range speeds {
		if err := c.dev.SetControl(id, 0); err != nil {
			c.logger.Warn("stop write failed, motor may still be running", "control", id, "err", err)
			c.halt(speeds[i:])
			return err
		}
	}
	return nil
}

func (c *Controller) halt(ids []v4l2.ControlID) {
	for _, id := range ids {
		if err := c.dev.SetControl(id, 0); err != nil {
			c.logger.Error("forced stop failed", "control", id, "err", err)
		}
	}
}

func isSpeed(id v4l2.ControlID) bool {
	return id == v4l2.PanSpeed || id == v4l2.TiltSpeed
}
