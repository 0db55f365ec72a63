package ptz

import "time"

// Controller defines the interface for timed PTZ motion
type Controller interface {
	// Pan drives the pan motor at direction for d, then stops it.
	// direction: -1 (left) to 1 (right)
	Pan(direction int, d time.Duration) error

	// Tilt drives the tilt motor at direction for d, then stops it.
	// direction: -1 (down) to 1 (up)
	Tilt(direction int, d time.Duration) error

	// Move drives both axes together for a single shared d.
	Move(panDir, tiltDir int, d time.Duration) error

	// MoveWithZoom is Move plus an absolute zoom set before the wait.
	MoveWithZoom(panDir, tiltDir, zoom int, d time.Duration) error

	// ZoomTo sets absolute zoom (ZoomMin-ZoomMax)
	ZoomTo(value int) error

	// ZoomBy changes zoom relative to the current estimate
	ZoomBy(delta int) error

	// Stop zeroes both speed controls
	Stop() error

	// Position returns a snapshot of the estimated position
	Position() Position

	// ResetPosition sets the estimate back to the origin
	ResetPosition()
}
