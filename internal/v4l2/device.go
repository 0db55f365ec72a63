// Package v4l2 is the boundary to the kernel video-control subsystem.
// It exposes a Device interface with a real ioctl-backed implementation
// and a Recorder double for tests.
package v4l2

import (
	"errors"
	"fmt"
)

// Device defines the interface for reading and writing camera controls.
type Device interface {
	// Open acquires a handle to the device node at path.
	Open(path string) error

	// Close releases the handle. Closing a closed device is a no-op.
	Close() error

	// IsOpen reports whether a handle is held.
	IsOpen() bool

	// Path returns the path of the open device, or "" when closed.
	Path() string

	// SetControl writes value to the control.
	SetControl(id ControlID, value int32) error

	// GetControl reads the control's current value.
	GetControl(id ControlID) (int32, error)

	// QueryControl returns the control's declared range and type.
	QueryControl(id ControlID) (ControlInfo, error)
}

var (
	// ErrNotOpen is wrapped by operations attempted on a closed device.
	ErrNotOpen = errors.New("device not open")

	// ErrUnsupported is returned on platforms without V4L2.
	ErrUnsupported = errors.New("v4l2 not supported on this platform")
)

// Operation names used in Error.Op.
const (
	OpOpen  = "open"
	OpSet   = "set"
	OpGet   = "get"
	OpQuery = "query"
)

// Error reports a failure at the device boundary.
type Error struct {
	Op      string
	Path    string
	Control ControlID // zero for open
	Value   int32     // only meaningful for set
	Err     error
}

func (e *Error) Error() string {
	switch e.Op {
	case OpOpen:
		return fmt.Sprintf("v4l2 open %s: %v", e.Path, e.Err)
	case OpSet:
		return fmt.Sprintf("v4l2 set %s=%d on %s: %v", e.Control, e.Value, e.pathOrUnknown(), e.Err)
	}
	return fmt.Sprintf("v4l2 %s %s on %s: %v", e.Op, e.Control, e.pathOrUnknown(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) pathOrUnknown() string {
	if e.Path == "" {
		return "<closed>"
	}
	return e.Path
}

// OpenFunc opens a device node and returns a ready Device.
type OpenFunc func(path string) (Device, error)
