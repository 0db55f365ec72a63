package v4l2

import "fmt"

// ControlID is a V4L2 control identifier.
type ControlID uint32

// Camera class control IDs from linux/v4l2-controls.h
// (V4L2_CID_CAMERA_CLASS_BASE = 0x009a0900).
const (
	ZoomAbsolute ControlID = 0x009a090d // V4L2_CID_ZOOM_ABSOLUTE
	PanSpeed     ControlID = 0x009a0920 // V4L2_CID_PAN_SPEED
	TiltSpeed    ControlID = 0x009a0921 // V4L2_CID_TILT_SPEED
)

// String returns the name v4l2-ctl uses for the control.
func (id ControlID) String() string {
	switch id {
	case PanSpeed:
		return "pan_speed"
	case TiltSpeed:
		return "tilt_speed"
	case ZoomAbsolute:
		return "zoom_absolute"
	}
	return fmt.Sprintf("0x%08x", uint32(id))
}

// Control types (enum v4l2_ctrl_type)
const (
	CtrlTypeInteger uint32 = 1
	CtrlTypeBoolean uint32 = 2
	CtrlTypeMenu    uint32 = 3
	CtrlTypeButton  uint32 = 4
)

const ctrlFlagDisabled = 0x0001

// ControlInfo is the driver's declared metadata for a control.
// The range is informational only; callers clamp against their own bounds.
type ControlInfo struct {
	ID      ControlID
	Type    uint32
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// Disabled reports whether the driver marks the control as permanently disabled.
func (c ControlInfo) Disabled() bool {
	return c.Flags&ctrlFlagDisabled != 0
}
