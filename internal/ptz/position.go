package ptz

import (
	"fmt"
	"math"
	"time"
)

// Fixed limits. The BCC950 has no pan/tilt readback, so pan and tilt are
// estimated in movement-seconds (speed x elapsed time).
const (
	ZoomMin     = 100
	ZoomMax     = 500
	ZoomDefault = ZoomMin

	SpeedMin = -1
	SpeedMax = 1

	PanMin  = -5.0
	PanMax  = 5.0
	TiltMin = -3.0
	TiltMax = 3.0

	DefaultPanSpeed  = 1
	DefaultTiltSpeed = 1
	DefaultZoomStep  = 10

	DefaultMoveDuration = 100 * time.Millisecond
)

// Position is the dead-reckoned camera orientation. It drifts whenever the
// motor stalls or hits a mechanical stop, so treat it as an estimate.
//
// Position has no locking of its own; the motion controller that owns it
// mutates it only while holding its lock.
type Position struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
	Zoom int     `json:"zoom"`
}

// NewPosition returns the origin: zero pan and tilt, default zoom.
func NewPosition() Position {
	return Position{Zoom: ZoomDefault}
}

// UpdatePan adds speed x d to pan, clamped to [PanMin, PanMax].
func (p *Position) UpdatePan(speed int, d time.Duration) {
	p.Pan = clampFloat(p.Pan+float64(speed)*d.Seconds(), PanMin, PanMax)
}

// UpdateTilt adds speed x d to tilt, clamped to [TiltMin, TiltMax].
func (p *Position) UpdateTilt(speed int, d time.Duration) {
	p.Tilt = clampFloat(p.Tilt+float64(speed)*d.Seconds(), TiltMin, TiltMax)
}

// UpdateZoom sets zoom to value, clamped. Zoom is absolute, not additive.
func (p *Position) UpdateZoom(value int) {
	p.Zoom = ClampZoom(value)
}

// DistanceTo is the Euclidean pan/tilt distance to o. Zoom is ignored.
func (p Position) DistanceTo(o Position) float64 {
	return math.Hypot(p.Pan-o.Pan, p.Tilt-o.Tilt)
}

// Reset returns p to the origin.
func (p *Position) Reset() {
	*p = NewPosition()
}

func (p Position) String() string {
	return fmt.Sprintf("pan=%.2f tilt=%.2f zoom=%d", p.Pan, p.Tilt, p.Zoom)
}

// ClampSpeed limits a direction to {-1, 0, 1}.
func ClampSpeed(v int) int {
	return min(max(v, SpeedMin), SpeedMax)
}

// ClampZoom limits v to [ZoomMin, ZoomMax].
func ClampZoom(v int) int {
	return min(max(v, ZoomMin), ZoomMax)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
