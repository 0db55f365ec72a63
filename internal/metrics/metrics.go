// Package metrics exposes Prometheus counters for control writes and
// commands, and gauges for the position estimate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/v4l2"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	controlWrites *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		controlWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bcc950_control_writes_total",
				Help: "V4L2 control writes by control and result.",
			},
			[]string{"control", "result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bcc950_commands_total",
				Help: "PTZ commands by source, command, and result.",
			},
			[]string{"source", "command", "result"},
		),
	}
	reg.MustRegister(m.controlWrites, m.commands)
	return m
}

// WatchPosition registers gauges that read the estimate on scrape.
func (m *Metrics) WatchPosition(reg prometheus.Registerer, pos func() ptz.Position) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bcc950_estimated_pan",
			Help: "Dead-reckoned pan in movement-seconds.",
		}, func() float64 { return pos().Pan }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bcc950_estimated_tilt",
			Help: "Dead-reckoned tilt in movement-seconds.",
		}, func() float64 { return pos().Tilt }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bcc950_zoom",
			Help: "Last commanded absolute zoom.",
		}, func() float64 { return float64(pos().Zoom) }),
	)
}

// ObserveCommand counts one command from source.
func (m *Metrics) ObserveCommand(source, command string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(source, command, result(err)).Inc()
}

func (m *Metrics) observeWrite(id v4l2.ControlID, err error) {
	if m == nil {
		return
	}
	m.controlWrites.WithLabelValues(id.String(), result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// InstrumentDevice wraps dev so every SetControl is counted.
func InstrumentDevice(dev v4l2.Device, m *Metrics) v4l2.Device {
	if m == nil {
		return dev
	}
	return &instrumented{Device: dev, m: m}
}

type instrumented struct {
	v4l2.Device
	m *Metrics
}

func (d *instrumented) SetControl(id v4l2.ControlID, value int32) error {
	err := d.Device.SetControl(id, value)
	d.m.observeWrite(id, err)
	return err
}
