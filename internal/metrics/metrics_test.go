package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/v4l2"
)

func TestInstrumentDeviceCountsWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	rec := v4l2.NewRecorder()
	rec.FailSet(func(c v4l2.Call) error {
		if c.ID == v4l2.ZoomAbsolute {
			return errors.New("ERANGE")
		}
		return nil
	})
	dev := InstrumentDevice(rec, m)

	dev.SetControl(v4l2.PanSpeed, 1)
	dev.SetControl(v4l2.PanSpeed, 0)
	dev.SetControl(v4l2.ZoomAbsolute, 200)

	if got := testutil.ToFloat64(m.controlWrites.WithLabelValues("pan_speed", "ok")); got != 2 {
		t.Errorf("pan_speed ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.controlWrites.WithLabelValues("zoom_absolute", "error")); got != 1 {
		t.Errorf("zoom_absolute error = %v, want 1", got)
	}
	if len(rec.Calls()) != 2 {
		t.Errorf("underlying calls = %d, want 2", len(rec.Calls()))
	}
}

func TestInstrumentDeviceNilMetrics(t *testing.T) {
	rec := v4l2.NewRecorder()
	if dev := InstrumentDevice(rec, nil); dev != v4l2.Device(rec) {
		t.Error("nil metrics should return the device unchanged")
	}
	var m *Metrics
	m.ObserveCommand("cli", "pan", nil)
}

func TestObserveCommand(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveCommand("ws", "move", nil)
	m.ObserveCommand("ws", "move", errors.New("x"))
	m.ObserveCommand("ws", "move", nil)

	if got := testutil.ToFloat64(m.commands.WithLabelValues("ws", "move", "ok")); got != 2 {
		t.Errorf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("ws", "move", "error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestWatchPosition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	pos := ptz.Position{Pan: 1.5, Tilt: -0.5, Zoom: 320}
	m.WatchPosition(reg, func() ptz.Position { return pos })

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{
		"bcc950_estimated_pan":  1.5,
		"bcc950_estimated_tilt": -0.5,
		"bcc950_zoom":           320,
	}
	for _, mf := range families {
		v, ok := want[mf.GetName()]
		if !ok {
			continue
		}
		if got := mf.GetMetric()[0].GetGauge().GetValue(); got != v {
			t.Errorf("%s = %v, want %v", mf.GetName(), got, v)
		}
		delete(want, mf.GetName())
	}
	if len(want) != 0 {
		t.Errorf("missing gauges: %v", want)
	}
}
