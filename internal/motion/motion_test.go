package motion

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/v4l2"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// sleepLog records each wait and how many writes preceded it.
type sleepLog struct {
	rec   *v4l2.Recorder
	waits []time.Duration
	after []int
}

func (s *sleepLog) sleep(d time.Duration) {
	s.waits = append(s.waits, d)
	s.after = append(s.after, len(s.rec.Calls()))
}

func newTestController(t *testing.T) (*Controller, *v4l2.Recorder, *sleepLog) {
	t.Helper()
	rec := v4l2.NewRecorder()
	sl := &sleepLog{rec: rec}
	return New(rec, WithSleep(sl.sleep)), rec, sl
}

func assertCalls(t *testing.T, got []v4l2.Call, want ...v4l2.Call) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPanWritesStartThenStop(t *testing.T) {
	c, rec, sl := newTestController(t)

	if err := c.Pan(-1, 300*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.PanSpeed, Value: -1},
		v4l2.Call{ID: v4l2.PanSpeed, Value: 0},
	)
	if len(sl.waits) != 1 || sl.waits[0] != 300*time.Millisecond {
		t.Errorf("waits = %v, want [300ms]", sl.waits)
	}
	if sl.after[0] != 1 {
		t.Errorf("wait happened after %d writes, want 1", sl.after[0])
	}
	if p := c.Position(); !floatEquals(p.Pan, -0.3) || p.Tilt != 0 {
		t.Errorf("position = %+v, want pan -0.3", p)
	}
}

func TestPanClampsDirection(t *testing.T) {
	c, rec, _ := newTestController(t)

	if err := c.Pan(7, ptz.DefaultMoveDuration); err != nil {
		t.Fatal(err)
	}
	if got := rec.Calls()[0]; got.Value != 1 {
		t.Errorf("start speed = %d, want 1", got.Value)
	}
	if p := c.Position(); !floatEquals(p.Pan, 0.1) {
		t.Errorf("pan = %v, want 0.1", p.Pan)
	}
}

func TestTiltWritesStartThenStop(t *testing.T) {
	c, rec, _ := newTestController(t)

	if err := c.Tilt(1, 500*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.TiltSpeed, Value: 1},
		v4l2.Call{ID: v4l2.TiltSpeed, Value: 0},
	)
	if p := c.Position(); !floatEquals(p.Tilt, 0.5) || p.Pan != 0 {
		t.Errorf("position = %+v", p)
	}
}

func TestMoveSharesOneWait(t *testing.T) {
	c, rec, sl := newTestController(t)

	if err := c.Move(1, -1, 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.PanSpeed, Value: 1},
		v4l2.Call{ID: v4l2.TiltSpeed, Value: -1},
		v4l2.Call{ID: v4l2.PanSpeed, Value: 0},
		v4l2.Call{ID: v4l2.TiltSpeed, Value: 0},
	)
	if len(sl.waits) != 1 {
		t.Fatalf("waits = %v, want exactly one", sl.waits)
	}
	if sl.after[0] != 2 {
		t.Errorf("wait after %d writes, want 2", sl.after[0])
	}
	p := c.Position()
	if !floatEquals(p.Pan, 0.2) || !floatEquals(p.Tilt, -0.2) {
		t.Errorf("position = %+v", p)
	}
}

func TestMoveWithZoom(t *testing.T) {
	c, rec, sl := newTestController(t)

	if err := c.MoveWithZoom(-3, 0, 9999, time.Second); err != nil {
		t.Fatal(err)
	}

	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.PanSpeed, Value: -1},
		v4l2.Call{ID: v4l2.TiltSpeed, Value: 0},
		v4l2.Call{ID: v4l2.ZoomAbsolute, Value: ptz.ZoomMax},
		v4l2.Call{ID: v4l2.PanSpeed, Value: 0},
		v4l2.Call{ID: v4l2.TiltSpeed, Value: 0},
	)
	if sl.after[0] != 3 {
		t.Errorf("wait after %d writes, want 3", sl.after[0])
	}
	p := c.Position()
	if !floatEquals(p.Pan, -1) || p.Tilt != 0 || p.Zoom != ptz.ZoomMax {
		t.Errorf("position = %+v", p)
	}
}

func TestZoomToClamps(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{9999, 500},
		{-100, 100},
		{350, 350},
	}
	for _, tt := range tests {
		c, rec, sl := newTestController(t)
		if err := c.ZoomTo(tt.in); err != nil {
			t.Fatal(err)
		}
		if got := rec.Value(v4l2.ZoomAbsolute); got != int32(tt.want) {
			t.Errorf("ZoomTo(%d) wrote %d, want %d", tt.in, got, tt.want)
		}
		if got := c.Position().Zoom; got != tt.want {
			t.Errorf("ZoomTo(%d) stored %d, want %d", tt.in, got, tt.want)
		}
		if len(sl.waits) != 0 {
			t.Errorf("ZoomTo waited %v", sl.waits)
		}
	}
}

func TestZoomByIsRelativeToEstimate(t *testing.T) {
	c, rec, _ := newTestController(t)

	if err := c.ZoomBy(50); err != nil {
		t.Fatal(err)
	}
	if got := c.Position().Zoom; got != 150 {
		t.Errorf("zoom = %d, want 150", got)
	}

	if err := c.ZoomTo(480); err != nil {
		t.Fatal(err)
	}
	if err := c.ZoomBy(50); err != nil {
		t.Fatal(err)
	}
	if got := rec.Value(v4l2.ZoomAbsolute); got != 500 {
		t.Errorf("device zoom = %d, want 500", got)
	}

	if err := c.ZoomBy(-1000); err != nil {
		t.Fatal(err)
	}
	if got := c.Position().Zoom; got != ptz.ZoomMin {
		t.Errorf("zoom = %d, want %d", got, ptz.ZoomMin)
	}
}

func TestStopLeavesPositionAlone(t *testing.T) {
	c, rec, _ := newTestController(t)
	c.ZoomTo(300)
	c.Pan(1, time.Second)
	before := c.Position()
	rec.ClearCalls()

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.PanSpeed, Value: 0},
		v4l2.Call{ID: v4l2.TiltSpeed, Value: 0},
	)
	if c.Position() != before {
		t.Errorf("position changed: %+v -> %+v", before, c.Position())
	}
}

func TestStopAttemptsBothOnPanFailure(t *testing.T) {
	c, rec, _ := newTestController(t)
	rec.Seed(v4l2.TiltSpeed, 1)
	boom := errors.New("EIO")
	rec.FailSet(func(call v4l2.Call) error {
		if call.ID == v4l2.PanSpeed {
			return boom
		}
		return nil
	})

	if err := c.Stop(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	assertCalls(t, rec.Calls(), v4l2.Call{ID: v4l2.TiltSpeed, Value: 0})
	if got := rec.Value(v4l2.TiltSpeed); got != 0 {
		t.Errorf("tilt speed = %d, want 0", got)
	}
}

func TestZoomByExtremeDeltas(t *testing.T) {
	c, rec, _ := newTestController(t)

	if err := c.ZoomBy(math.MaxInt); err != nil {
		t.Fatal(err)
	}
	if got := c.Position().Zoom; got != ptz.ZoomMax {
		t.Errorf("zoom = %d, want %d", got, ptz.ZoomMax)
	}
	if got := rec.Value(v4l2.ZoomAbsolute); got != ptz.ZoomMax {
		t.Errorf("device zoom = %d, want %d", got, ptz.ZoomMax)
	}

	if err := c.ZoomBy(math.MinInt); err != nil {
		t.Fatal(err)
	}
	if got := c.Position().Zoom; got != ptz.ZoomMin {
		t.Errorf("zoom = %d, want %d", got, ptz.ZoomMin)
	}
}

func TestStartFailureLeavesPositionUnchanged(t *testing.T) {
	c, rec, sl := newTestController(t)
	boom := errors.New("EIO")
	rec.FailSet(func(call v4l2.Call) error {
		if call.ID == v4l2.PanSpeed && call.Value != 0 {
			return boom
		}
		return nil
	})

	err := c.Pan(1, time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	var devErr *v4l2.Error
	if !errors.As(err, &devErr) || devErr.Control != v4l2.PanSpeed {
		t.Errorf("err = %#v, want *v4l2.Error for pan_speed", err)
	}
	if c.Position() != ptz.NewPosition() {
		t.Errorf("position = %+v, want origin", c.Position())
	}
	if len(sl.waits) != 0 {
		t.Error("waited after failed start")
	}
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestStopFailureForcesStop(t *testing.T) {
	c, rec, _ := newTestController(t)
	boom := errors.New("EIO")
	zeroAttempts := 0
	rec.FailSet(func(call v4l2.Call) error {
		if call.ID == v4l2.PanSpeed && call.Value == 0 {
			zeroAttempts++
			if zeroAttempts == 1 {
				return boom
			}
		}
		return nil
	})

	err := c.Pan(1, time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if zeroAttempts != 2 {
		t.Errorf("zero writes attempted %d times, want 2", zeroAttempts)
	}
	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.PanSpeed, Value: 1},
		v4l2.Call{ID: v4l2.PanSpeed, Value: 0},
	)
	if c.Position() != ptz.NewPosition() {
		t.Errorf("position = %+v, want origin", c.Position())
	}
}

func TestMoveSecondStartFailureHaltsFirstAxis(t *testing.T) {
	c, rec, sl := newTestController(t)
	rec.FailSet(func(call v4l2.Call) error {
		if call.ID == v4l2.TiltSpeed {
			return errors.New("EINVAL")
		}
		return nil
	})

	if err := c.Move(1, 1, time.Second); err == nil {
		t.Fatal("expected error")
	}
	assertCalls(t, rec.Calls(),
		v4l2.Call{ID: v4l2.PanSpeed, Value: 1},
		v4l2.Call{ID: v4l2.PanSpeed, Value: 0},
	)
	if len(sl.waits) != 0 {
		t.Error("waited after failed start")
	}
}

func TestClosedDevicePropagatesError(t *testing.T) {
	c, rec, _ := newTestController(t)
	rec.Close()

	for name, op := range map[string]func() error{
		"pan":  func() error { return c.Pan(1, 0) },
		"zoom": func() error { return c.ZoomTo(200) },
		"stop": c.Stop,
	} {
		if err := op(); !errors.Is(err, v4l2.ErrNotOpen) {
			t.Errorf("%s: err = %v, want ErrNotOpen", name, err)
		}
	}
}

func TestResetPosition(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Move(1, 1, 2*time.Second)
	c.ZoomTo(400)

	c.ResetPosition()
	if c.Position() != ptz.NewPosition() {
		t.Errorf("position = %+v, want origin", c.Position())
	}
}

func TestWithPosition(t *testing.T) {
	rec := v4l2.NewRecorder()
	c := New(rec, WithPosition(ptz.Position{Pan: 1, Zoom: 480}), WithSleep(func(time.Duration) {}))
	if err := c.ZoomBy(50); err != nil {
		t.Fatal(err)
	}
	if got := c.Position().Zoom; got != 500 {
		t.Errorf("zoom = %d, want 500", got)
	}
}

func TestConcurrentMovesDoNotInterleave(t *testing.T) {
	rec := v4l2.NewRecorder()
	c := New(rec, WithSleep(func(time.Duration) { time.Sleep(time.Millisecond) }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.Pan(1, 10*time.Millisecond)
			} else {
				c.Tilt(-1, 10*time.Millisecond)
			}
		}()
	}
	wg.Wait()

	calls := rec.Calls()
	if len(calls) != 16 {
		t.Fatalf("calls = %d, want 16", len(calls))
	}
	for i := 0; i < len(calls); i += 2 {
		start, stop := calls[i], calls[i+1]
		if start.ID != stop.ID || start.Value == 0 || stop.Value != 0 {
			t.Fatalf("calls %d-%d interleaved: %+v %+v", i, i+1, start, stop)
		}
	}

	p := c.Position()
	if !floatEquals(p.Pan, 0.04) || !floatEquals(p.Tilt, -0.04) {
		t.Errorf("position = %+v, want pan 0.04 tilt -0.04", p)
	}
}
