package v4l2

import "sync"

// Call is one recorded SetControl.
type Call struct {
	ID    ControlID
	Value int32
}

// Recorder is an in-memory Device. It logs every successful SetControl in
// order and keeps the latest value per control for GetControl.
// A new Recorder starts open.
type Recorder struct {
	mu      sync.Mutex
	open    bool
	path    string
	calls   []Call
	values  map[ControlID]int32
	infos   map[ControlID]ControlInfo
	failSet func(Call) error
	failQry map[ControlID]error
	openErr error
}

// NewRecorder returns an open Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		open:    true,
		path:    "recorder",
		values:  make(map[ControlID]int32),
		infos:   make(map[ControlID]ControlInfo),
		failQry: make(map[ControlID]error),
	}
}

func (r *Recorder) Open(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return &Error{Op: OpOpen, Path: path, Err: r.openErr}
	}
	r.open = true
	r.path = path
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.path = ""
	return nil
}

func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Recorder) SetControl(id ControlID, value int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return &Error{Op: OpSet, Control: id, Value: value, Err: ErrNotOpen}
	}
	call := Call{ID: id, Value: value}
	if r.failSet != nil {
		if err := r.failSet(call); err != nil {
			return &Error{Op: OpSet, Path: r.path, Control: id, Value: value, Err: err}
		}
	}
	r.calls = append(r.calls, call)
	r.values[id] = value
	return nil
}

func (r *Recorder) GetControl(id ControlID) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return 0, &Error{Op: OpGet, Control: id, Err: ErrNotOpen}
	}
	return r.values[id], nil
}

func (r *Recorder) QueryControl(id ControlID) (ControlInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return ControlInfo{}, &Error{Op: OpQuery, Control: id, Err: ErrNotOpen}
	}
	if err := r.failQry[id]; err != nil {
		return ControlInfo{}, &Error{Op: OpQuery, Path: r.path, Control: id, Err: err}
	}
	if info, ok := r.infos[id]; ok {
		return info, nil
	}
	return ControlInfo{
		ID:      id,
		Type:    CtrlTypeInteger,
		Name:    id.String(),
		Minimum: 0,
		Maximum: 100,
		Step:    1,
	}, nil
}

// Calls returns a copy of the recorded writes.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// ClearCalls empties the write log but keeps stored values.
func (r *Recorder) ClearCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Value returns the stored value for id, 0 if never set.
func (r *Recorder) Value(id ControlID) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[id]
}

// Seed stores a value without logging a call.
func (r *Recorder) Seed(id ControlID, value int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] = value
}

// SetInfo overrides the metadata QueryControl returns for id.
func (r *Recorder) SetInfo(info ControlInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[info.ID] = info
}

// FailSet installs fn, consulted before every write. A non-nil result
// fails the write and it is not logged. Pass nil to clear.
func (r *Recorder) FailSet(fn func(Call) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSet = fn
}

// FailQuery makes QueryControl(id) fail with err. Pass nil to clear.
func (r *Recorder) FailQuery(id ControlID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failQry, id)
		return
	}
	r.failQry[id] = err
}

// FailOpen makes Open fail with err. Pass nil to clear.
func (r *Recorder) FailOpen(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErr = err
}
