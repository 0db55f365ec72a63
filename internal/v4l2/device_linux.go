//go:build linux

package v4l2

import (
	"bytes"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request codes, _IOWR('V', nr, size).
const (
	vidiocGCtrl     = 0xc008561b // VIDIOC_G_CTRL, struct v4l2_control
	vidiocSCtrl     = 0xc008561c // VIDIOC_S_CTRL, struct v4l2_control
	vidiocQueryCtrl = 0xc0445624 // VIDIOC_QUERYCTRL, struct v4l2_queryctrl
)

// struct v4l2_control
type control struct {
	ID    uint32
	Value int32
}

// struct v4l2_queryctrl
type queryCtrl struct {
	ID           uint32
	Type         uint32
	Name         [32]byte
	Minimum      int32
	Maximum      int32
	Step         int32
	DefaultValue int32
	Flags        uint32
	Reserved     [2]uint32
}

// File is a Device backed by a V4L2 device node.
type File struct {
	mu   sync.Mutex
	fd   int
	path string
}

// NewFile returns a closed File.
func NewFile() *File {
	return &File{fd: -1}
}

// OpenFile opens path and returns the File as a Device.
func OpenFile(path string) (Device, error) {
	f := NewFile()
	if err := f.Open(path); err != nil {
		return nil, err
	}
	return f, nil
}

// Open opens the device node read-write and non-blocking. An already open
// handle is closed first.
func (f *File) Open(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd >= 0 {
		unix.Close(f.fd)
		f.fd = -1
		f.path = ""
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return &Error{Op: OpOpen, Path: path, Err: err}
	}
	f.fd = fd
	f.path = path
	return nil
}

// Close closes the device node.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	f.path = ""
	return err
}

func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd >= 0
}

func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// SetControl issues VIDIOC_S_CTRL.
func (f *File) SetControl(id ControlID, value int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd < 0 {
		return &Error{Op: OpSet, Control: id, Value: value, Err: ErrNotOpen}
	}
	ctrl := control{ID: uint32(id), Value: value}
	if err := ioctl(f.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return &Error{Op: OpSet, Path: f.path, Control: id, Value: value, Err: err}
	}
	return nil
}

// GetControl issues VIDIOC_G_CTRL.
func (f *File) GetControl(id ControlID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd < 0 {
		return 0, &Error{Op: OpGet, Control: id, Err: ErrNotOpen}
	}
	ctrl := control{ID: uint32(id)}
	if err := ioctl(f.fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, &Error{Op: OpGet, Path: f.path, Control: id, Err: err}
	}
	return ctrl.Value, nil
}

// QueryControl issues VIDIOC_QUERYCTRL.
func (f *File) QueryControl(id ControlID) (ControlInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd < 0 {
		return ControlInfo{}, &Error{Op: OpQuery, Control: id, Err: ErrNotOpen}
	}
	q := queryCtrl{ID: uint32(id)}
	if err := ioctl(f.fd, vidiocQueryCtrl, unsafe.Pointer(&q)); err != nil {
		return ControlInfo{}, &Error{Op: OpQuery, Path: f.path, Control: id, Err: err}
	}

	name := q.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return ControlInfo{
		ID:      ControlID(q.ID),
		Type:    q.Type,
		Name:    string(name),
		Minimum: q.Minimum,
		Maximum: q.Maximum,
		Step:    q.Step,
		Default: q.DefaultValue,
		Flags:   q.Flags,
	}, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
