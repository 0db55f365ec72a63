//go:build !linux

package v4l2

// File is a placeholder Device on platforms without V4L2; every
// operation fails.
type File struct{}

func NewFile() *File { return &File{} }

func OpenFile(path string) (Device, error) {
	return nil, &Error{Op: OpOpen, Path: path, Err: ErrUnsupported}
}

func (f *File) Open(path string) error {
	return &Error{Op: OpOpen, Path: path, Err: ErrUnsupported}
}

func (f *File) Close() error { return nil }
func (f *File) IsOpen() bool { return false }
func (f *File) Path() string { return "" }

func (f *File) SetControl(id ControlID, value int32) error {
	return &Error{Op: OpSet, Control: id, Value: value, Err: ErrNotOpen}
}

func (f *File) GetControl(id ControlID) (int32, error) {
	return 0, &Error{Op: OpGet, Control: id, Err: ErrNotOpen}
}

func (f *File) QueryControl(id ControlID) (ControlInfo, error) {
	return ControlInfo{}, &Error{Op: OpQuery, Control: id, Err: ErrNotOpen}
}
