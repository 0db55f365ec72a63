// Package preset persists named position snapshots to a JSON file.
package preset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"bcc950-remote/internal/ptz"
)

// DefaultFilename is the preset file created in the user's home directory.
const DefaultFilename = ".bcc950_presets.json"

// DefaultPath returns ~/.bcc950_presets.json, or ./.bcc950_presets.json
// when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, DefaultFilename)
}

// PersistenceError reports that the preset file could not be written.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("write presets %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FormatError reports a preset file whose content is not the expected
// name -> {pan, tilt, zoom} object.
type FormatError struct {
	Path   string
	Preset string // empty when the root itself is malformed
	Err    error
}

func (e *FormatError) Error() string {
	if e.Preset == "" {
		return fmt.Sprintf("presets %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("presets %s: preset %q: %v", e.Path, e.Preset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Store is a name -> Position map mirrored to a file after every change.
// Names are case-sensitive and stored as given.
type Store struct {
	mu      sync.RWMutex
	path    string
	presets map[string]ptz.Position
}

// Open loads the store at path. A missing file yields an empty store; a
// file that exists but does not parse fails with *FormatError.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		presets: make(map[string]ptz.Position),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}

	presets, err := Decode(data)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return nil, err
	}
	s.presets = presets
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Save stores a copy of pos under name, replacing any existing preset,
// and writes the file.
func (s *Store) Save(name string, pos ptz.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.presets[name]
	s.presets[name] = pos
	if err := s.flush(); err != nil {
		if existed {
			s.presets[name] = prev
		} else {
			delete(s.presets, name)
		}
		return err
	}
	return nil
}

// Recall returns the preset named name. A missing name is not an error.
func (s *Store) Recall(name string) (ptz.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.presets[name]
	return pos, ok
}

// Delete removes name and writes the file. It reports whether name existed.
func (s *Store) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.presets[name]
	if !ok {
		return false, nil
	}
	delete(s.presets, name)
	if err := s.flush(); err != nil {
		s.presets[name] = prev
		return false, err
	}
	return true, nil
}

// List returns the preset names in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every preset.
func (s *Store) All() map[string]ptz.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ptz.Position, len(s.presets))
	for name, pos := range s.presets {
		out[name] = pos
	}
	return out
}

// flush writes the map to a temp file and renames it over the store file.
// Must be called with s.mu held.
func (s *Store) flush() error {
	data, err := Encode(s.presets)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// record is the on-disk shape of one preset.
type record struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
	Zoom int     `json:"zoom"`
}

// Encode renders presets as an indented JSON object keyed by name.
func Encode(presets map[string]ptz.Position) ([]byte, error) {
	out := make(map[string]record, len(presets))
	for name, pos := range presets {
		out[name] = record{Pan: pos.Pan, Tilt: pos.Tilt, Zoom: pos.Zoom}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses a preset document. It accepts only an object whose values
// are objects with exactly the keys pan, tilt (numbers) and zoom (integer).
func Decode(data []byte) (map[string]ptz.Position, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, &FormatError{Err: err}
	}
	if root == nil {
		return nil, &FormatError{Err: errors.New("root is not an object")}
	}

	presets := make(map[string]ptz.Position, len(root))
	for name, raw := range root {
		pos, err := decodeRecord(raw)
		if err != nil {
			return nil, &FormatError{Preset: name, Err: err}
		}
		presets[name] = pos
	}
	return presets, nil
}

func decodeRecord(raw json.RawMessage) (ptz.Position, error) {
	var fields struct {
		Pan  *float64 `json:"pan"`
		Tilt *float64 `json:"tilt"`
		Zoom *int     `json:"zoom"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fields); err != nil {
		return ptz.Position{}, err
	}

	switch {
	case fields.Pan == nil:
		return ptz.Position{}, errors.New(`missing "pan"`)
	case fields.Tilt == nil:
		return ptz.Position{}, errors.New(`missing "tilt"`)
	case fields.Zoom == nil:
		return ptz.Position{}, errors.New(`missing "zoom"`)
	}
	return ptz.Position{Pan: *fields.Pan, Tilt: *fields.Tilt, Zoom: *fields.Zoom}, nil
}
