package v4l2

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoCamera is returned by Find when no PTZ-capable node exists.
var ErrNoCamera = errors.New("no PTZ camera found")

// PTZControls are the controls a device must expose to be driven.
var PTZControls = []ControlID{PanSpeed, TiltSpeed, ZoomAbsolute}

// HasPTZ reports whether dev exposes every control in PTZControls and
// none of them is disabled.
func HasPTZ(dev Device) bool {
	for _, id := range PTZControls {
		info, err := dev.QueryControl(id)
		if err != nil || info.Disabled() {
			return false
		}
	}
	return true
}

// Finder locates the camera among the video device nodes.
type Finder struct {
	DevGlob   string // default /dev/video*
	SysfsRoot string // default /sys/class/video4linux
	Match     string // substring of the sysfs name preferred over a probe, default BCC950
	Open      OpenFunc
}

// Node is one video device node.
type Node struct {
	Path string
	Name string // from sysfs, empty when unknown
	PTZ  bool
}

func (f Finder) withDefaults() Finder {
	if f.DevGlob == "" {
		f.DevGlob = "/dev/video*"
	}
	if f.SysfsRoot == "" {
		f.SysfsRoot = "/sys/class/video4linux"
	}
	if f.Match == "" {
		f.Match = "BCC950"
	}
	if f.Open == nil {
		f.Open = OpenFile
	}
	return f
}

// List returns every video node with its sysfs name and whether it could
// be opened and exposes PTZ.
func (f Finder) List() ([]Node, error) {
	f = f.withDefaults()
	paths, err := filepath.Glob(f.DevGlob)
	if err != nil {
		return nil, err
	}
	sortNodes(paths)

	nodes := make([]Node, 0, len(paths))
	for _, path := range paths {
		n := Node{Path: path, Name: deviceName(f.SysfsRoot, path)}
		if dev, err := f.Open(path); err == nil {
			n.PTZ = HasPTZ(dev)
			dev.Close()
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Find returns the first node whose sysfs name contains Match and supports
// PTZ, falling back to the first node that supports pan speed at all.
func (f Finder) Find() (string, error) {
	f = f.withDefaults()
	glob, sysfs, match, open := f.DevGlob, f.SysfsRoot, f.Match, f.Open

	nodes, err := filepath.Glob(glob)
	if err != nil {
		return "", err
	}
	sortNodes(nodes)

	var fallback string
	for _, node := range nodes {
		dev, err := open(node)
		if err != nil {
			continue
		}
		named := strings.Contains(deviceName(sysfs, node), match)
		ptz := HasPTZ(dev)
		panOnly := ptz
		if !ptz {
			info, err := dev.QueryControl(PanSpeed)
			panOnly = err == nil && !info.Disabled()
		}
		dev.Close()

		if named && ptz {
			return node, nil
		}
		if fallback == "" && panOnly {
			fallback = node
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNoCamera
}

func deviceName(sysfsRoot, node string) string {
	data, err := os.ReadFile(filepath.Join(sysfsRoot, filepath.Base(node), "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// sortNodes orders /dev/videoN by N so video10 follows video9.
func sortNodes(nodes []string) {
	index := func(node string) int {
		base := filepath.Base(node)
		n, err := strconv.Atoi(strings.TrimLeft(base, "abcdefghijklmnopqrstuvwxyz"))
		if err != nil {
			return -1
		}
		return n
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := index(nodes[i]), index(nodes[j])
		if a != b {
			return a < b
		}
		return nodes[i] < nodes[j]
	})
}
