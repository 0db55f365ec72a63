package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"bcc950-remote/internal/camera"
	"bcc950-remote/internal/config"
	"bcc950-remote/internal/metrics"
	"bcc950-remote/internal/motion"
	"bcc950-remote/internal/mqtt"
	"bcc950-remote/internal/preset"
	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/server"
	"bcc950-remote/internal/v4l2"
)

//go:embed web/*
var staticFiles embed.FS

type options struct {
	device   string
	duration time.Duration

	panLeft, panRight bool
	tiltUp, tiltDown  bool
	zoomIn, zoomOut   bool
	zoomValue         int
	move              string

	savePreset, recallPreset, deletePreset string
	listPresets                            bool

	position, reset, setup, list, info bool

	serve      bool
	listen     string
	rtspURL    string
	mqttBroker string
	daemonPath string
	configPath string
	presetPath string
	logLevel   string
}

func main() {
	var o options
	durationSecs := flag.Float64("duration", ptz.DefaultMoveDuration.Seconds(), "Movement duration in seconds")
	flag.StringVar(&o.device, "device", "", "Camera device (default from the config file)")
	flag.BoolVar(&o.panLeft, "pan-left", false, "Pan camera left")
	flag.BoolVar(&o.panRight, "pan-right", false, "Pan camera right")
	flag.BoolVar(&o.tiltUp, "tilt-up", false, "Tilt camera up")
	flag.BoolVar(&o.tiltDown, "tilt-down", false, "Tilt camera down")
	flag.BoolVar(&o.zoomIn, "zoom-in", false, "Zoom camera in by the configured step")
	flag.BoolVar(&o.zoomOut, "zoom-out", false, "Zoom camera out by the configured step")
	flag.IntVar(&o.zoomValue, "zoom-value", -1, "Set zoom to absolute value (100-500)")
	flag.StringVar(&o.move, "move", "", `Combined move "PAN TILT DURATION", e.g. "1 -1 0.5"`)
	flag.StringVar(&o.savePreset, "save-preset", "", "Save current position as preset `NAME`")
	flag.StringVar(&o.recallPreset, "recall-preset", "", "Recall preset `NAME`")
	flag.StringVar(&o.deletePreset, "delete-preset", "", "Delete preset `NAME`")
	flag.BoolVar(&o.listPresets, "list-presets", false, "List all presets")
	flag.BoolVar(&o.position, "position", false, "Show estimated position")
	flag.BoolVar(&o.reset, "reset", false, "Reset camera to default position")
	flag.BoolVar(&o.setup, "setup", false, "Detect camera, save it as the default and test PTZ")
	flag.BoolVar(&o.list, "list", false, "List video devices")
	flag.BoolVar(&o.info, "info", false, "Show camera information")
	flag.BoolVar(&o.serve, "serve", false, "Run the remote-control server")
	flag.StringVar(&o.listen, "listen", "", "HTTP listen address (default :8080)")
	flag.StringVar(&o.rtspURL, "rtsp", "", "RTSP URL of the camera stream for browser video")
	flag.StringVar(&o.mqttBroker, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	flag.StringVar(&o.daemonPath, "config", "", "YAML server config file")
	flag.StringVar(&o.configPath, "camera-config", config.DefaultPath(), "Camera defaults file")
	flag.StringVar(&o.presetPath, "presets", preset.DefaultPath(), "Preset file")
	flag.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()
	d, err := seconds(*durationSecs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-duration:", err)
		os.Exit(2)
	}
	o.duration = d

	os.Exit(run(o, os.Stdout))
}

func run(o options, out io.Writer) int {
	daemon, err := config.LoadDaemon(o.daemonPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if o.listen != "" {
		daemon.Listen = o.listen
	}
	if o.rtspURL != "" {
		daemon.RTSP.URL = o.rtspURL
	}
	if o.mqttBroker != "" {
		daemon.MQTT.Broker = o.mqttBroker
	}
	if o.logLevel != "" {
		daemon.Log.Level = o.logLevel
	}
	if err := daemon.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := newLogger(daemon.Log.Level, daemon.Log.Format)

	cfg := config.New(o.configPath)
	if err := cfg.Load(); err != nil {
		logger.Error("load camera config", "err", err)
		return 1
	}

	switch {
	case o.list:
		return listDevices(out, logger)
	case o.setup:
		return setup(cfg, out, logger)
	}

	devPath := o.device
	if devPath == "" {
		devPath = cfg.Device()
	}

	var (
		reg *prometheus.Registry
		m   *metrics.Metrics
	)
	if o.serve {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	raw, err := v4l2.OpenFile(devPath)
	if err != nil {
		logger.Error("open camera", "err", err)
		return 1
	}
	dev := metrics.InstrumentDevice(raw, m)

	presets, err := preset.Open(o.presetPath)
	if err != nil {
		raw.Close()
		logger.Error("open presets", "err", err)
		return 1
	}

	ctrl := motion.New(dev, motion.WithLogger(logger))
	cam := camera.New(cfg, dev, ctrl, presets, logger)
	defer cam.Close()

	if o.serve {
		m.WatchPosition(reg, cam.Position)
		return serve(cam, daemon, m, reg, logger)
	}
	return command(cam, o, out, logger)
}

func command(cam *camera.Camera, o options, out io.Writer, logger *slog.Logger) int {
	var err error
	switch {
	case o.panLeft:
		err = cam.PanLeft(o.duration)
	case o.panRight:
		err = cam.PanRight(o.duration)
	case o.tiltUp:
		err = cam.TiltUp(o.duration)
	case o.tiltDown:
		err = cam.TiltDown(o.duration)
	case o.zoomIn:
		err = cam.ZoomIn()
	case o.zoomOut:
		err = cam.ZoomOut()

	case o.zoomValue >= 0:
		if err = cam.ZoomTo(o.zoomValue); err == nil {
			fmt.Fprintf(out, "Zoom set to %d\n", cam.Position().Zoom)
		}

	case o.move != "":
		var pan, tilt int
		var d time.Duration
		if pan, tilt, d, err = parseMove(o.move); err == nil {
			if err = cam.Move(pan, tilt, d); err == nil {
				fmt.Fprintf(out, "Moved pan=%d tilt=%d for %gs\n", pan, tilt, d.Seconds())
			}
		}

	case o.savePreset != "":
		if err = cam.SavePreset(o.savePreset); err == nil {
			fmt.Fprintf(out, "Saved preset: %s\n", o.savePreset)
		}
	case o.recallPreset != "":
		found, rerr := cam.RecallPreset(o.recallPreset)
		if !found && rerr == nil {
			fmt.Fprintf(out, "Preset not found: %s\n", o.recallPreset)
			return 1
		}
		if err = rerr; err == nil {
			fmt.Fprintf(out, "Recalled preset: %s\n", o.recallPreset)
		}
	case o.deletePreset != "":
		existed, derr := cam.DeletePreset(o.deletePreset)
		if !existed && derr == nil {
			fmt.Fprintf(out, "Preset not found: %s\n", o.deletePreset)
			return 1
		}
		if err = derr; err == nil {
			fmt.Fprintf(out, "Deleted preset: %s\n", o.deletePreset)
		}
	case o.listPresets:
		names := cam.ListPresets()
		if len(names) == 0 {
			fmt.Fprintln(out, "No presets saved.")
		}
		for _, name := range names {
			fmt.Fprintf(out, "  %s\n", name)
		}

	case o.position:
		p := cam.Position()
		fmt.Fprintf(out, "Pan: %.2f  Tilt: %.2f  Zoom: %d\n", p.Pan, p.Tilt, p.Zoom)

	case o.reset:
		if err = cam.Reset(); err == nil {
			fmt.Fprintln(out, "Camera reset to default position.")
		}

	case o.info:
		printInfo(cam, out)

	default:
		flag.Usage()
	}

	if err != nil {
		logger.Error("command failed", "err", err)
		return 1
	}
	return 0
}

func printInfo(cam *camera.Camera, out io.Writer) {
	fmt.Fprintf(out, "Device: %s\n", cam.DevicePath())
	fmt.Fprintf(out, "PTZ support: %t\n", cam.HasPTZ())
	infos, err := cam.Info()
	for _, info := range infos {
		fmt.Fprintf(out, "  %-14s min=%d max=%d step=%d default=%d\n",
			info.ID, info.Minimum, info.Maximum, info.Step, info.Default)
	}
	if err != nil {
		fmt.Fprintf(out, "  unavailable: %v\n", err)
	}
}

func listDevices(out io.Writer, logger *slog.Logger) int {
	nodes, err := v4l2.Finder{}.List()
	if err != nil {
		logger.Error("list devices", "err", err)
		return 1
	}
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No video devices found.")
	}
	for _, n := range nodes {
		fmt.Fprintf(out, "%s\t%s\tptz=%t\n", n.Path, n.Name, n.PTZ)
	}
	return 0
}

func setup(cfg *config.Config, out io.Writer, logger *slog.Logger) int {
	path, err := v4l2.Finder{}.Find()
	if err != nil {
		logger.Error("find camera", "err", err)
		return 1
	}
	fmt.Fprintf(out, "Found camera at: %s\n", path)

	cfg.SetDevice(path)
	if err := cfg.Save(); err != nil {
		logger.Error("save camera config", "err", err)
		return 1
	}

	dev, err := v4l2.OpenFile(path)
	if err != nil {
		logger.Error("open camera", "err", err)
		return 1
	}
	defer dev.Close()
	fmt.Fprintf(out, "PTZ support: %t\n", v4l2.HasPTZ(dev))
	return 0
}

func serve(cam *camera.Camera, daemon config.Daemon, m *metrics.Metrics, reg *prometheus.Registry, logger *slog.Logger) int {
	webFS, err := fs.Sub(staticFiles, "web")
	if err != nil {
		logger.Error("embedded web files", "err", err)
		return 1
	}

	var bridge *mqtt.Bridge
	srv := server.New(server.Config{
		ListenAddr: daemon.Listen,
		RTSPURL:    daemon.RTSP.URL,
		ICEServers: daemon.ICEServers,
		Metrics:    m,
		Gatherer:   reg,
		OnPosition: func(p ptz.Position) {
			if bridge != nil {
				bridge.PublishState(p)
			}
		},
	}, cam, webFS, logger)

	if daemon.MQTT.Broker != "" {
		bridge, err = mqtt.NewBridge(cam, mqtt.Config{
			Broker:      daemon.MQTT.Broker,
			Username:    daemon.MQTT.Username,
			Password:    daemon.MQTT.Password,
			ClientID:    daemon.MQTT.ClientID,
			TopicPrefix: daemon.MQTT.TopicPrefix,
			Metrics:     m,
			OnPosition:  srv.PublishPosition,
		}, logger)
		if err != nil {
			logger.Error("mqtt bridge", "err", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		if bridge != nil {
			bridge.Stop()
		}
	}()

	logger.Info("BCC950 remote control server",
		"device", cam.DevicePath(),
		"listen", daemon.Listen,
		"rtsp", daemon.RTSP.URL,
		"mqtt", daemon.MQTT.Broker)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		return 1
	}
	return 0
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// parseMove reads "PAN TILT DURATION" with DURATION in seconds.
func parseMove(s string) (pan, tilt int, d time.Duration, err error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("move wants PAN TILT DURATION, got %q", s)
	}
	if pan, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("move pan: %w", err)
	}
	if tilt, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, 0, fmt.Errorf("move tilt: %w", err)
	}
	secs, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("move duration: %w", err)
	}
	if d, err = seconds(secs); err != nil {
		return 0, 0, 0, fmt.Errorf("move duration: %w", err)
	}
	return pan, tilt, d, nil
}

// seconds converts a flag value to a Duration, rejecting negative, NaN and
// out of range values.
func seconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || s < 0 || s > float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("invalid duration %v seconds", s)
	}
	return time.Duration(s * float64(time.Second)), nil
}
