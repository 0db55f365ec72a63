// Package server is the remote-control front end: a browser UI over a
// WebSocket, a small REST API, Prometheus metrics and optional WebRTC video.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bcc950-remote/internal/camera"
	"bcc950-remote/internal/metrics"
	"bcc950-remote/internal/preset"
	"bcc950-remote/internal/protocol"
	"bcc950-remote/internal/ptz"
	"bcc950-remote/internal/rtsp"
	"bcc950-remote/internal/v4l2"
)

var errPresetNotFound = errors.New("preset not found")

// Config for the server
type Config struct {
	ListenAddr string
	RTSPURL    string
	ICEServers []string

	// Metrics and Gatherer are optional. Without a Gatherer /metrics is
	// not mounted.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// OnPosition, if set, is called with the estimate after every
	// successful command.
	OnPosition func(ptz.Position)
}

// Server is the main PTZ remote server
type Server struct {
	cfg      Config
	cam      *camera.Camera
	logger   *slog.Logger
	staticFS fs.FS
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	clientsMu sync.RWMutex
	clients   map[*Client]struct{}

	rtspMu     sync.Mutex
	rtspClient *rtsp.Client
}

// New creates a server. staticFS is served at the root.
func New(cfg Config, cam *camera.Camera, staticFS fs.FS, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		cam:      cam,
		logger:   logger.With("component", "server"),
		staticFS: staticFS,
		clients:  make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/position", s.handlePosition)
		r.Post("/move", s.handleMove)
		r.Post("/zoom", s.handleZoom)
		r.Post("/stop", s.handleStop)
		r.Post("/reset", s.handleReset)
		r.Get("/presets", s.handleListPresets)
		r.Route("/presets/{name}", func(r chi.Router) {
			r.Put("/", s.handleSavePreset)
			r.Delete("/", s.handleDeletePreset)
			r.Post("/recall", s.handleRecallPreset)
		})
	})

	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.staticFS != nil {
		r.Handle("/*", http.FileServer(http.FS(s.staticFS)))
	}
	return r
}

// Start connects the video relay, if configured, and serves HTTP until
// Stop. It returns http.ErrServerClosed after a clean Stop.
func (s *Server) Start() error {
	if s.cfg.RTSPURL != "" {
		s.startVideo()
	}
	s.logger.Info("listening", "addr", s.cfg.ListenAddr)
	return s.httpSrv.ListenAndServe()
}

// startVideo is best effort: the controls work without video.
func (s *Server) startVideo() {
	client, err := rtsp.NewClient(s.cfg.RTSPURL, s.logger)
	if err != nil {
		s.logger.Warn("rtsp disabled", "err", err)
		return
	}
	if err := client.Connect(); err != nil {
		s.logger.Warn("rtsp connect failed", "url", s.cfg.RTSPURL, "err", err)
		return
	}
	s.rtspMu.Lock()
	s.rtspClient = client
	s.rtspMu.Unlock()
	go s.broadcastRTP(client)
}

func (s *Server) videoEnabled() bool {
	s.rtspMu.Lock()
	defer s.rtspMu.Unlock()
	return s.rtspClient != nil
}

// broadcastRTP copies every packet to each client's buffer, dropping it
// for clients that are behind.
func (s *Server) broadcastRTP(client *rtsp.Client) {
	for packet := range client.Packets() {
		s.clientsMu.RLock()
		for c := range s.clients {
			select {
			case c.packets <- packet:
			default:
			}
		}
		s.clientsMu.RUnlock()
	}
}

// Stop shuts the HTTP server down and closes every client and the relay.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	s.clientsMu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*Client]struct{})
	s.clientsMu.Unlock()

	s.rtspMu.Lock()
	if s.rtspClient != nil {
		s.rtspClient.Close()
		s.rtspClient = nil
	}
	s.rtspMu.Unlock()
	return err
}

func (s *Server) addClient(c *Client) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// broadcast sends one message to every connected client.
func (s *Server) broadcast(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("encode broadcast", "type", msgType, "err", err)
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.sendRaw(data)
	}
}

// PublishPosition pushes pos to every client. It is used for commands that
// arrive from outside the server, such as MQTT.
func (s *Server) PublishPosition(pos ptz.Position) {
	s.broadcast(protocol.TypePosition, pos)
}

// execute runs one command, counts it and, on success, pushes the new
// estimate to every client and the OnPosition hook.
func (s *Server) execute(source, command string, fn func() error) error {
	err := fn()
	s.cfg.Metrics.ObserveCommand(source, command, err)
	if err != nil {
		s.logger.Warn("command failed", "source", source, "command", command, "err", err)
		return err
	}
	pos := s.cam.Position()
	s.logger.Debug("command done", "source", source, "command", command, "position", pos.String())
	s.broadcast(protocol.TypePosition, pos)
	if s.cfg.OnPosition != nil {
		s.cfg.OnPosition(pos)
	}
	return nil
}

func (s *Server) move(source string, p protocol.MovePayload) error {
	d, err := p.Duration()
	if err != nil {
		return err
	}
	if p.Zoom != nil {
		return s.execute(source, "move", func() error {
			return s.cam.MoveWithZoom(p.Pan, p.Tilt, *p.Zoom, d)
		})
	}
	return s.execute(source, "move", func() error {
		return s.cam.Move(p.Pan, p.Tilt, d)
	})
}

func (s *Server) zoom(source string, p protocol.ZoomPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.execute(source, "zoom", func() error {
		if p.Value != nil {
			return s.cam.ZoomTo(*p.Value)
		}
		return s.cam.ZoomBy(*p.Delta)
	})
}

func (s *Server) stop(source string) error {
	return s.execute(source, "stop", s.cam.Stop)
}

func (s *Server) reset(source string) error {
	return s.execute(source, "reset", s.cam.Reset)
}

func (s *Server) savePreset(source, name string) error {
	return s.execute(source, "preset_save", func() error {
		return s.cam.SavePreset(name)
	})
}

func (s *Server) recallPreset(source, name string) error {
	return s.execute(source, "preset_recall", func() error {
		found, err := s.cam.RecallPreset(name)
		if err != nil {
			return err
		}
		if !found {
			return errPresetNotFound
		}
		return nil
	})
}

func (s *Server) deletePreset(source, name string) error {
	return s.execute(source, "preset_delete", func() error {
		existed, err := s.cam.DeletePreset(name)
		if err != nil {
			return err
		}
		if !existed {
			return errPresetNotFound
		}
		return nil
	})
}

func (s *Server) status(clientID string) protocol.StatusPayload {
	return protocol.StatusPayload{
		Device:   s.cam.DevicePath(),
		HasPTZ:   s.cam.HasPTZ(),
		Video:    s.videoEnabled(),
		RTSPURL:  s.cfg.RTSPURL,
		ClientID: clientID,
		Position: s.cam.Position(),
	}
}

// classify maps a command error onto an HTTP status and a wire code.
func classify(err error) (int, string) {
	var devErr *v4l2.Error
	var persistErr *preset.PersistenceError
	switch {
	case errors.As(err, &devErr):
		return http.StatusBadGateway, protocol.ErrDevice
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, protocol.ErrPersistence
	case errors.Is(err, errPresetNotFound):
		return http.StatusNotFound, protocol.ErrPresetNotFound
	default:
		return http.StatusBadRequest, protocol.ErrInvalidMessage
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, protocol.ErrorPayload{Code: code, Message: err.Error()})
}
