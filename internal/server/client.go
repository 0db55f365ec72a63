package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"

	"bcc950-remote/internal/protocol"
	"bcc950-remote/internal/webrtc"
)

const (
	sourceWS = "ws"

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxReadBytes = 65536
	offerTimeout = 10 * time.Second
)

// Client represents a connected WebSocket client
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	logger  *slog.Logger
	send    chan []byte
	packets chan []byte // RTP packets waiting for this client's track
	done    chan struct{}

	mu      sync.Mutex
	session *webrtc.Session
	closed  bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "err", err)
		return
	}

	id := uuid.NewString()
	c := &Client{
		id:      id,
		conn:    conn,
		server:  s,
		logger:  s.logger.With("client", id),
		send:    make(chan []byte, 256),
		packets: make(chan []byte, 500),
		done:    make(chan struct{}),
	}
	s.addClient(c)
	c.logger.Info("client connected", "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()

	c.sendMessage(protocol.TypeStatus, s.status(id))
	c.sendMessage(protocol.TypePresets, protocol.PresetsPayload{Presets: s.cam.Presets()})

	if s.videoEnabled() {
		if err := c.startVideo(); err != nil {
			c.logger.Warn("webrtc setup failed", "err", err)
			c.sendError(protocol.ErrRTSP, err.Error())
		}
	}
}

func (c *Client) startVideo() error {
	session, err := webrtc.NewSession(webrtc.Config{
		ICEServers: c.server.cfg.ICEServers,
		Logger:     c.logger,
	}, func(cand pwebrtc.ICECandidateInit) {
		payload := protocol.ICECandidatePayload{Candidate: cand.Candidate}
		if cand.SDPMid != nil {
			payload.SDPMid = *cand.SDPMid
		}
		if cand.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *cand.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}
	if err := session.AddH264Track(); err != nil {
		session.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), offerTimeout)
	defer cancel()
	offer, err := session.CreateOffer(ctx)
	if err != nil {
		session.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return nil
	}
	c.session = session
	c.mu.Unlock()

	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})
	go c.forwardRTP(session)
	return nil
}

func (c *Client) forwardRTP(session *webrtc.Session) {
	for {
		select {
		case <-c.done:
			return
		case packet := <-c.packets:
			if err := session.WriteRTP(packet); err != nil {
				return
			}
		}
	}
}

func (c *Client) webrtcSession() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) sendMessage(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("encode message", "type", msgType, "err", err)
		return
	}
	c.sendRaw(data)
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

// sendRaw queues data, dropping it when the client is closed or its
// buffer is full.
func (c *Client) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
		c.logger.Info("client disconnected")
	}()

	c.conn.SetReadLimit(maxReadBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read", "err", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "failed to parse message")
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var p protocol.PingPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: p.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeAnswer:
		var p protocol.SDPPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		if session := c.webrtcSession(); session != nil {
			if err := session.SetAnswer(p.SDP); err != nil {
				c.logger.Warn("set answer", "err", err)
			}
		}

	case protocol.TypeICECandidate:
		var p protocol.ICECandidatePayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		if session := c.webrtcSession(); session != nil {
			if err := session.AddICECandidate(p.Candidate, p.SDPMid, p.SDPMLineIndex); err != nil {
				c.logger.Warn("add ice candidate", "err", err)
			}
		}

	case protocol.TypePTZMove:
		var p protocol.MovePayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		c.reply(c.server.move(sourceWS, p))

	case protocol.TypePTZZoom:
		var p protocol.ZoomPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		c.reply(c.server.zoom(sourceWS, p))

	case protocol.TypePTZStop:
		c.reply(c.server.stop(sourceWS))

	case protocol.TypePTZReset:
		c.reply(c.server.reset(sourceWS))

	case protocol.TypePTZPreset:
		var p protocol.PresetPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		c.handlePreset(p)

	default:
		c.sendError(protocol.ErrInvalidMessage, "unknown message type "+msg.Type)
	}
}

func (c *Client) handlePreset(p protocol.PresetPayload) {
	if err := p.Validate(); err != nil {
		c.sendError(protocol.ErrInvalidMessage, err.Error())
		return
	}

	var err error
	switch p.Action {
	case protocol.PresetSave:
		err = c.server.savePreset(sourceWS, p.Name)
	case protocol.PresetRecall:
		err = c.server.recallPreset(sourceWS, p.Name)
	case protocol.PresetDelete:
		err = c.server.deletePreset(sourceWS, p.Name)
	}
	if err != nil {
		c.reply(err)
		return
	}
	presets := protocol.PresetsPayload{Presets: c.server.cam.Presets()}
	if p.Action == protocol.PresetList {
		c.sendMessage(protocol.TypePresets, presets)
		return
	}
	c.server.broadcast(protocol.TypePresets, presets)
}

// reply reports a failed command to this client. Successful commands are
// answered by the position broadcast.
func (c *Client) reply(err error) {
	if err == nil {
		return
	}
	_, code := classify(err)
	c.sendError(code, err.Error())
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)

	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	close(c.send)
}
