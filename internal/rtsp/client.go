// Package rtsp pulls the camera's H264 stream from an RTSP server such as
// mediamtx publishing /dev/video0, and hands out raw RTP packets.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// ErrNoVideo is returned when the stream description has no H264 media.
var ErrNoVideo = errors.New("rtsp: stream has no H264 video")

const (
	packetBuffer = 500
	maxBackoff   = 30 * time.Second
)

// Client reads one video track and reconnects when the session drops.
type Client struct {
	url    *base.URL
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	packets chan []byte

	mu     sync.Mutex
	conn   *gortsplib.Client
	closed bool
}

// NewClient validates rawURL. Call Connect to start streaming.
func NewClient(rawURL string, logger *slog.Logger) (*Client, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rtsp url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:     u,
		logger:  logger.With("component", "rtsp", "url", rawURL),
		ctx:     ctx,
		cancel:  cancel,
		packets: make(chan []byte, packetBuffer),
	}, nil
}

// Connect opens the session and starts playing. After the first success
// the client keeps reconnecting on its own until Close.
func (c *Client) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.supervise()
	return nil
}

func (c *Client) dial() error {
	transport := gortsplib.TransportTCP
	conn := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			c.logger.Debug("decode error", "err", err)
		},
	}

	if err := conn.Start(c.url.Scheme, c.url.Host); err != nil {
		return fmt.Errorf("rtsp start: %w", err)
	}

	desc, _, err := conn.Describe(c.url)
	if err != nil {
		conn.Close()
		return fmt.Errorf("rtsp describe: %w", err)
	}

	media, forma := pickVideo(desc)
	if media == nil {
		conn.Close()
		return ErrNoVideo
	}

	if _, err := conn.Setup(desc.BaseURL, media, 0, 0); err != nil {
		conn.Close()
		return fmt.Errorf("rtsp setup: %w", err)
	}

	conn.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		c.push(buf)
	})

	if _, err := conn.Play(nil); err != nil {
		conn.Close()
		return fmt.Errorf("rtsp play: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("playing", "codec", forma.Codec())
	return nil
}

// push drops the packet when the buffer is full or the client is closed.
func (c *Client) push(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.packets <- buf:
	default:
	}
}

// supervise waits for the session to end and redials with exponential
// backoff.
func (c *Client) supervise() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		err := conn.Wait()
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("connection lost", "err", err)

		for attempt := 1; ; attempt++ {
			delay := backoff(attempt)
			c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := c.dial(); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("reconnect failed", "attempt", attempt, "err", err)
				continue
			}
			c.logger.Info("reconnected", "attempt", attempt)
			break
		}
	}
}

// Packets returns the channel of marshaled RTP packets. It is closed by
// Close.
func (c *Client) Packets() <-chan []byte {
	return c.packets
}

// Close stops the session and the reconnect loop. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.packets)
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	return nil
}

// pickVideo returns the first H264 format. The browser track is H264 only,
// so other codecs are not relayed.
func pickVideo(desc *description.Session) (*description.Media, format.Format) {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264, ok := forma.(*format.H264); ok {
				return media, h264
			}
		}
	}
	return nil, nil
}

func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return maxBackoff
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, maxBackoff)
}
