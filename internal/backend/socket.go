package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/capture"
	"github.com/dgnsrekt/sportscaster/internal/config"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/gorilla/websocket"
)

// ErrSocketClosed is returned by writes on a closed socket.
var ErrSocketClosed = errors.New("backend: socket closed")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	maxInboundBytes         = 16 << 20
)

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	frameTimestamps  bool
	header           http.Header
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(c *dialConfig) { c.handshakeTimeout = d }
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) DialOption {
	return func(c *dialConfig) { c.writeTimeout = d }
}

// WithFrameTimestamps precedes every frame with a frame_ts command so the
// backend can line commentary up with delayed playback.
func WithFrameTimestamps() DialOption {
	return func(c *dialConfig) { c.frameTimestamps = true }
}

// Socket is one backend WebSocket. Frames go out as binary JPEG messages,
// commands as JSON text. It satisfies capture.Transport.
type Socket struct {
	conn   *websocket.Conn
	cfg    dialConfig
	url    string
	closed atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ capture.Transport = (*Socket)(nil)

// Dial opens a socket to rawURL.
func Dial(ctx context.Context, rawURL string, opts ...DialOption) (*Socket, error) {
	cfg := dialConfig{
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.handshakeTimeout

	conn, resp, err := dialer.DialContext(ctx, rawURL, cfg.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	conn.SetReadLimit(maxInboundBytes)
	slog.Info("backend socket connected", "url", rawURL)
	return &Socket{conn: conn, cfg: cfg, url: rawURL}, nil
}

// IsOpen reports whether writes can still succeed.
func (s *Socket) IsOpen() bool { return !s.closed.Load() }

// SendFrame writes one JPEG frame as a binary message.
func (s *Socket) SendFrame(_ context.Context, f capture.FrameSample) error {
	if s.cfg.frameTimestamps && !f.CapturedAt.IsZero() {
		ts := float64(f.CapturedAt.UnixMilli()) / 1000
		if err := s.writeJSON(map[string]any{"type": "frame_ts", "ts": ts}); err != nil {
			return err
		}
	}
	return s.write(websocket.BinaryMessage, f.JPEG)
}

// SetSport switches the backend's sport mid-session.
func (s *Socket) SetSport(sport string) error {
	return s.writeJSON(map[string]string{"type": "set_sport", "sport": sport})
}

// SetPersona selects a predefined commentator persona.
func (s *Socket) SetPersona(persona string) error {
	return s.writeJSON(map[string]string{"type": "set_persona", "persona": persona})
}

// SetProfile sends a custom viewer profile.
func (s *Socket) SetProfile(p config.Profile) error {
	return s.writeJSON(map[string]any{"type": "set_profile", "profile": p})
}

// ReadLoop decodes inbound messages into STATUS and COMMENTARY messages
// until the socket closes or ctx ends. Unknown types are ignored. A normal
// or local close returns nil.
func (s *Socket) ReadLoop(ctx context.Context, fn func(messages.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			wasClosed := s.closed.Swap(true)
			if wasClosed || ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read %s: %w", s.url, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, ok := decodeInbound(data)
		if !ok {
			continue
		}
		fn(msg)
	}
}

// Close sends the terminal stop command, then closes the connection.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if !s.closed.Load() {
			if werr := s.writeJSON(map[string]string{"type": "stop"}); werr != nil {
				slog.Debug("backend stop command failed", "error", werr)
			}
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
		}
		s.closed.Store(true)
		err = s.conn.Close()
		slog.Info("backend socket closed", "url", s.url)
	})
	return err
}

func (s *Socket) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, b)
}

func (s *Socket) write(kind int, data []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(kind, data); err != nil {
		s.closed.Store(true)
		return fmt.Errorf("write %s: %w", s.url, err)
	}
	return nil
}

type inbound struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	Text           string `json:"text"`
	Emotion        string `json:"emotion"`
	Audio          string `json:"audio"`
	AnnotatedFrame string `json:"annotated_frame"`
}

func decodeInbound(data []byte) (messages.Message, bool) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Debug("backend message not json", "error", err)
		return nil, false
	}
	switch in.Type {
	case "status":
		return messages.Status{Message: in.Message}, true
	case "commentary":
		emotion := in.Emotion
		if emotion == "" {
			emotion = messages.DefaultEmotion
		}
		return messages.Commentary{
			Text:           in.Text,
			Emotion:        emotion,
			Audio:          in.Audio,
			AnnotatedFrame: in.AnnotatedFrame,
		}, true
	default:
		return nil, false
	}
}
