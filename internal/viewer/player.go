package viewer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/backend"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/messages"
)

const (
	StatusConnecting = "Connecting..."
	StatusConnected  = "Connected"
	StatusError      = "Connection error"
	StatusClosed     = "Disconnected"
)

// Stream is a session commentary socket.
type Stream interface {
	ReadLoop(ctx context.Context, fn func(messages.Message)) error
	Close() error
}

// DialFunc opens the session socket at url.
type DialFunc func(ctx context.Context, url string) (Stream, error)

// DialBackend dials with the backend socket client.
func DialBackend(ctx context.Context, url string) (Stream, error) {
	s, err := backend.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PlayerOption configures a SessionPlayer.
type PlayerOption func(*SessionPlayer)

// WithDial replaces the socket dialer.
func WithDial(d DialFunc) PlayerOption { return func(p *SessionPlayer) { p.dial = d } }

// WithPlayerAudio plays commentary audio through q.
func WithPlayerAudio(q *display.AudioQueue) PlayerOption {
	return func(p *SessionPlayer) { p.audio = q }
}

// WithPlayerOutput redraws the header and overlay on w after each change.
func WithPlayerOutput(w io.Writer, width int) PlayerOption {
	return func(p *SessionPlayer) {
		p.out = w
		p.renderer = display.NewRenderer(w, width)
	}
}

// OnStatus is called with every status change.
func OnStatus(fn func(string)) PlayerOption { return func(p *SessionPlayer) { p.onStatus = fn } }

// SessionPlayer plays one backend session: it streams commentary for the
// session into a five line overlay and the audio queue.
type SessionPlayer struct {
	session  backend.Session
	wsURL    string
	videoURL string
	dial     DialFunc
	feed     *display.Feed
	audio    *display.AudioQueue
	renderer *display.Renderer
	out      io.Writer
	onStatus func(string)

	mu        sync.Mutex
	status    string
	connected bool
}

// NewPlayer plays session s, reading commentary from wsURL. videoURL is
// where the downloaded video can be fetched.
func NewPlayer(s backend.Session, wsURL, videoURL string, opts ...PlayerOption) *SessionPlayer {
	p := &SessionPlayer{
		session:  s,
		wsURL:    wsURL,
		videoURL: videoURL,
		dial:     DialBackend,
		feed:     display.NewFeed(display.DefaultFeedLimit),
		status:   StatusConnecting,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run connects and streams until the socket closes or ctx ends.
func (p *SessionPlayer) Run(ctx context.Context) error {
	p.setStatus(StatusConnecting, false)
	stream, err := p.dial(ctx, p.wsURL)
	if err != nil {
		p.setStatus(StatusError, false)
		p.setStatus(StatusClosed, false)
		return fmt.Errorf("connect session %s: %w", p.session.SessionID, err)
	}
	defer stream.Close()
	p.setStatus(StatusConnected, true)
	slog.Info("session stream connected", "session_id", p.session.SessionID, "video_url", p.videoURL)

	err = stream.ReadLoop(ctx, p.handle)
	if err != nil {
		p.setStatus(StatusError, false)
	}
	p.setStatus(StatusClosed, false)
	return err
}

func (p *SessionPlayer) handle(msg messages.Message) {
	switch m := msg.(type) {
	case messages.Status:
		p.mu.Lock()
		connected := p.connected
		p.mu.Unlock()
		p.setStatus(m.Message, connected)
	case messages.Commentary:
		p.feed.Append(m, time.Now())
		if p.audio != nil && m.Audio != "" {
			p.audio.Enqueue(m.Audio)
		}
		p.render()
	}
}

func (p *SessionPlayer) setStatus(text string, connected bool) {
	p.mu.Lock()
	p.status = text
	p.connected = connected
	p.mu.Unlock()
	if p.onStatus != nil {
		p.onStatus(text)
	}
	p.render()
}

// Status returns the header status line.
func (p *SessionPlayer) Status() (text string, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.connected
}

// Items returns the overlay lines, oldest first.
func (p *SessionPlayer) Items() []display.Item { return p.feed.Items() }

func (p *SessionPlayer) Session() backend.Session { return p.session }

// VideoURL returns the absolute URL of the downloaded video.
func (p *SessionPlayer) VideoURL() string { return p.videoURL }

func (p *SessionPlayer) render() {
	if p.renderer == nil {
		return
	}
	text, connected := p.Status()
	out := p.session.Title + "  " + p.renderer.Status(connected, text)
	if block := p.renderer.Render(p.feed.Items()); block != "" {
		out += "\n" + block
	}
	fmt.Fprintln(p.out, out)
}
