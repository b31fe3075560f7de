// Package sidepanel is the user-facing surface of extension mode. It keeps
// the commentary feed, plays commentary audio, mirrors the commentator
// state and drives the delayed viewer.
package sidepanel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
)

// Captioner overlays commentary on the captured page.
type Captioner interface {
	ShowCaption(ctx context.Context, tabID string, c messages.Commentary) error
}

// Viewer is the delayed playback surface.
type Viewer interface {
	Mount(videoID string)
	Unmount()
}

// Option configures a Panel.
type Option func(*Panel)

// WithAudio plays commentary audio through q.
func WithAudio(q *display.AudioQueue) Option { return func(p *Panel) { p.audio = q } }

// WithViewer mounts v while a capture with a known video is active.
func WithViewer(v Viewer) Option { return func(p *Panel) { p.viewer = v } }

// WithCaptions overlays each commentary line on the captured tab.
func WithCaptions(c Captioner) Option { return func(p *Panel) { p.captions = c } }

// WithOutput renders the lower-third to w after every change.
func WithOutput(w io.Writer, width int) Option {
	return func(p *Panel) {
		p.out = w
		p.renderer = display.NewRenderer(w, width)
	}
}

// Panel serves the side panel endpoint.
type Panel struct {
	bus      *relay.Bus
	feed     *display.Feed
	audio    *display.AudioQueue
	viewer   Viewer
	captions Captioner
	renderer *display.Renderer
	out      io.Writer
	now      func() time.Time

	mu        sync.RWMutex
	state     messages.State
	frame     messages.Frame
	hasFrame  bool
	lastError string
	mounted   string
}

func New(bus *relay.Bus, opts ...Option) *Panel {
	p := &Panel{
		bus:   bus,
		feed:  display.NewFeed(display.DefaultFeedLimit),
		now:   time.Now,
		state: messages.State{Status: "Idle"},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run serves the side panel endpoint until ctx is done.
func (p *Panel) Run(ctx context.Context) error {
	inbox, err := p.bus.Register(relay.SidePanel)
	if err != nil {
		return err
	}
	defer p.bus.Unregister(relay.SidePanel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			p.handle(ctx, env)
		}
	}
}

func (p *Panel) handle(ctx context.Context, env relay.Envelope) {
	switch msg := env.Msg.(type) {
	case messages.Commentary:
		p.addCommentary(ctx, msg)
	case messages.StateUpdate:
		p.applyState(msg.State)
	case messages.Frame:
		p.mu.Lock()
		p.frame = msg
		p.hasFrame = true
		p.mu.Unlock()
	case messages.Error:
		p.mu.Lock()
		p.lastError = msg.Message
		p.mu.Unlock()
		slog.Warn("side panel error", "from", env.From, "tab_id", env.TabID, "message", msg.Message)
	default:
		slog.Debug("side panel ignoring message", "type", env.Msg.Kind(), "from", env.From)
	}
}

func (p *Panel) addCommentary(ctx context.Context, c messages.Commentary) {
	item := p.feed.Append(c, p.now())
	if p.audio != nil && c.Audio != "" {
		p.audio.Enqueue(c.Audio)
	}

	p.mu.RLock()
	st := p.state
	p.mu.RUnlock()
	if p.captions != nil && st.Active && st.TabID != "" {
		if err := p.captions.ShowCaption(ctx, st.TabID, c); err != nil {
			slog.Debug("caption overlay failed", "tab_id", st.TabID, "error", err)
		}
	}
	slog.Debug("commentary", "id", item.ID, "emotion", item.Emotion, "text", item.Text)
	p.render()
}

func (p *Panel) applyState(st messages.State) {
	p.mu.Lock()
	prev := p.state
	p.state = st
	mount, unmount := "", false
	switch {
	case st.Active && st.VideoID != "" && st.VideoID != p.mounted:
		mount = st.VideoID
		p.mounted = st.VideoID
	case !st.Active && p.mounted != "":
		unmount = true
		p.mounted = ""
	}
	p.mu.Unlock()

	if p.viewer != nil {
		if mount != "" {
			p.viewer.Mount(mount)
		} else if unmount {
			p.viewer.Unmount()
		}
	}
	if prev.Active && !st.Active {
		p.feed.Clear()
		if p.audio != nil {
			p.audio.Clear()
		}
	}
	p.render()
}

// Toggle starts a capture when idle and stops it when active.
func (p *Panel) Toggle(ctx context.Context) error {
	var msg messages.Message = messages.StartCapture{}
	if p.State().Active {
		msg = messages.StopCapture{}
	}
	v, err := p.bus.Request(ctx, relay.Envelope{From: relay.SidePanel, To: relay.Background, Msg: msg})
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Kind(), err)
	}
	switch r := v.(type) {
	case nil:
		return nil
	case error:
		return r
	case messages.Error:
		return errors.New(r.Message)
	default:
		return nil
	}
}

// State returns the last mirrored commentator state.
func (p *Panel) State() messages.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Items returns the commentary list, oldest first.
func (p *Panel) Items() []display.Item { return p.feed.Items() }

// Frame returns the latest preview frame.
func (p *Panel) Frame() (messages.Frame, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frame, p.hasFrame
}

// LastError returns the most recent ERROR message.
func (p *Panel) LastError() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

func (p *Panel) render() {
	if p.renderer == nil {
		return
	}
	st := p.State()
	out := p.renderer.Status(st.Active, st.Status)
	if block := p.renderer.Render(p.feed.Items()); block != "" {
		out += "\n" + block
	}
	fmt.Fprintln(p.out, out)
}
