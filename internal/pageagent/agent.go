// Package pageagent acts inside the captured page: it mutes and unmutes the
// page video, answers playback commands, draws caption overlays and pushes
// a low-rate preview of the page video to the side panel.
package pageagent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/capture"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
)

const (
	errNoVideo     = "No video element found"
	errUnknownType = "Unknown message type"

	defaultMuteWait   = 10 * time.Second
	defaultOverlayTTL = 6 * time.Second
	defaultPreviewFPS = 1
)

// Page is the browser surface the agent drives.
type Page interface {
	MuteWithBanner(ctx context.Context, targetID string, waitMS int) error
	UnmuteAndClearBanner(ctx context.Context, targetID string) error
	VideoCommand(ctx context.Context, targetID, command string) (cdpcontrol.VideoStatus, error)
	ShowOverlay(ctx context.Context, targetID, text, color string, ttlMS int) error
}

// TabResolver finds the tab to act on when a message names none.
type TabResolver interface {
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
}

// PreviewOpener opens a frame source on a tab for the panel preview.
type PreviewOpener func(ctx context.Context, tabID string) (capture.Source, error)

// Option configures an Agent.
type Option func(*Agent)

// WithPreview enables the FRAME preview at fps frames per second.
func WithPreview(open PreviewOpener, fps int) Option {
	return func(a *Agent) {
		a.openPreview = open
		if fps > 0 {
			a.previewFPS = fps
		}
	}
}

// WithMuteWait bounds how long MUTE_TAB_VIDEO waits for a video to appear.
func WithMuteWait(d time.Duration) Option {
	return func(a *Agent) { a.muteWait = d }
}

// WithOverlayTTL sets how long caption overlays stay on the page.
func WithOverlayTTL(d time.Duration) Option {
	return func(a *Agent) { a.overlayTTL = d }
}

// Agent serves the content endpoint.
type Agent struct {
	bus      *relay.Bus
	page     Page
	resolver TabResolver

	muteWait    time.Duration
	overlayTTL  time.Duration
	openPreview PreviewOpener
	previewFPS  int

	mu       sync.Mutex
	muted    map[string]bool
	previews map[string]*capture.Producer
	wg       sync.WaitGroup
}

func New(bus *relay.Bus, page Page, resolver TabResolver, opts ...Option) *Agent {
	a := &Agent{
		bus:        bus,
		page:       page,
		resolver:   resolver,
		muteWait:   defaultMuteWait,
		overlayTTL: defaultOverlayTTL,
		previewFPS: defaultPreviewFPS,
		muted:      make(map[string]bool),
		previews:   make(map[string]*capture.Producer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run serves the content endpoint until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	inbox, err := a.bus.Register(relay.Content)
	if err != nil {
		return err
	}
	defer func() {
		a.bus.Unregister(relay.Content)
		a.wg.Wait()
		a.stopAllPreviews()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			a.handle(ctx, env)
		}
	}
}

func (a *Agent) handle(ctx context.Context, env relay.Envelope) {
	switch msg := env.Msg.(type) {
	case messages.MuteTabVideo:
		a.mu.Lock()
		a.muted[env.TabID] = true
		a.mu.Unlock()
		// Waiting for a late video must not hold up other commands.
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mute(ctx, env.TabID)
		}()
	case messages.UnmuteTabVideo:
		a.unmute(ctx, env.TabID)
	case messages.VideoCommand:
		env.Respond(a.Command(ctx, env.TabID, msg.Command))
	default:
		slog.Debug("content ignoring message", "type", env.Msg.Kind(), "from", env.From)
		env.Respond(cdpcontrol.VideoStatus{OK: false, Error: errUnknownType})
	}
}

func (a *Agent) mute(ctx context.Context, tabID string) {
	if tabID == "" {
		return
	}
	err := a.page.MuteWithBanner(ctx, tabID, int(a.muteWait/time.Millisecond))
	if err != nil {
		slog.Debug("mute tab video failed", "tab_id", tabID, "error", err)
		return
	}
	a.startPreview(ctx, tabID)
}

func (a *Agent) unmute(ctx context.Context, tabID string) {
	if tabID == "" {
		return
	}
	a.mu.Lock()
	delete(a.muted, tabID)
	a.mu.Unlock()
	a.stopPreview(ctx, tabID)
	if err := a.page.UnmuteAndClearBanner(ctx, tabID); err != nil {
		slog.Debug("unmute tab video failed", "tab_id", tabID, "error", err)
	}
}

// Command runs a VIDEO_* command on tabID, or on the active tab when
// tabID is empty. A missing video is also reported to the side panel.
func (a *Agent) Command(ctx context.Context, tabID string, t messages.Type) cdpcontrol.VideoStatus {
	if !messages.IsVideoCommand(t) {
		return cdpcontrol.VideoStatus{OK: false, Error: errUnknownType}
	}
	if tabID == "" && a.resolver != nil {
		tab, err := a.resolver.ActiveTab(ctx)
		if err != nil {
			return cdpcontrol.VideoStatus{OK: false, Error: err.Error()}
		}
		tabID = tab.TargetID
	}
	command := strings.ToLower(strings.TrimPrefix(string(t), "VIDEO_"))
	status, err := a.page.VideoCommand(ctx, tabID, command)
	if err != nil {
		var coded *cdpcontrol.CodedError
		if errors.As(err, &coded) && coded.Code == cdpcontrol.CodeNoVideo {
			status = cdpcontrol.VideoStatus{OK: false, Error: errNoVideo}
		} else {
			return cdpcontrol.VideoStatus{OK: false, Error: err.Error()}
		}
	}
	if !status.OK && status.Error == errNoVideo {
		a.bus.Send(relay.Envelope{From: relay.Content, To: relay.SidePanel, TabID: tabID, Msg: messages.Error{Message: errNoVideo}})
	}
	return status
}

// ShowCaption overlays c on the page video in its emotion color.
func (a *Agent) ShowCaption(ctx context.Context, tabID string, c messages.Commentary) error {
	if tabID == "" || c.Text == "" {
		return nil
	}
	return a.page.ShowOverlay(ctx, tabID, c.Text, display.EmotionColor(c.Emotion), int(a.overlayTTL/time.Millisecond))
}

func (a *Agent) startPreview(ctx context.Context, tabID string) {
	if a.openPreview == nil {
		return
	}
	a.mu.Lock()
	_, running := a.previews[tabID]
	wanted := a.muted[tabID]
	a.mu.Unlock()
	if running || !wanted {
		return
	}

	src, err := a.openPreview(ctx, tabID)
	if err != nil {
		slog.Debug("preview open failed", "tab_id", tabID, "error", err)
		return
	}
	p := capture.NewProducer(capture.WithFPS(a.previewFPS))
	tr := capture.NewPortTransport(a.bus, relay.Content, relay.SidePanel, tabID)
	if err := p.Start(ctx, src, tr); err != nil {
		_ = src.Release(ctx)
		return
	}
	a.mu.Lock()
	_, running = a.previews[tabID]
	if running || !a.muted[tabID] {
		a.mu.Unlock()
		_ = p.Stop(ctx)
		return
	}
	a.previews[tabID] = p
	a.mu.Unlock()
}

func (a *Agent) stopPreview(ctx context.Context, tabID string) {
	a.mu.Lock()
	p := a.previews[tabID]
	delete(a.previews, tabID)
	a.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.Stop(ctx); err != nil {
		slog.Debug("preview stop failed", "tab_id", tabID, "error", err)
	}
}

func (a *Agent) stopAllPreviews() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.previews))
	for id := range a.previews {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.stopPreview(context.Background(), id)
	}
}
