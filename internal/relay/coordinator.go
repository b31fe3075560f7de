package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/google/uuid"
)

const (
	statusNoActiveTab = "No active tab found"
	statusStarting    = "Starting capture..."
	statusStopped     = "Stopped"
)

// Platform resolves tabs and issues capture handles.
type Platform interface {
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	CaptureHandle(ctx context.Context, targetID string) (string, error)
	Release(ctx context.Context, handle string) error
}

// HelperHost owns the hidden helper that holds the capture. EnsureHelper
// must be idempotent.
type HelperHost interface {
	EnsureHelper(ctx context.Context) error
}

// Coordinator brokers the capture lifecycle between the UI, the page and
// the helper. It is the only owner of the active Session.
type Coordinator struct {
	bus      *Bus
	store    *SessionStore
	platform Platform
	helper   HelperHost
	now      func() time.Time

	mu       sync.Mutex
	session  *Session
	starting bool
}

// NewCoordinator wires a coordinator to its collaborators.
func NewCoordinator(bus *Bus, store *SessionStore, platform Platform, helper HelperHost) *Coordinator {
	return &Coordinator{
		bus:      bus,
		store:    store,
		platform: platform,
		helper:   helper,
		now:      time.Now,
	}
}

// StartCapture resolves the foreground tab, obtains a capture handle,
// makes sure the helper exists and hands the handle over. A start while
// another is in flight or active is rejected with CAPTURE_BUSY.
func (c *Coordinator) StartCapture(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.starting || c.session != nil {
		c.mu.Unlock()
		return Session{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeCaptureBusy, Message: "capture already running"}
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	tab, err := c.platform.ActiveTab(ctx)
	if err != nil {
		var coded *cdpcontrol.CodedError
		if errors.As(err, &coded) && coded.Code == cdpcontrol.CodeTabNotFound {
			return Session{}, c.fail(statusNoActiveTab, err)
		}
		return Session{}, c.fail("Capture failed: "+errorText(err), err)
	}
	videoID, _ := messages.ExtractVideoID(tab.URL)

	handle, err := c.platform.CaptureHandle(ctx, tab.TargetID)
	if err != nil {
		return Session{}, c.fail("Capture failed: "+errorText(err), err)
	}
	if err := c.helper.EnsureHelper(ctx); err != nil {
		if relErr := c.platform.Release(ctx, handle); relErr != nil {
			slog.Debug("release capture handle failed", "error", relErr)
		}
		return Session{}, c.fail("Capture failed: "+errorText(err), err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		TabID:     tab.TargetID,
		VideoID:   videoID,
		StreamID:  handle,
		StartedAt: c.now(),
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.store.Set(messages.State{Active: true, Status: statusStarting, TabID: s.TabID, VideoID: s.VideoID})

	// The page may not have a listener yet.
	if videoID != "" {
		c.bus.Send(Envelope{From: Background, To: Content, TabID: s.TabID, Msg: messages.MuteTabVideo{}})
	}
	c.bus.Notify(Background, Offscreen, messages.CaptureStarted{StreamID: handle, TabID: s.TabID})

	slog.Info("capture started", "session_id", s.ID, "tab_id", s.TabID, "video_id", s.VideoID)
	return *s, nil
}

// StopCapture tears the active session down. It is safe to call when
// nothing is running and always publishes an inactive state.
func (c *Coordinator) StopCapture(ctx context.Context) {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil && s.VideoID != "" {
		c.bus.Send(Envelope{From: Background, To: Content, TabID: s.TabID, Msg: messages.UnmuteTabVideo{}})
	}
	c.bus.Notify(Background, Offscreen, messages.StopCapture{})
	c.store.Set(messages.State{Active: false, Status: statusStopped})

	if s != nil {
		slog.Info("capture stopped", "session_id", s.ID, "duration", c.now().Sub(s.StartedAt).Round(time.Millisecond))
	}
}

// RelayStatus records a status line along with the current session.
func (c *Coordinator) RelayStatus(text string) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	state := messages.State{Status: text}
	if s != nil {
		state.Active = true
		state.TabID = s.TabID
		state.VideoID = s.VideoID
	}
	c.store.Set(state)
}

// Session returns a copy of the active session.
func (c *Coordinator) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// State returns the mirrored commentator state.
func (c *Coordinator) State() messages.State {
	return c.store.Get()
}

// Run serves the background endpoint until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	inbox, err := c.bus.Register(Background)
	if err != nil {
		return err
	}
	defer c.bus.Unregister(Background)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			c.handle(ctx, env)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, env Envelope) {
	switch msg := env.Msg.(type) {
	case messages.StartCapture:
		_, err := c.StartCapture(ctx)
		if err != nil {
			slog.Warn("start capture failed", "from", env.From, "error", err)
		}
		env.Respond(err)
	case messages.StopCapture:
		c.StopCapture(ctx)
		env.Respond(nil)
	case messages.Status:
		c.RelayStatus(msg.Message)
	default:
		slog.Debug("background ignoring message", "type", env.Msg.Kind(), "from", env.From)
		env.Respond(messages.Error{Message: "Unknown message type: " + string(env.Msg.Kind())})
	}
}

func (c *Coordinator) fail(status string, err error) error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.store.Set(messages.State{Active: false, Status: status})
	slog.Warn("capture start failed", "status", status, "error", err)
	return err
}

func errorText(err error) string {
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}
