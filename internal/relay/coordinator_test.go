package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/messages"
)

type fakePlatform struct {
	tab       cdpcontrol.TabInfo
	tabErr    error
	handleErr error
	released  []string
	block     chan struct{}
}

func (p *fakePlatform) ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error) {
	if p.block != nil {
		<-p.block
	}
	return p.tab, p.tabErr
}

func (p *fakePlatform) CaptureHandle(ctx context.Context, targetID string) (string, error) {
	if p.handleErr != nil {
		return "", p.handleErr
	}
	return "handle-" + targetID, nil
}

func (p *fakePlatform) Release(ctx context.Context, handle string) error {
	p.released = append(p.released, handle)
	return nil
}

type fakeHelper struct {
	calls int
	err   error
}

func (h *fakeHelper) EnsureHelper(ctx context.Context) error {
	h.calls++
	return h.err
}

type harness struct {
	bus      *Bus
	platform *fakePlatform
	helper   *fakeHelper
	coord    *Coordinator
	panel    <-chan Envelope
	content  <-chan Envelope
	helperCh <-chan Envelope
}

func newHarness(t *testing.T, platform *fakePlatform) *harness {
	t.Helper()
	bus := NewBus()
	panel, _ := bus.Register(SidePanel)
	content, _ := bus.Register(Content)
	helperCh, _ := bus.Register(Offscreen)
	helper := &fakeHelper{}
	return &harness{
		bus:      bus,
		platform: platform,
		helper:   helper,
		coord:    NewCoordinator(bus, NewSessionStore(bus), platform, helper),
		panel:    panel,
		content:  content,
		helperCh: helperCh,
	}
}

func lastState(t *testing.T, ch <-chan Envelope) messages.State {
	t.Helper()
	var last *messages.State
	for {
		select {
		case env := <-ch:
			if su, ok := env.Msg.(messages.StateUpdate); ok {
				s := su.State
				last = &s
			}
		default:
			if last == nil {
				t.Fatal("no STATE_UPDATE published")
			}
			return *last
		}
	}
}

func TestStartCaptureHappyPath(t *testing.T) {
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-1", URL: "https://www.youtube.com/watch?v=abc12345678"}})

	s, err := h.coord.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if s.ID == "" || s.TabID != "tab-1" || s.VideoID != "abc12345678" {
		t.Fatalf("session = %+v", s)
	}
	if h.helper.calls != 1 {
		t.Fatalf("EnsureHelper calls = %d, want 1", h.helper.calls)
	}

	state := lastState(t, h.panel)
	if !state.Active || state.Status != "Starting capture..." || state.VideoID != "abc12345678" {
		t.Fatalf("state = %+v", state)
	}

	mute := <-h.content
	if _, ok := mute.Msg.(messages.MuteTabVideo); !ok || mute.TabID != "tab-1" {
		t.Fatalf("content got %+v, want MUTE_TAB_VIDEO for tab-1", mute)
	}
	started := (<-h.helperCh).Msg.(messages.CaptureStarted)
	if started.StreamID != "handle-tab-1" || started.TabID != "tab-1" {
		t.Fatalf("CAPTURE_STARTED = %+v", started)
	}
}

func TestStartCaptureWithoutVideoSkipsMute(t *testing.T) {
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-2", URL: "https://example.com/live"}})
	if _, err := h.coord.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if len(h.content) != 0 {
		t.Fatal("mute sent for a page without a video id")
	}
}

func TestStartCaptureNoActiveTab(t *testing.T) {
	h := newHarness(t, &fakePlatform{tabErr: &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "no active tab found"}})

	if _, err := h.coord.StartCapture(context.Background()); err == nil {
		t.Fatal("StartCapture() error = nil")
	}
	if h.helper.calls != 0 {
		t.Fatalf("EnsureHelper calls = %d, want 0", h.helper.calls)
	}
	if _, ok := h.coord.Session(); ok {
		t.Fatal("session left active after failure")
	}
	state := lastState(t, h.panel)
	if state.Active || state.Status != "No active tab found" {
		t.Fatalf("state = %+v", state)
	}
	if len(h.helperCh) != 0 {
		t.Fatal("helper notified after failed start")
	}
}

func TestStartCaptureHandleFailure(t *testing.T) {
	h := newHarness(t, &fakePlatform{
		tab:       cdpcontrol.TabInfo{TargetID: "tab-1"},
		handleErr: &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "attach to target failed"},
	})
	if _, err := h.coord.StartCapture(context.Background()); err == nil {
		t.Fatal("StartCapture() error = nil")
	}
	state := lastState(t, h.panel)
	if state.Active || state.Status != "Capture failed: attach to target failed" {
		t.Fatalf("state = %+v", state)
	}
}

func TestStartCaptureHelperFailureReleasesHandle(t *testing.T) {
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-1"}})
	h.helper.err = errors.New("helper down")

	if _, err := h.coord.StartCapture(context.Background()); err == nil {
		t.Fatal("StartCapture() error = nil")
	}
	if len(h.platform.released) != 1 || h.platform.released[0] != "handle-tab-1" {
		t.Fatalf("released = %v", h.platform.released)
	}
	if state := lastState(t, h.panel); state.Status != "Capture failed: helper down" {
		t.Fatalf("status = %q", state.Status)
	}
}

func TestStartCaptureRejectsSecondStart(t *testing.T) {
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-1"}})
	if _, err := h.coord.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	_, err := h.coord.StartCapture(context.Background())
	var coded *cdpcontrol.CodedError
	if !errors.As(err, &coded) || coded.Code != cdpcontrol.CodeCaptureBusy {
		t.Fatalf("second StartCapture() error = %v, want %s", err, cdpcontrol.CodeCaptureBusy)
	}
	if h.helper.calls != 1 {
		t.Fatalf("EnsureHelper calls = %d, want 1", h.helper.calls)
	}
}

func TestStartCaptureRejectsWhileInFlight(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-1"}, block: block})

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.StartCapture(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		h.coord.mu.Lock()
		starting := h.coord.starting
		h.coord.mu.Unlock()
		if starting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first start never began")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := h.coord.StartCapture(context.Background())
	var coded *cdpcontrol.CodedError
	if !errors.As(err, &coded) || coded.Code != cdpcontrol.CodeCaptureBusy {
		t.Fatalf("concurrent StartCapture() error = %v, want %s", err, cdpcontrol.CodeCaptureBusy)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first StartCapture() error = %v", err)
	}
}

func TestStopCaptureWhenIdle(t *testing.T) {
	h := newHarness(t, &fakePlatform{})
	h.coord.StopCapture(context.Background())

	state := lastState(t, h.panel)
	if state.Active || state.Status != "Stopped" {
		t.Fatalf("state = %+v", state)
	}
	if len(h.content) != 0 {
		t.Fatal("unmute sent with no session")
	}
}

func TestStopCaptureUnmutesAndNotifiesHelper(t *testing.T) {
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-1", URL: "https://youtu.be/abc12345678"}})
	if _, err := h.coord.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	<-h.content
	<-h.helperCh

	h.coord.StopCapture(context.Background())
	if _, ok := (<-h.content).Msg.(messages.UnmuteTabVideo); !ok {
		t.Fatal("expected UNMUTE_TAB_VIDEO")
	}
	if _, ok := (<-h.helperCh).Msg.(messages.StopCapture); !ok {
		t.Fatal("expected STOP_CAPTURE to helper")
	}
	if _, ok := h.coord.Session(); ok {
		t.Fatal("session still active after stop")
	}
	if _, err := h.coord.StartCapture(context.Background()); err != nil {
		t.Fatalf("restart after stop error = %v", err)
	}
}

func TestRelayStatusCarriesSession(t *testing.T) {
	h := newHarness(t, &fakePlatform{tab: cdpcontrol.TabInfo{TargetID: "tab-1", URL: "https://youtu.be/abc12345678"}})
	if _, err := h.coord.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	h.coord.RelayStatus("Connected to backend")

	state := lastState(t, h.panel)
	if !state.Active || state.Status != "Connected to backend" || state.TabID != "tab-1" {
		t.Fatalf("state = %+v", state)
	}
	if got := h.coord.State(); got != state {
		t.Fatalf("State() = %+v, want %+v", got, state)
	}
}

func TestRunAnswersUnknownMessages(t *testing.T) {
	bus := NewBus()
	coord := NewCoordinator(bus, NewSessionStore(bus), &fakePlatform{}, &fakeHelper{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = coord.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !bus.Registered(Background) {
		if time.Now().After(deadline) {
			t.Fatal("background endpoint never registered")
		}
		time.Sleep(time.Millisecond)
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
	defer reqCancel()
	got, err := bus.Request(reqCtx, Envelope{From: SidePanel, To: Background, Msg: messages.Frame{Data: "x"}})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	reply, ok := got.(messages.Error)
	if !ok || reply.Message != "Unknown message type: FRAME" {
		t.Fatalf("reply = %#v", got)
	}
}
