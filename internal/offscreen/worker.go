// Package offscreen hosts the hidden helper that owns a capture: it turns a
// capture handle into a frame source, streams frames to the backend and
// relays what the backend says back onto the bus.
package offscreen

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/sportscaster/internal/capture"
	"github.com/dgnsrekt/sportscaster/internal/config"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
)

const (
	statusConnecting   = "Connecting to backend..."
	statusConnected    = "Connected to backend"
	statusSocketError  = "WebSocket error: is the backend running?"
	statusDisconnected = "Disconnected from backend"
	statusTabClosed    = "Capture ended: tab closed"
)

// Link is a backend connection that carries frames out and commentary in.
type Link interface {
	capture.Transport
	ReadLoop(ctx context.Context, fn func(messages.Message)) error
	SetSport(sport string) error
	SetPersona(persona string) error
	SetProfile(p config.Profile) error
}

// OpenFunc turns a capture handle into a frame source.
type OpenFunc func(ctx context.Context, handle, tabID string) (capture.Source, error)

// DialFunc connects to the backend live socket.
type DialFunc func(ctx context.Context) (Link, error)

// WatchFunc arranges for fn to run once the browser drops the capture
// handle and returns the matching unsubscribe func. fn must not block.
type WatchFunc func(handle string, fn func()) func()

// Deps wires a Worker to its collaborators.
type Deps struct {
	Open  OpenFunc
	Dial  DialFunc
	Watch WatchFunc

	Clock       clock.Clock
	WaitPoll    time.Duration
	WaitTimeout time.Duration
	Producer    []capture.Option

	Sport   string
	Persona string
	Profile *config.Profile
}

func (d *Deps) setDefaults() {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.WaitPoll <= 0 {
		d.WaitPoll = 250 * time.Millisecond
	}
	if d.WaitTimeout <= 0 {
		d.WaitTimeout = 10 * time.Second
	}
}

// Worker serves the offscreen endpoint. At most one capture runs at a time;
// a new CAPTURE_STARTED replaces the previous one.
type Worker struct {
	bus  *relay.Bus
	deps Deps

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	producer  *capture.Producer
	lastStats capture.Stats
	wg        sync.WaitGroup
}

func NewWorker(bus *relay.Bus, deps Deps) *Worker {
	deps.setDefaults()
	return &Worker{bus: bus, deps: deps}
}

// Run handles inbox messages in order until ctx ends or the inbox closes.
func (w *Worker) Run(ctx context.Context, inbox <-chan relay.Envelope) {
	defer func() {
		w.stop(context.Background())
		w.wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			w.handle(ctx, env)
		}
	}
}

func (w *Worker) handle(ctx context.Context, env relay.Envelope) {
	switch msg := env.Msg.(type) {
	case messages.CaptureStarted:
		w.start(ctx, msg)
	case messages.StopCapture:
		w.stop(ctx)
	default:
		slog.Debug("offscreen ignoring message", "type", env.Msg.Kind(), "from", env.From)
	}
}

// Stats returns counters of the running capture, or of the last one.
func (w *Worker) Stats() capture.Stats {
	w.mu.Lock()
	p := w.producer
	last := w.lastStats
	w.mu.Unlock()
	if p != nil {
		return p.Stats()
	}
	return last
}

func (w *Worker) start(ctx context.Context, msg messages.CaptureStarted) {
	w.stop(ctx)

	cctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runCapture(cctx, gen, msg)
	}()
}

func (w *Worker) runCapture(parent context.Context, gen uint64, msg messages.CaptureStarted) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	var detached atomic.Bool
	if w.deps.Watch != nil {
		unwatch := w.deps.Watch(msg.StreamID, func() {
			detached.Store(true)
			cancel()
		})
		defer unwatch()
	}
	// fail reports why the capture ended early. Nothing is reported for a
	// capture that was stopped on purpose.
	fail := func(text ...string) {
		if detached.Load() {
			w.status(statusTabClosed)
			return
		}
		if parent.Err() != nil {
			return
		}
		for _, t := range text {
			w.status(t)
		}
	}

	src, err := w.deps.Open(ctx, msg.StreamID, msg.TabID)
	if err != nil {
		fail("Capture error: " + err.Error())
		return
	}
	if err := capture.WaitForData(ctx, w.deps.Clock, src, w.deps.WaitPoll, w.deps.WaitTimeout); err != nil {
		w.release(src)
		fail("Capture error: " + err.Error())
		return
	}

	w.status(statusConnecting)
	link, err := w.deps.Dial(ctx)
	if err != nil {
		w.release(src)
		if ctx.Err() == nil {
			slog.Warn("backend dial failed", "error", err)
		}
		fail(statusSocketError, statusDisconnected)
		return
	}
	w.status(statusConnected)
	w.configure(link)

	// Start under w.mu so a concurrent stopGen either sees the running
	// producer or leaves a cancelled ctx behind for this check.
	producer := capture.NewProducer(w.deps.Producer...)
	w.mu.Lock()
	if gen != w.gen || ctx.Err() != nil {
		w.mu.Unlock()
		_ = link.Close()
		w.release(src)
		fail()
		return
	}
	if err := producer.Start(ctx, src, link); err != nil {
		w.mu.Unlock()
		_ = link.Close()
		w.release(src)
		fail("Capture error: " + err.Error())
		return
	}
	w.producer = producer
	w.mu.Unlock()

	err = link.ReadLoop(ctx, w.forward)
	switch {
	case detached.Load():
		w.status(statusTabClosed)
	case parent.Err() != nil:
		return
	case err != nil:
		slog.Warn("backend socket failed", "error", err)
		w.status(statusSocketError)
		w.status(statusDisconnected)
	default:
		w.status(statusDisconnected)
	}
	w.stopGen(context.Background(), gen)
}

func (w *Worker) configure(link Link) {
	if w.deps.Sport != "" {
		if err := link.SetSport(w.deps.Sport); err != nil {
			slog.Warn("set sport failed", "error", err)
		}
	}
	if w.deps.Persona != "" {
		if err := link.SetPersona(w.deps.Persona); err != nil {
			slog.Warn("set persona failed", "error", err)
		}
	}
	if w.deps.Profile != nil {
		if err := link.SetProfile(*w.deps.Profile); err != nil {
			slog.Warn("set profile failed", "error", err)
		}
	}
}

// forward relays backend output: statuses to the background, commentary
// to the side panel.
func (w *Worker) forward(m messages.Message) {
	switch msg := m.(type) {
	case messages.Status:
		w.status(msg.Message)
	case messages.Commentary:
		w.bus.Notify(relay.Offscreen, relay.SidePanel, msg)
	}
}

func (w *Worker) status(text string) {
	w.bus.Notify(relay.Offscreen, relay.Background, messages.Status{Message: text})
}

func (w *Worker) stop(ctx context.Context) {
	w.mu.Lock()
	gen := w.gen
	w.mu.Unlock()
	w.stopGen(ctx, gen)
}

// stopGen tears down capture gen if it is still the current one.
func (w *Worker) stopGen(ctx context.Context, gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	cancel, p := w.cancel, w.producer
	w.cancel, w.producer = nil, nil
	if p != nil {
		w.lastStats = p.Stats()
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p != nil {
		if err := p.Stop(ctx); err != nil {
			slog.Warn("capture stop failed", "error", err)
		}
		w.mu.Lock()
		w.lastStats = p.Stats()
		w.mu.Unlock()
	}
}

func (w *Worker) release(src capture.Source) {
	if err := src.Release(context.Background()); err != nil {
		slog.Debug("release source failed", "error", err)
	}
}
