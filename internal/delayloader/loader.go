// Package delayloader keeps a secondary viewing surface intentionally
// behind the captured tab: a video is loaded only after a fixed delay has
// elapsed and the surface has reported ready, in whichever order.
package delayloader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Delay bounds accepted by SetDelay callers.
const (
	MinDelay     = 2000 * time.Millisecond
	MaxDelay     = 10000 * time.Millisecond
	DelayStep    = 500 * time.Millisecond
	DefaultDelay = 3000 * time.Millisecond

	countdownStep  = time.Second
	surfaceTimeout = 15 * time.Second
)

// State is the loader lifecycle.
type State int

const (
	Idle State = iota
	Waiting
	ReadyPendingLoad
	Loaded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case ReadyPendingLoad:
		return "ready_pending_load"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Surface is the embedding context the video is loaded into.
type Surface interface {
	Load(ctx context.Context, videoID string) error
	Clear(ctx context.Context) error
}

// Preparer is implemented by surfaces that must be brought up before they
// can accept a load. The loader calls Prepare on mount and treats success
// as the ready signal.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Snapshot is a point-in-time view of the loader.
type Snapshot struct {
	State     State         `json:"-"`
	StateName string        `json:"state"`
	VideoID   string        `json:"video_id,omitempty"`
	Delay     time.Duration `json:"-"`
	DelayMS   int64         `json:"delay_ms"`
	Remaining int           `json:"remaining_s"`
	Ready     bool          `json:"surface_ready"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option { return func(l *Loader) { l.clock = c } }

// WithDelay sets the initial delay.
func WithDelay(d time.Duration) Option { return func(l *Loader) { l.delay = d } }

// OnChange registers a callback invoked after every state or countdown
// change. It runs without the loader lock held.
func OnChange(fn func(Snapshot)) Option { return func(l *Loader) { l.onChange = fn } }

// Loader drives one Surface.
type Loader struct {
	clock    clock.Clock
	surface  Surface
	onChange func(Snapshot)

	surfaceMu sync.Mutex

	mu         sync.Mutex
	delay      time.Duration
	state      State
	videoID    string
	gen        uint64
	elapsed    bool
	ready      bool
	remaining  int
	delayT     *clock.Timer
	tickT      *clock.Timer
	loads      int
	cancelPrep context.CancelFunc
}

func New(surface Surface, opts ...Option) *Loader {
	l := &Loader{
		clock:   clock.New(),
		surface: surface,
		delay:   DefaultDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ValidDelay reports whether d is within bounds and on a step boundary.
func ValidDelay(d time.Duration) error {
	if d < MinDelay || d > MaxDelay {
		return fmt.Errorf("delay must be between %dms and %dms", MinDelay.Milliseconds(), MaxDelay.Milliseconds())
	}
	if d%DelayStep != 0 {
		return fmt.Errorf("delay must be a multiple of %dms", DelayStep.Milliseconds())
	}
	return nil
}

// Mount starts waiting to load videoID. Mounting again, with the same or
// another id, resets to Waiting.
func (l *Loader) Mount(videoID string) {
	l.mu.Lock()
	l.resetLocked()
	l.videoID = videoID
	l.ready = false
	gen := l.startLocked()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	slog.Info("delay loader mounted", "video_id", videoID, "delay", snap.Delay)
	l.notify(snap)
	l.prepare(gen)
}

// SurfaceReady records that the surface can accept a load.
func (l *Loader) SurfaceReady() {
	l.mu.Lock()
	if l.state == Idle || l.ready {
		l.mu.Unlock()
		return
	}
	l.ready = true
	load := l.elapsed && l.state != Loaded
	gen, videoID := l.gen, l.videoID
	if load {
		l.state = Loaded
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.notify(snap)
	if load {
		l.load(gen, videoID)
	}
}

// Unmount clears the surface and cancels every timer.
func (l *Loader) Unmount() {
	l.mu.Lock()
	if l.state == Idle {
		l.mu.Unlock()
		return
	}
	l.resetLocked()
	l.state = Idle
	l.videoID = ""
	l.ready = false
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.surfaceMu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
	if err := l.surface.Clear(ctx); err != nil {
		slog.Warn("delay loader clear failed", "error", err)
	}
	cancel()
	l.surfaceMu.Unlock()

	slog.Info("delay loader unmounted")
	l.notify(snap)
}

// SetDelay changes the delay. A mounted loader restarts its countdown;
// a loaded video is cleared and loaded again after the new delay.
func (l *Loader) SetDelay(d time.Duration) {
	l.mu.Lock()
	l.delay = d
	if l.state == Idle {
		snap := l.snapshotLocked()
		l.mu.Unlock()
		l.notify(snap)
		return
	}
	wasLoaded := l.state == Loaded
	ready := l.ready
	l.resetLocked()
	l.ready = ready
	gen := l.startLocked()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	if wasLoaded {
		l.surfaceMu.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
		if err := l.surface.Clear(ctx); err != nil {
			slog.Warn("delay loader clear failed", "error", err)
		}
		cancel()
		l.surfaceMu.Unlock()
	}
	l.notify(snap)
	// resetLocked cancelled any Prepare still in flight.
	if !ready {
		l.prepare(gen)
	}
}

// Snapshot returns the current state.
func (l *Loader) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Loads returns how many load commands were issued.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

func (l *Loader) startLocked() uint64 {
	l.gen++
	gen := l.gen
	l.state = Waiting
	l.elapsed = false
	l.remaining = int((l.delay + countdownStep - 1) / countdownStep)
	l.delayT = l.clock.AfterFunc(l.delay, func() { l.onDelay(gen) })
	l.tickT = l.clock.AfterFunc(countdownStep, func() { l.onTick(gen) })
	return gen
}

func (l *Loader) resetLocked() {
	l.gen++
	if l.delayT != nil {
		l.delayT.Stop()
		l.delayT = nil
	}
	if l.tickT != nil {
		l.tickT.Stop()
		l.tickT = nil
	}
	if l.cancelPrep != nil {
		l.cancelPrep()
		l.cancelPrep = nil
	}
	l.elapsed = false
	l.remaining = 0
}

func (l *Loader) onDelay(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.state == Idle {
		l.mu.Unlock()
		return
	}
	l.elapsed = true
	l.remaining = 0
	if l.tickT != nil {
		l.tickT.Stop()
		l.tickT = nil
	}
	load := l.ready
	videoID := l.videoID
	if load {
		l.state = Loaded
	} else {
		l.state = ReadyPendingLoad
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.notify(snap)
	if load {
		l.load(gen, videoID)
	}
}

func (l *Loader) onTick(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.elapsed {
		l.mu.Unlock()
		return
	}
	if l.remaining > 0 {
		l.remaining--
	}
	if l.remaining > 0 {
		l.tickT = l.clock.AfterFunc(countdownStep, func() { l.onTick(gen) })
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(snap)
}

func (l *Loader) prepare(gen uint64) {
	p, ok := l.surface.(Preparer)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		cancel()
		return
	}
	l.cancelPrep = cancel
	l.mu.Unlock()

	go func() {
		defer cancel()
		if err := p.Prepare(ctx); err != nil {
			if ctx.Err() == nil {
				slog.Warn("delay loader surface not ready", "error", err)
			}
			return
		}
		l.mu.Lock()
		current := gen == l.gen
		l.mu.Unlock()
		if current {
			l.SurfaceReady()
		}
	}()
}

func (l *Loader) load(gen uint64, videoID string) {
	l.surfaceMu.Lock()
	defer l.surfaceMu.Unlock()

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.loads++
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
	defer cancel()
	if err := l.surface.Load(ctx, videoID); err != nil {
		slog.Warn("delay loader load failed", "video_id", videoID, "error", err)
		return
	}
	slog.Info("delay loader loaded video", "video_id", videoID)
}

func (l *Loader) snapshotLocked() Snapshot {
	return Snapshot{
		State:     l.state,
		StateName: l.state.String(),
		VideoID:   l.videoID,
		Delay:     l.delay,
		DelayMS:   l.delay.Milliseconds(),
		Remaining: l.remaining,
		Ready:     l.ready,
	}
}

func (l *Loader) notify(s Snapshot) {
	if l.onChange != nil {
		l.onChange(s)
	}
}
