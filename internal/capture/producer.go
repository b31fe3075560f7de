package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrRunning is returned by Start on a producer that is already sampling.
var ErrRunning = errors.New("capture: producer already running")

// Option configures a Producer.
type Option func(*Producer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option { return func(p *Producer) { p.clock = c } }

// WithFPS overrides the sampling rate.
func WithFPS(fps int) Option {
	return func(p *Producer) {
		if fps > 0 {
			p.fps = fps
		}
	}
}

// Producer owns a Source and its sampling timer for one capture.
type Producer struct {
	clock clock.Clock
	fps   int

	emitted atomic.Uint64
	skipped atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	src       Source
	tr        Transport
	raster    *Raster
	prevMuted bool
}

func NewProducer(opts ...Option) *Producer {
	p := &Producer{
		clock: clock.New(),
		fps:   FPS,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval is the time between samples.
func (p *Producer) Interval() time.Duration {
	return time.Second / time.Duration(p.fps)
}

// Start mutes local playback and begins sampling src into tr.
func (p *Producer) Start(ctx context.Context, src Source, tr Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrRunning
	}

	prev, err := src.SetMuted(ctx, true)
	if err != nil {
		slog.Warn("capture mute failed", "error", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.src = src
	p.tr = tr
	p.raster = NewRaster(MaxWidth)
	p.prevMuted = prev

	ticker := p.clock.Ticker(p.Interval())
	go p.loop(loopCtx, p.done, ticker, src, tr, p.raster)
	slog.Info("capture producer started", "fps", p.fps, "max_width", MaxWidth, "quality", JPEGQuality)
	return nil
}

// Running reports whether the sampling loop is active.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop cancels sampling, closes the transport, releases the media handle
// and restores the original mute state. Calling Stop twice is harmless.
func (p *Producer) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done, src, tr, prev := p.cancel, p.done, p.src, p.tr, p.prevMuted
	p.src, p.tr = nil, nil
	p.mu.Unlock()

	cancel()
	<-done

	var errs []error
	if err := tr.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := src.Release(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := src.SetMuted(ctx, prev); err != nil {
		slog.Debug("capture mute restore failed", "error", err)
	}

	st := p.Stats()
	slog.Info("capture producer stopped",
		"emitted", st.Emitted, "skipped", st.Skipped, "dropped", st.Dropped, "failed", st.Failed)
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (p *Producer) Stats() Stats {
	st := Stats{
		Emitted: p.emitted.Load(),
		Skipped: p.skipped.Load(),
		Dropped: p.dropped.Load(),
		Failed:  p.failed.Load(),
	}
	p.mu.Lock()
	if p.raster != nil {
		st.Resizes = p.raster.Resizes()
	}
	p.mu.Unlock()
	return st
}

func (p *Producer) loop(ctx context.Context, done chan struct{}, ticker *clock.Ticker, src Source, tr Transport, raster *Raster) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.sample(ctx, src, tr, raster)
		}
	}
}

func (p *Producer) sample(ctx context.Context, src Source, tr Transport, raster *Raster) {
	if !tr.IsOpen() {
		p.dropped.Add(1)
		return
	}
	if !src.HasCurrentData(ctx) {
		p.skipped.Add(1)
		return
	}

	frame, err := src.Frame(ctx)
	if err != nil {
		p.failed.Add(1)
		slog.Debug("capture frame read failed", "error", err)
		return
	}
	img, err := raster.Draw(frame)
	if err != nil {
		p.failed.Add(1)
		return
	}
	data, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		p.failed.Add(1)
		return
	}

	// The transport may have closed while encoding.
	if !tr.IsOpen() || ctx.Err() != nil {
		p.dropped.Add(1)
		return
	}
	sample := FrameSample{JPEG: data, Width: img.Rect.Dx(), Height: img.Rect.Dy(), CapturedAt: p.clock.Now()}
	if err := tr.SendFrame(ctx, sample); err != nil {
		p.failed.Add(1)
		slog.Debug("capture frame send failed", "error", err)
		return
	}
	p.emitted.Add(1)
}
