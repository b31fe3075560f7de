package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fakeSource struct {
	ready    atomic.Bool
	w, h     int
	frames   atomic.Int64
	released atomic.Int64

	mu     sync.Mutex
	muted  bool
	mutes  []bool
	relErr error
}

func newFakeSource(w, h int, muted bool) *fakeSource {
	return &fakeSource{w: w, h: h, muted: muted}
}

func (s *fakeSource) HasCurrentData(context.Context) bool { return s.ready.Load() }

func (s *fakeSource) Frame(context.Context) (image.Image, error) {
	s.frames.Add(1)
	img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	for x := 0; x < s.w; x += 16 {
		img.Set(x, s.h/2, color.RGBA{R: 255, A: 255})
	}
	return img, nil
}

func (s *fakeSource) SetMuted(_ context.Context, muted bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.muted
	s.muted = muted
	s.mutes = append(s.mutes, muted)
	return prev, nil
}

func (s *fakeSource) Release(context.Context) error {
	s.released.Add(1)
	return s.relErr
}

func (s *fakeSource) isMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

type fakeTransport struct {
	open   atomic.Bool
	closed atomic.Int64

	mu     sync.Mutex
	frames []FrameSample
}

func newFakeTransport(open bool) *fakeTransport {
	tr := &fakeTransport{}
	tr.open.Store(open)
	return tr
}

func (t *fakeTransport) IsOpen() bool { return t.open.Load() }

func (t *fakeTransport) SendFrame(_ context.Context, f FrameSample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, f)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed.Add(1)
	t.open.Store(false)
	return nil
}

func (t *fakeTransport) sent() []FrameSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FrameSample(nil), t.frames...)
}

func ticks(st Stats) uint64 { return st.Emitted + st.Skipped + st.Dropped + st.Failed }

// advance moves the mock clock one interval and waits for the loop to
// account for the tick.
func advance(t *testing.T, mock *clock.Mock, p *Producer) {
	t.Helper()
	before := ticks(p.Stats())
	mock.Add(p.Interval())
	waitFor(t, func() bool { return ticks(p.Stats()) > before })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestProducerSkipsWithoutCurrentData(t *testing.T) {
	mock := clock.NewMock()
	p := NewProducer(WithClock(mock))
	src := newFakeSource(640, 360, false)
	tr := newFakeTransport(true)

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	for i := 0; i < 5; i++ {
		advance(t, mock, p)
	}
	st := p.Stats()
	if st.Emitted != 0 || st.Skipped != 5 {
		t.Fatalf("stats = %+v, want 0 emitted and 5 skipped", st)
	}
	if len(tr.sent()) != 0 {
		t.Fatalf("sent %d frames, want 0", len(tr.sent()))
	}
	if src.frames.Load() != 0 {
		t.Fatalf("Frame() called %d times, want 0", src.frames.Load())
	}
}

func TestProducerDropsWhenTransportClosed(t *testing.T) {
	mock := clock.NewMock()
	p := NewProducer(WithClock(mock))
	src := newFakeSource(640, 360, false)
	src.ready.Store(true)
	tr := newFakeTransport(false)

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	advance(t, mock, p)
	advance(t, mock, p)

	st := p.Stats()
	if st.Dropped != 2 || st.Emitted != 0 {
		t.Fatalf("stats = %+v, want 2 dropped and 0 emitted", st)
	}
	if src.frames.Load() != 0 {
		t.Fatalf("Frame() called with closed transport")
	}
}

func TestProducerRateLimit(t *testing.T) {
	mock := clock.NewMock()
	p := NewProducer(WithClock(mock))
	if got, want := p.Interval(), 200*time.Millisecond; got != want {
		t.Fatalf("Interval() = %v, want %v", got, want)
	}
	src := newFakeSource(320, 180, false)
	src.ready.Store(true)
	tr := newFakeTransport(true)

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	mock.Add(199 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if got := ticks(p.Stats()); got != 0 {
		t.Fatalf("ticks after 199ms = %d, want 0", got)
	}

	mock.Add(time.Millisecond)
	waitFor(t, func() bool { return p.Stats().Emitted == 1 })

	for i := 0; i < 4; i++ {
		advance(t, mock, p)
	}
	if got := p.Stats().Emitted; got != 5 {
		t.Fatalf("emitted over 1s = %d, want 5", got)
	}
	frames := tr.sent()
	for i := 1; i < len(frames); i++ {
		if gap := frames[i].CapturedAt.Sub(frames[i-1].CapturedAt); gap < p.Interval() {
			t.Fatalf("frame %d gap = %v, want >= %v", i, gap, p.Interval())
		}
	}
}

func TestProducerScalesWideFrames(t *testing.T) {
	mock := clock.NewMock()
	p := NewProducer(WithClock(mock))
	src := newFakeSource(1920, 1080, false)
	src.ready.Store(true)
	tr := newFakeTransport(true)

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = p.Stop(context.Background()) }()

	advance(t, mock, p)
	advance(t, mock, p)

	frames := tr.sent()
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(frames))
	}
	f := frames[0]
	if f.Width != 1280 || f.Height != 720 {
		t.Fatalf("frame size = %dx%d, want 1280x720", f.Width, f.Height)
	}
	if len(f.JPEG) < 2 || f.JPEG[0] != 0xFF || f.JPEG[1] != 0xD8 {
		t.Fatalf("frame is not a JPEG")
	}
	if got := p.Stats().Resizes; got != 1 {
		t.Fatalf("Resizes = %d, want 1", got)
	}
}

func TestProducerStopRestoresState(t *testing.T) {
	mock := clock.NewMock()
	p := NewProducer(WithClock(mock))
	src := newFakeSource(320, 180, false)
	src.ready.Store(true)
	tr := newFakeTransport(true)

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !src.isMuted() {
		t.Fatalf("source not muted after Start")
	}
	if err := p.Start(context.Background(), src, tr); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start() error = %v, want ErrRunning", err)
	}
	advance(t, mock, p)

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p.Running() {
		t.Fatalf("Running() = true after Stop")
	}
	if src.isMuted() {
		t.Fatalf("mute state not restored")
	}
	if tr.closed.Load() != 1 || src.released.Load() != 1 {
		t.Fatalf("closed=%d released=%d, want 1 and 1", tr.closed.Load(), src.released.Load())
	}

	before := p.Stats().Emitted
	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := p.Stats().Emitted; got != before {
		t.Fatalf("emitted after Stop = %d, want %d", got, before)
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if tr.closed.Load() != 1 {
		t.Fatalf("transport closed twice")
	}
}

func TestProducerStopJoinsReleaseError(t *testing.T) {
	p := NewProducer(WithClock(clock.NewMock()))
	src := newFakeSource(320, 180, true)
	src.relErr = errors.New("release failed")
	tr := newFakeTransport(true)

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := p.Stop(context.Background())
	if err == nil || !errors.Is(err, src.relErr) {
		t.Fatalf("Stop() error = %v, want release error", err)
	}
	if !src.isMuted() {
		t.Fatalf("originally muted source was unmuted")
	}
}
