package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		w, h, max int
		wantW     int
		wantH     int
	}{
		{1920, 1080, 1280, 1280, 720},
		{1280, 720, 1280, 1280, 720},
		{640, 360, 1280, 640, 360},
		{3840, 1600, 1280, 1280, 533},
		{5000, 1, 1280, 1280, 1},
		{0, 720, 1280, 0, 0},
		{800, 600, 0, 800, 600},
	}
	for _, tt := range tests {
		w, h := TargetSize(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Fatalf("TargetSize(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestRasterReusesSurface(t *testing.T) {
	r := NewRaster(1280)
	a, err := r.Draw(image.NewRGBA(image.Rect(0, 0, 1920, 1080)))
	if err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	b, err := r.Draw(image.NewRGBA(image.Rect(0, 0, 1920, 1080)))
	if err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if a != b {
		t.Fatalf("surface reallocated for identical dimensions")
	}
	if r.Resizes() != 1 {
		t.Fatalf("Resizes() = %d, want 1", r.Resizes())
	}

	c, err := r.Draw(image.NewRGBA(image.Rect(0, 0, 640, 480)))
	if err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if c.Rect.Dx() != 640 || c.Rect.Dy() != 480 {
		t.Fatalf("surface = %v, want 640x480", c.Rect)
	}
	if r.Resizes() != 2 {
		t.Fatalf("Resizes() = %d, want 2", r.Resizes())
	}

	if _, err := r.Draw(image.NewRGBA(image.Rect(0, 0, 0, 0))); err == nil {
		t.Fatalf("Draw(empty) error = nil, want error")
	}
}

func TestEncodeJPEGDecodes(t *testing.T) {
	r := NewRaster(1280)
	img, err := r.Draw(image.NewRGBA(image.Rect(0, 0, 1920, 1080)))
	if err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	data, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Fatalf("jpeg size = %dx%d, want 1280x720", cfg.Width, cfg.Height)
	}
}

type fakeTabClient struct {
	// pageMuted is the page video's muted flag, owned by the page agent.
	pageMuted bool

	probe    cdpcontrol.VideoProbe
	probes   atomic.Int64
	readyAt  int64
	shot     []byte
	clip     *cdpcontrol.Clip
	released string
}

func (c *fakeTabClient) ProbeVideo(context.Context, string) (cdpcontrol.VideoProbe, error) {
	n := c.probes.Add(1)
	p := c.probe
	if c.readyAt > 0 && n < c.readyAt {
		p.ReadyState = 0
	}
	return p, nil
}

func (c *fakeTabClient) Screenshot(_ context.Context, _ string, clip *cdpcontrol.Clip) ([]byte, error) {
	c.clip = clip
	return c.shot, nil
}

func (c *fakeTabClient) Release(_ context.Context, handle string) error {
	c.released = handle
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func readyProbe() cdpcontrol.VideoProbe {
	return cdpcontrol.VideoProbe{
		Present:    true,
		ReadyState: 4,
		Width:      1920,
		Height:     1080,
		Rect:       cdpcontrol.Clip{X: 10, Y: 20, Width: 960, Height: 540},
	}
}

func TestTabSourceFrameUsesVideoRect(t *testing.T) {
	client := &fakeTabClient{probe: readyProbe(), shot: pngBytes(t, 960, 540)}
	src := NewTabSource(client, "sess-1", "tab-1")

	if !src.HasCurrentData(context.Background()) {
		t.Fatalf("HasCurrentData() = false, want true")
	}
	if w, h := src.Dimensions(); w != 1920 || h != 1080 {
		t.Fatalf("Dimensions() = %dx%d, want 1920x1080", w, h)
	}
	img, err := src.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if img.Bounds().Dx() != 960 {
		t.Fatalf("frame width = %d, want 960", img.Bounds().Dx())
	}
	if client.clip == nil || client.clip.X != 10 || client.clip.Width != 960 {
		t.Fatalf("clip = %+v, want video rect", client.clip)
	}
	if err := src.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if client.released != "sess-1" {
		t.Fatalf("released %q, want sess-1", client.released)
	}
}

func TestTabSourceMuteLeavesPageAlone(t *testing.T) {
	// The page agent mutes the page before the producer starts and unmutes
	// it before the producer is stopped.
	client := &fakeTabClient{probe: readyProbe(), shot: pngBytes(t, 960, 540), pageMuted: true}
	src := NewTabSource(client, "sess-1", "tab-1")
	tr := newFakeTransport(true)
	p := NewProducer(WithClock(clock.NewMock()))

	if err := p.Start(context.Background(), src, tr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	client.pageMuted = false
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if client.pageMuted {
		t.Fatalf("page muted again after stop")
	}
	if client.released != "sess-1" {
		t.Fatalf("released %q, want sess-1", client.released)
	}
	prev, err := src.SetMuted(context.Background(), false)
	if err != nil || prev {
		t.Fatalf("local mute after stop = %v, %v; want restored to false", prev, err)
	}
}

func TestTabSourceNoVideo(t *testing.T) {
	src := NewTabSource(&fakeTabClient{}, "sess-1", "tab-1")
	if src.HasCurrentData(context.Background()) {
		t.Fatalf("HasCurrentData() = true without a video")
	}
}

func TestWaitForDataBecomesReady(t *testing.T) {
	mock := clock.NewMock()
	client := &fakeTabClient{probe: readyProbe(), readyAt: 3}
	src := NewTabSource(client, "sess-1", "tab-1")

	done := make(chan error, 1)
	go func() { done <- WaitForData(context.Background(), mock, src, 100*time.Millisecond, time.Hour) }()

	for i := 0; i < 200; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("WaitForData() error = %v", err)
			}
			if client.probes.Load() < 3 {
				t.Fatalf("probes = %d, want >= 3", client.probes.Load())
			}
			return
		default:
			mock.Add(100 * time.Millisecond)
		}
	}
	t.Fatalf("WaitForData did not return")
}

func TestWaitForDataTimesOut(t *testing.T) {
	mock := clock.NewMock()
	src := NewTabSource(&fakeTabClient{}, "sess-1", "tab-1")

	done := make(chan error, 1)
	go func() { done <- WaitForData(context.Background(), mock, src, time.Second, 5*time.Second) }()

	for i := 0; i < 200; i++ {
		select {
		case err := <-done:
			if err == nil {
				t.Fatalf("WaitForData() error = nil, want timeout")
			}
			return
		default:
			mock.Add(time.Second)
		}
	}
	t.Fatalf("WaitForData did not return")
}

func TestPortTransportSendsFrames(t *testing.T) {
	bus := relay.NewBus()
	tr := NewPortTransport(bus, relay.Content, relay.SidePanel, "tab-1")
	if tr.IsOpen() {
		t.Fatalf("IsOpen() = true without a receiver")
	}
	if err := tr.SendFrame(context.Background(), FrameSample{JPEG: []byte{1}}); !errors.Is(err, ErrNotDelivered) {
		t.Fatalf("SendFrame() error = %v, want ErrNotDelivered", err)
	}

	inbox, err := bus.Register(relay.SidePanel)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !tr.IsOpen() {
		t.Fatalf("IsOpen() = false with a receiver")
	}
	at := time.UnixMilli(1700000000123)
	if err := tr.SendFrame(context.Background(), FrameSample{JPEG: []byte{0xFF, 0xD8}, CapturedAt: at}); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	env := <-inbox
	frame, ok := env.Msg.(messages.Frame)
	if !ok {
		t.Fatalf("msg = %T, want messages.Frame", env.Msg)
	}
	if frame.Data != base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8}) {
		t.Fatalf("frame data = %q", frame.Data)
	}
	if frame.Timestamp != at.UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", frame.Timestamp, at.UnixMilli())
	}
	if env.TabID != "tab-1" {
		t.Fatalf("tab = %q, want tab-1", env.TabID)
	}

	_ = tr.Close()
	if tr.IsOpen() {
		t.Fatalf("IsOpen() = true after Close")
	}
}
