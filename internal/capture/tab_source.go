package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
)

// TabClient is the slice of the CDP client a TabSource needs.
type TabClient interface {
	ProbeVideo(ctx context.Context, targetID string) (cdpcontrol.VideoProbe, error)
	Screenshot(ctx context.Context, handle string, clip *cdpcontrol.Clip) ([]byte, error)
	Release(ctx context.Context, handle string) error
}

// TabSource reads the first <video> of a browser tab through a capture
// handle. The page's own audio belongs to the page agent; SetMuted only
// tracks the source's local playback flag and never reaches the page.
type TabSource struct {
	client   TabClient
	handle   string
	targetID string

	mu    sync.Mutex
	last  cdpcontrol.VideoProbe
	muted bool
}

func NewTabSource(client TabClient, handle, targetID string) *TabSource {
	return &TabSource{client: client, handle: handle, targetID: targetID}
}

func (s *TabSource) HasCurrentData(ctx context.Context) bool {
	probe, err := s.client.ProbeVideo(ctx, s.targetID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.last = probe
	s.mu.Unlock()
	return probe.HasCurrentData()
}

// Dimensions returns the native video size from the last probe.
func (s *TabSource) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Width, s.last.Height
}

func (s *TabSource) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	rect := s.last.Rect
	s.mu.Unlock()

	var clip *cdpcontrol.Clip
	if rect.Width > 0 && rect.Height > 0 {
		clip = &rect
	}
	data, err := s.client.Screenshot(ctx, s.handle, clip)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}

func (s *TabSource) SetMuted(_ context.Context, muted bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.muted
	s.muted = muted
	return prev, nil
}

func (s *TabSource) Release(ctx context.Context) error {
	return s.client.Release(ctx, s.handle)
}

// WaitForData polls src until it has a drawable frame or timeout passes.
func WaitForData(ctx context.Context, clk clock.Clock, src Source, poll, timeout time.Duration) error {
	if src.HasCurrentData(ctx) {
		return nil
	}
	deadline := clk.Timer(timeout)
	defer deadline.Stop()
	ticker := clk.Ticker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("capture: no video data after %s", timeout)
		case <-ticker.C:
			if src.HasCurrentData(ctx) {
				return nil
			}
		}
	}
}
