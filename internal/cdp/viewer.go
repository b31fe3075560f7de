// Package cdp opens and drives the browser tab that shows the delayed
// stream. It loads YouTube embeds through chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const (
	blankURL          = "about:blank"
	embedBase         = "https://www.youtube.com/embed/"
	defaultNavTimeout = 15 * time.Second
)

// ErrViewerClosed is returned after Close.
var ErrViewerClosed = errors.New("viewer tab closed")

// EmbedURL returns the autoplaying, muted embed URL for a video id.
func EmbedURL(videoID string) string {
	q := url.Values{}
	q.Set("autoplay", "1")
	q.Set("mute", "1")
	q.Set("controls", "1")
	q.Set("modestbranding", "1")
	q.Set("rel", "0")
	q.Set("playsinline", "1")
	return embedBase + url.PathEscape(videoID) + "?" + q.Encode()
}

// ViewerTab is a tab opened in a remote Chrome for the delayed embed.
// Prepare opens it, Load and Clear navigate it.
type ViewerTab struct {
	cdpURL string

	mu          sync.Mutex
	closed      bool
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	targetID    target.ID
	current     string
}

func NewViewerTab(cdpURL string) *ViewerTab {
	return &ViewerTab{cdpURL: cdpURL}
}

// Prepare opens the tab if needed and leaves it blank.
func (v *ViewerTab) Prepare(ctx context.Context) error {
	tabCtx, err := v.ensureTab()
	if err != nil {
		return err
	}
	return v.navigate(ctx, tabCtx, blankURL)
}

// Load navigates the tab to the embed for videoID.
func (v *ViewerTab) Load(ctx context.Context, videoID string) error {
	if videoID == "" {
		return errors.New("missing video id")
	}
	tabCtx, err := v.ensureTab()
	if err != nil {
		return err
	}
	return v.navigate(ctx, tabCtx, EmbedURL(videoID))
}

// Clear blanks the tab. A tab that was never opened is left alone.
func (v *ViewerTab) Clear(ctx context.Context) error {
	v.mu.Lock()
	tabCtx := v.tabCtx
	v.mu.Unlock()
	if tabCtx == nil {
		return nil
	}
	return v.navigate(ctx, tabCtx, blankURL)
}

// Current returns the URL most recently navigated to.
func (v *ViewerTab) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Close closes the tab and drops the browser connection.
func (v *ViewerTab) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if v.tabCancel != nil {
		v.tabCancel()
	}
	if v.allocCancel != nil {
		v.allocCancel()
	}
	v.tabCtx, v.allocCtx = nil, nil
	slog.Info("Viewer tab closed", "target_id", v.targetID)
	return nil
}

func (v *ViewerTab) ensureTab() (context.Context, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrViewerClosed
	}
	if v.tabCtx != nil && v.tabCtx.Err() == nil {
		return v.tabCtx, nil
	}
	if v.cdpURL == "" {
		return nil, errors.New("missing CDP URL")
	}

	if v.allocCtx == nil || v.allocCtx.Err() != nil {
		slog.Info("Connecting to Chromium", "url", v.cdpURL)
		v.allocCtx, v.allocCancel = chromedp.NewRemoteAllocator(context.Background(), v.cdpURL)
	}
	tabCtx, tabCancel := chromedp.NewContext(v.allocCtx)
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open viewer tab: %w", err)
	}
	v.tabCtx, v.tabCancel = tabCtx, tabCancel
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		v.targetID = c.Target.TargetID
	}
	chromedp.ListenTarget(tabCtx, v.eventHandler())
	slog.Info("Opened viewer tab", "target_id", v.targetID)
	return tabCtx, nil
}

func (v *ViewerTab) eventHandler() func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				slog.Debug("Viewer tab navigated", "url", truncateURL(e.Frame.URL))
			}
		case *page.EventJavascriptDialogOpening:
			slog.Warn("Viewer tab dialog", "message", e.Message)
		}
	}
}

func (v *ViewerTab) navigate(ctx, tabCtx context.Context, rawURL string) error {
	timeout := defaultNavTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	navCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigate viewer tab: %w", err)
	}
	v.mu.Lock()
	v.current = rawURL
	v.mu.Unlock()
	slog.Info("Viewer tab navigated", "target_id", v.targetID, "url", truncateURL(rawURL))
	return nil
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
