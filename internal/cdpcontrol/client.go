package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth one reconnect.
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"no session with given id",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string
}

// Client drives page targets of a running Chrome over CDP. Evaluations go
// through one cached session per tab; capture handles are separate sessions
// owned by whoever requested them.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu      sync.Mutex
	cdp     *rawCDP
	tabs    map[target.ID]*tabSession
	handles map[string]target.ID
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		handles:     make(map[string]target.ID),
	}
}

// URL returns the CDP HTTP endpoint the client talks to.
func (c *Client) URL() string { return c.cdpURL }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	if c.cdp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		for _, session := range c.tabs {
			session.mu.Lock()
			if session.sessionID != "" {
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("detach cleanup failed", "target_id", session.info.TargetID, "session_id", session.sessionID, "error", err)
				}
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		for handle, targetID := range c.handles {
			if err := c.cdp.detachFromTarget(ctx, handle); err != nil {
				slog.Debug("detach cleanup failed", "target_id", string(targetID), "handle", handle, "error", err)
			}
		}
		cancel()
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.handles = make(map[string]target.ID)
}

// ListTabs returns page targets matching the tab filter, most recently
// activated first.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	return c.filterTabs(targets), nil
}

// ActiveTab returns the foreground page target.
func (c *Client) ActiveTab(ctx context.Context) (TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	if len(tabs) == 0 {
		return TabInfo{}, newError(CodeTabNotFound, "no active tab found", nil)
	}
	slog.Debug("cdpcontrol active tab", "target_id", tabs[0].TargetID, "url", tabs[0].URL)
	return tabs[0], nil
}

// CaptureHandle attaches a dedicated session to the tab. The returned
// session id is the opaque stream handle for that tab.
func (c *Client) CaptureHandle(ctx context.Context, targetID string) (string, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return "", newError(CodeValidation, "target id is required", nil)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	handle, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	c.mu.Lock()
	c.handles[handle] = target.ID(targetID)
	c.mu.Unlock()
	slog.Debug("cdpcontrol capture handle issued", "target_id", targetID, "handle", handle)
	return handle, nil
}

// Release detaches a capture handle. Unknown handles are ignored.
func (c *Client) Release(ctx context.Context, handle string) error {
	c.mu.Lock()
	_, ok := c.handles[handle]
	delete(c.handles, handle)
	cdp := c.cdp
	c.mu.Unlock()
	if !ok || cdp == nil {
		return nil
	}
	if err := cdp.detachFromTarget(ctx, handle); err != nil {
		return newError(CodeCDPUnavailable, "detach capture handle failed", err)
	}
	return nil
}

// OnHandleDetached calls fn once the browser drops the capture session,
// for example when the tab is closed.
func (c *Client) OnHandleDetached(handle string, fn func()) func() {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return func() {}
	}
	var once sync.Once
	return cdp.registerEventHandler("Target.detachedFromTarget", func(_ string, params json.RawMessage) {
		var evt struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(params, &evt) != nil || evt.SessionID != handle {
			return
		}
		once.Do(fn)
	})
}

// Screenshot captures the tab behind a capture handle. A nil clip grabs
// the whole viewport.
func (c *Client) Screenshot(ctx context.Context, handle string, clip *Clip) ([]byte, error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	img, err := cdp.captureScreenshot(ctx, handle, "png", 0, clip)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "screenshot failed", err)
	}
	return img, nil
}

// EvalOnTab runs an envelope-returning script on the tab and decodes its
// data into out. One reconnect is attempted on transient failures.
func (c *Client) EvalOnTab(ctx context.Context, targetID, js string, out any) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return newError(CodeValidation, "target id is required", nil)
	}

	err := c.evalOnTarget(ctx, targetID, js, out)
	if err == nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "target_id", targetID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "target_id", targetID, "error", recErr)
			return recErr
		}
	}
	return c.evalOnTarget(ctx, targetID, js, out)
}

func (c *Client) evalOnTarget(ctx context.Context, targetID, js string, out any) error {
	session, err := c.lookupSession(ctx, targetID)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, js, out)
}

func (c *Client) lookupSession(ctx context.Context, targetID string) (*tabSession, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.tabs[target.ID(targetID)]; ok {
		return s, nil
	}
	if err := c.syncTabsLocked(ctx); err != nil {
		return nil, err
	}
	s, ok := c.tabs[target.ID(targetID)]
	if !ok {
		return nil, newError(CodeTabNotFound, "tab not found: "+targetID, nil)
	}
	return s, nil
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session)
	if err != nil {
		return err
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", session.info.TargetID, "error", err)
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, session.info.TargetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", session.info.TargetID, "session_id", sid)
	return sid, nil
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	live := make(map[target.ID]bool)
	for _, info := range c.filterTabs(targets) {
		id := target.ID(info.TargetID)
		live[id] = true
		if s, ok := c.tabs[id]; ok {
			s.info = info
			continue
		}
		c.tabs[id] = &tabSession{info: info}
	}
	for id := range c.tabs {
		if !live[id] {
			delete(c.tabs, id)
		}
	}

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "tabs", len(c.tabs))
	return nil
}

func (c *Client) filterTabs(targets []*target.Info) []TabInfo {
	out := make([]TabInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		out = append(out, TabInfo{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	return out
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.connected()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
