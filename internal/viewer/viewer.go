// Package viewer is the standalone frontend flow: submit a YouTube URL to
// the backend, then watch the downloaded video's commentary stream.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgnsrekt/sportscaster/internal/backend"
)

const (
	errEmptyURL = "Please paste a YouTube URL"
	errFailed   = "Failed to start"
)

// ErrEmptyURL is returned by Submit for a blank URL.
var ErrEmptyURL = errors.New(errEmptyURL)

// View is the screen the viewer is on.
type View int

const (
	URLInput View = iota
	Player
)

func (v View) String() string {
	if v == Player {
		return "player"
	}
	return "url_input"
}

// Starter asks the backend to prepare a session for a URL.
type Starter interface {
	Start(ctx context.Context, videoURL string) (backend.Session, error)
}

// Viewer holds the URL input and player view state.
type Viewer struct {
	starter Starter

	mu      sync.Mutex
	view    View
	session backend.Session
	errText string
	status  string
	loading bool
}

func New(starter Starter) *Viewer {
	return &Viewer{starter: starter}
}

// Submit starts a session for rawURL. On success the viewer switches to
// the player view; on failure it stays on the URL input with an error.
func (v *Viewer) Submit(ctx context.Context, rawURL string) (backend.Session, error) {
	rawURL = strings.TrimSpace(rawURL)
	v.mu.Lock()
	if rawURL == "" {
		v.errText = errEmptyURL
		v.mu.Unlock()
		return backend.Session{}, ErrEmptyURL
	}
	if v.loading {
		v.mu.Unlock()
		return backend.Session{}, errors.New("start already in progress")
	}
	v.loading = true
	v.errText = ""
	v.status = "Downloading video..."
	v.mu.Unlock()

	s, err := v.starter.Start(ctx, rawURL)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = false
	if err != nil {
		v.errText = errorText(err)
		v.status = ""
		slog.Warn("start commentary failed", "url", rawURL, "error", err)
		return backend.Session{}, err
	}
	v.status = "Ready: " + s.Title
	v.session = s
	v.view = Player
	slog.Info("commentary session ready", "session_id", s.SessionID, "title", s.Title, "duration", s.Duration)
	return s, nil
}

// Back returns to the URL input view.
func (v *Viewer) Back() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.view = URLInput
	v.session = backend.Session{}
	v.status = ""
	v.errText = ""
}

func (v *Viewer) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.view
}

// Session returns the session shown in the player view.
func (v *Viewer) Session() (backend.Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session, v.view == Player
}

// Error returns the message shown under the URL input.
func (v *Viewer) Error() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errText
}

// Status returns the progress line shown while no error is set.
func (v *Viewer) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func (v *Viewer) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

func errorText(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	if err.Error() == "" {
		return errFailed
	}
	return err.Error()
}
