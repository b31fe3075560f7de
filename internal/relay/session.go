package relay

import (
	"sync"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/messages"
)

// Session is one capture lifecycle. It is created by a successful start and
// discarded on stop or failure.
type Session struct {
	ID        string    `json:"id"`
	TabID     string    `json:"tab_id"`
	VideoID   string    `json:"video_id,omitempty"`
	StreamID  string    `json:"-"`
	StartedAt time.Time `json:"started_at"`
}

// SessionStore is the session-scoped mirror of the commentator state. Every
// write is pushed to the side panel as a STATE_UPDATE.
type SessionStore struct {
	bus *Bus

	mu    sync.RWMutex
	state messages.State
}

// NewSessionStore creates a store starting inactive.
func NewSessionStore(bus *Bus) *SessionStore {
	return &SessionStore{bus: bus, state: messages.State{Status: "Idle"}}
}

// Set replaces the state and notifies the side panel.
func (s *SessionStore) Set(state messages.State) Delivery {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return s.bus.Notify(Background, SidePanel, messages.StateUpdate{State: state})
}

// Get returns the current state.
func (s *SessionStore) Get() messages.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
