package offscreen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/sportscaster/internal/relay"
)

// Host creates the helper worker on first use and keeps it for the life of
// the process.
type Host struct {
	root context.Context
	bus  *relay.Bus
	deps Deps

	mu     sync.Mutex
	worker *Worker
	done   chan struct{}
}

// NewHost returns a host whose worker lives until root ends.
func NewHost(root context.Context, bus *relay.Bus, deps Deps) *Host {
	return &Host{root: root, bus: bus, deps: deps}
}

// EnsureHelper starts the worker if it does not exist yet.
func (h *Host) EnsureHelper(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.worker != nil {
		return nil
	}
	if err := h.root.Err(); err != nil {
		return fmt.Errorf("offscreen: host stopped: %w", err)
	}

	inbox, err := h.bus.Register(relay.Offscreen)
	if err != nil {
		return fmt.Errorf("offscreen: %w", err)
	}
	w := NewWorker(h.bus, h.deps)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer h.bus.Unregister(relay.Offscreen)
		w.Run(h.root, inbox)
	}()
	h.worker = w
	h.done = done
	slog.Info("offscreen helper created")
	return nil
}

// Worker returns the helper worker, or nil before EnsureHelper.
func (h *Host) Worker() *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.worker
}

// Wait blocks until the worker has exited. It returns at once when no
// worker was created.
func (h *Host) Wait() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}
