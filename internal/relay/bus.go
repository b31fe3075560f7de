package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/messages"
)

const (
	inboxBufSize      = 64
	subscriberBufSize = 256
)

// Endpoint names an execution context attached to the bus.
type Endpoint string

const (
	Background Endpoint = "background"
	Offscreen  Endpoint = "offscreen"
	Content    Endpoint = "content"
	SidePanel  Endpoint = "sidepanel"
)

// Envelope is one message in flight between endpoints.
type Envelope struct {
	From  Endpoint
	To    Endpoint
	TabID string
	Msg   messages.Message
	At    time.Time

	reply chan any
}

// Respond answers a Request. It is a no-op for fire-and-forget sends and
// for a second response.
func (e Envelope) Respond(v any) {
	if e.reply == nil {
		return
	}
	select {
	case e.reply <- v:
	default:
	}
}

// Delivery reports what happened to a send. Best-effort callers ignore it.
type Delivery struct {
	Delivered int
	Dropped   int
}

// OK reports whether at least one endpoint received the message.
func (d Delivery) OK() bool { return d.Delivered > 0 }

// Bus routes messages point-to-point between registered endpoints and fans
// every envelope out to read-only subscribers. Delivery is at-most-once and
// never blocks: a full or missing inbox drops the message.
type Bus struct {
	mu          sync.RWMutex
	inboxes     map[Endpoint]chan Envelope
	subscribers map[int64]chan Envelope
	nextID      atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		inboxes:     make(map[Endpoint]chan Envelope),
		subscribers: make(map[int64]chan Envelope),
	}
}

// Register attaches an endpoint and returns its inbox. Each endpoint may be
// registered once until it is unregistered.
func (b *Bus) Register(ep Endpoint) (<-chan Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[ep]; ok {
		return nil, fmt.Errorf("relay: endpoint %q already registered", ep)
	}
	ch := make(chan Envelope, inboxBufSize)
	b.inboxes[ep] = ch
	return ch, nil
}

// Unregister detaches an endpoint and closes its inbox.
func (b *Bus) Unregister(ep Endpoint) {
	b.mu.Lock()
	ch, ok := b.inboxes[ep]
	if ok {
		delete(b.inboxes, ep)
		close(ch)
	}
	b.mu.Unlock()
}

// Registered reports whether ep currently has an inbox.
func (b *Bus) Registered(ep Endpoint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inboxes[ep]
	return ok
}

// Send delivers env to env.To.
func (b *Bus) Send(env Envelope) Delivery {
	if env.At.IsZero() {
		env.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.publishLocked(env)
	ch, ok := b.inboxes[env.To]
	if !ok {
		return Delivery{Dropped: 1}
	}
	select {
	case ch <- env:
		return Delivery{Delivered: 1}
	default:
		return Delivery{Dropped: 1}
	}
}

// Notify is Send without tab scoping.
func (b *Bus) Notify(from, to Endpoint, msg messages.Message) Delivery {
	return b.Send(Envelope{From: from, To: to, Msg: msg})
}

// Broadcast delivers msg to every endpoint except the sender.
func (b *Bus) Broadcast(from Endpoint, msg messages.Message) Delivery {
	env := Envelope{From: from, Msg: msg, At: time.Now()}
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.publishLocked(env)
	var d Delivery
	for ep, ch := range b.inboxes {
		if ep == from {
			continue
		}
		e := env
		e.To = ep
		select {
		case ch <- e:
			d.Delivered++
		default:
			d.Dropped++
		}
	}
	return d
}

// Request sends env and waits for the receiver to Respond.
func (b *Bus) Request(ctx context.Context, env Envelope) (any, error) {
	env.reply = make(chan any, 1)
	if d := b.Send(env); !d.OK() {
		return nil, fmt.Errorf("relay: %s not listening", env.To)
	}
	select {
	case v := <-env.reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a read-only tap on all traffic. The channel is
// buffered; slow consumers have envelopes dropped.
func (b *Bus) Subscribe() (int64, <-chan Envelope) {
	id := b.nextID.Add(1)
	ch := make(chan Envelope, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a tap and closes its channel.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// ClientCount returns the number of active taps.
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) publishLocked(env Envelope) {
	env.reply = nil
	for _, ch := range b.subscribers {
		select {
		case ch <- env:
		default:
		}
	}
}
