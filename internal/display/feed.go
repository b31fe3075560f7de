// Package display keeps the commentary feed and renders it for a terminal.
package display

import (
	"sync"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/messages"
)

// DefaultFeedLimit is the most commentary items a Feed retains.
const DefaultFeedLimit = 5

// Item is one rendered line of commentary.
type Item struct {
	ID             int       `json:"id"`
	Text           string    `json:"text"`
	Emotion        string    `json:"emotion"`
	Timestamp      time.Time `json:"timestamp"`
	AnnotatedFrame string    `json:"annotated_frame,omitempty"`
}

// Feed is an append-only list bounded to the most recent items.
type Feed struct {
	limit int

	mu     sync.Mutex
	nextID int
	items  []Item
}

func NewFeed(limit int) *Feed {
	if limit <= 0 || limit > DefaultFeedLimit {
		limit = DefaultFeedLimit
	}
	return &Feed{limit: limit}
}

// Append adds c to the end of the feed and evicts the oldest items beyond
// the limit.
func (f *Feed) Append(c messages.Commentary, at time.Time) Item {
	emotion := c.Emotion
	if emotion == "" {
		emotion = messages.DefaultEmotion
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	item := Item{
		ID:             f.nextID,
		Text:           c.Text,
		Emotion:        emotion,
		Timestamp:      at,
		AnnotatedFrame: c.AnnotatedFrame,
	}
	f.nextID++
	f.items = append(f.items, item)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Item(nil), f.items[over:]...)
	}
	return item
}

// Items returns a copy, oldest first.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.items...)
}

// Latest returns the newest item.
func (f *Feed) Latest() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return Item{}, false
	}
	return f.items[len(f.items)-1], true
}

// Clear drops all items. IDs keep increasing.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
