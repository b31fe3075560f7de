package display

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/messages"
)

func TestFeedKeepsLastItems(t *testing.T) {
	f := NewFeed(5)
	at := time.Unix(1700000000, 0)
	for i := 0; i < 7; i++ {
		f.Append(messages.Commentary{Text: string(rune('a' + i)), Emotion: "tense"}, at)
	}
	items := f.Items()
	if len(items) != 5 {
		t.Fatalf("len(Items()) = %d, want 5", len(items))
	}
	if items[0].Text != "c" || items[4].Text != "g" {
		t.Fatalf("items = %q..%q, want c..g", items[0].Text, items[4].Text)
	}
	if items[0].ID != 2 || items[4].ID != 6 {
		t.Fatalf("ids = %d..%d, want 2..6", items[0].ID, items[4].ID)
	}
	latest, ok := f.Latest()
	if !ok || latest.Text != "g" {
		t.Fatalf("Latest() = %+v, %v", latest, ok)
	}
}

func TestFeedNeverRetainsMoreThanLimit(t *testing.T) {
	for _, limit := range []int{0, 3, DefaultFeedLimit, 20} {
		f := NewFeed(limit)
		for i := 0; i < 30; i++ {
			f.Append(messages.Commentary{Text: "x"}, time.Now())
		}
		want := limit
		if limit <= 0 || limit > DefaultFeedLimit {
			want = DefaultFeedLimit
		}
		if f.Len() != want {
			t.Fatalf("NewFeed(%d) kept %d items, want %d", limit, f.Len(), want)
		}
	}
}

func TestFeedDefaultsEmotion(t *testing.T) {
	f := NewFeed(0)
	it := f.Append(messages.Commentary{Text: "quiet"}, time.Now())
	if it.Emotion != "neutral" {
		t.Fatalf("Emotion = %q, want neutral", it.Emotion)
	}
	f.Clear()
	if f.Len() != 0 {
		t.Fatalf("Len() after Clear = %d", f.Len())
	}
	if it := f.Append(messages.Commentary{Text: "again"}, time.Now()); it.ID != 1 {
		t.Fatalf("ID after Clear = %d, want 1", it.ID)
	}
}

func TestEmotionColor(t *testing.T) {
	tests := map[string]string{
		"excited":  "#facc15",
		"URGENT":   "#ef4444",
		"neutral":  "#9ca3af",
		"confused": "#9ca3af",
		"":         "#9ca3af",
	}
	for emotion, want := range tests {
		if got := EmotionColor(emotion); got != want {
			t.Fatalf("EmotionColor(%q) = %q, want %q", emotion, got, want)
		}
	}
}

func TestRendererShowsLatestLines(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, 60)
	if got := r.Render(nil); got != "" {
		t.Fatalf("Render(nil) = %q, want empty", got)
	}

	f := NewFeed(10)
	for _, s := range []string{"one", "two", "three", "four", "five", "six"} {
		f.Append(messages.Commentary{Text: s, Emotion: "excited"}, time.Now())
	}
	out := r.Render(f.Items())
	if strings.Contains(out, "one") {
		t.Fatalf("Render() kept more than %d lines:\n%s", DefaultFeedLimit, out)
	}
	for _, want := range []string{"two", "six", "EXCITED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("Render() missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(r.Status(true, "Connected to backend"), "Connected to backend") {
		t.Fatalf("Status() missing text")
	}
}

type recordSink struct {
	mu      sync.Mutex
	played  []string
	release chan struct{}
	fail    bool
}

func (s *recordSink) Play(ctx context.Context, clip []byte) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.played = append(s.played, string(clip))
	s.mu.Unlock()
	if s.fail {
		return errors.New("device busy")
	}
	return nil
}

func (s *recordSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...)
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestAudioQueuePlaysInOrder(t *testing.T) {
	sink := &recordSink{}
	q := NewAudioQueue(sink)
	defer q.Close()

	q.Enqueue(b64("a"))
	q.Enqueue("%%%not-base64")
	q.Enqueue(b64("b"))
	q.Enqueue(b64("c"))

	waitFor(t, func() bool { return len(sink.got()) == 3 })
	got := sink.got()
	if strings.Join(got, "") != "abc" {
		t.Fatalf("played %v, want [a b c]", got)
	}
}

func TestAudioQueueDropsOldest(t *testing.T) {
	sink := &recordSink{release: make(chan struct{})}
	q := NewAudioQueue(sink)
	defer q.Close()

	q.Enqueue(b64("first"))
	waitFor(t, func() bool { return q.Pending() == 0 })

	for _, s := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		q.Enqueue(b64(s))
	}
	if q.Pending() != MaxAudioQueue {
		t.Fatalf("Pending() = %d, want %d", q.Pending(), MaxAudioQueue)
	}
	if q.Dropped() != 2 {
		t.Fatalf("Dropped() = %d, want 2", q.Dropped())
	}
	close(sink.release)

	waitFor(t, func() bool { return len(sink.got()) == 6 })
	if got := strings.Join(sink.got(), ","); got != "first,3,4,5,6,7" {
		t.Fatalf("played %s, want first,3,4,5,6,7", got)
	}
}

func TestAudioQueueContinuesAfterFailure(t *testing.T) {
	sink := &recordSink{fail: true}
	q := NewAudioQueue(sink)
	defer q.Close()

	q.Enqueue(b64("x"))
	q.Enqueue(b64("y"))
	waitFor(t, func() bool { return len(sink.got()) == 2 })
}

func TestAudioQueueClearInterrupts(t *testing.T) {
	sink := &recordSink{release: make(chan struct{})}
	q := NewAudioQueue(sink)

	q.Enqueue(b64("long"))
	q.Enqueue(b64("next"))
	waitFor(t, func() bool { return q.Pending() == 1 })

	q.Clear()
	q.Close()
	if got := sink.got(); len(got) != 0 {
		t.Fatalf("played %v after Clear, want nothing", got)
	}
}

func TestAudioQueueNilSink(t *testing.T) {
	q := NewAudioQueue(nil)
	q.Enqueue(b64("ignored"))
	if q.Pending() != 0 {
		t.Fatalf("Pending() = %d with nil sink", q.Pending())
	}
	q.Close()
}
