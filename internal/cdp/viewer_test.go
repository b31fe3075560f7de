package cdp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestEmbedURL(t *testing.T) {
	got := EmbedURL("abc12345678")
	if !strings.HasPrefix(got, "https://www.youtube.com/embed/abc12345678?") {
		t.Fatalf("EmbedURL() = %q", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"autoplay":       "1",
		"mute":           "1",
		"controls":       "1",
		"modestbranding": "1",
		"rel":            "0",
		"playsinline":    "1",
	} {
		if q.Get(key) != want {
			t.Fatalf("%s = %q, want %q", key, q.Get(key), want)
		}
	}
}

func TestViewerTabWithoutBrowser(t *testing.T) {
	v := NewViewerTab("")
	if err := v.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() on unopened tab = %v", err)
	}
	if err := v.Load(context.Background(), ""); err == nil {
		t.Fatalf("Load() with empty id succeeded")
	}
	if err := v.Prepare(context.Background()); err == nil {
		t.Fatalf("Prepare() without CDP URL succeeded")
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := v.Load(context.Background(), "abc12345678"); !errors.Is(err, ErrViewerClosed) {
		t.Fatalf("Load() after Close = %v, want ErrViewerClosed", err)
	}
	if v.Current() != "" {
		t.Fatalf("Current() = %q", v.Current())
	}
}
