package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/messages"
)

func TestSSEHandlerStreamsFilteredTypes(t *testing.T) {
	bus := NewBus()
	srv := httptest.NewServer(SSEHandler(bus))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=STATUS", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for bus.ClientCount() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(time.Millisecond)
	}

	bus.Notify(Offscreen, SidePanel, messages.Commentary{Text: "skip me"})
	bus.Notify(Offscreen, Background, messages.Status{Message: "Connected to backend"})

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	if event != "STATUS" {
		t.Fatalf("event = %q, want STATUS", event)
	}
	if !strings.Contains(data, `"from":"offscreen"`) || !strings.Contains(data, `Connected to backend`) {
		t.Fatalf("data = %s", data)
	}
}

func TestParseFilter(t *testing.T) {
	if parseFilter("") != nil {
		t.Fatal("empty filter should be nil")
	}
	if parseFilter(" , ") != nil {
		t.Fatal("blank entries should give nil filter")
	}
	f := parseFilter("STATUS, COMMENTARY")
	if !f["STATUS"] || !f["COMMENTARY"] || len(f) != 2 {
		t.Fatalf("parseFilter() = %v", f)
	}
}
