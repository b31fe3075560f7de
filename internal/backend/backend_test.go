package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/capture"
	"github.com/dgnsrekt/sportscaster/internal/config"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/gorilla/websocket"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestClientURLs(t *testing.T) {
	c, err := NewClient("https://api.example.com/base/", nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if got, want := c.LiveURL(), "wss://api.example.com/base/ws/live"; got != want {
		t.Fatalf("LiveURL() = %q, want %q", got, want)
	}
	if got, want := c.SessionURL("ab12cd34"), "wss://api.example.com/base/ws/ab12cd34"; got != want {
		t.Fatalf("SessionURL() = %q, want %q", got, want)
	}
	if got, want := c.ResolveURL("/videos/a.mp4"), "https://api.example.com/videos/a.mp4"; got != want {
		t.Fatalf("ResolveURL() = %q, want %q", got, want)
	}

	if _, err := NewClient("ftp://x", nil); err == nil {
		t.Fatalf("NewClient(ftp) error = nil, want error")
	}
}

func TestClientStart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/start" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://youtu.be/dQw4w9WgXcQ" {
			t.Errorf("url = %q", body["url"])
		}
		_, _ = w.Write([]byte(`{"session_id":"ab12cd34","title":"Highlights","duration":95,"video_url":"/videos/x.mp4"}`))
	}))

	s, err := c.Start(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.SessionID != "ab12cd34" || s.Title != "Highlights" || s.Duration != 95 || s.VideoURL != "/videos/x.mp4" {
		t.Fatalf("Start() = %+v", s)
	}
}

func TestClientStartErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail", http.StatusBadRequest, `{"detail":"Video too long"}`, "Video too long"},
		{"no detail", http.StatusInternalServerError, `oops`, "Server error: 500"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail":[{"msg":"bad"}]}`, "Server error: 422"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.Start(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Start() error = %v, want *APIError", err)
			}
			if apiErr.Error() != tt.want {
				t.Fatalf("error = %q, want %q", apiErr.Error(), tt.want)
			}
		})
	}
}

func TestClientProfileChat(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []ChatMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 1 || body.Messages[0].Text != "I'm Sam" {
			t.Errorf("messages = %+v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"text":"Great to meet you!","done":true,"profile":{"name":"Sam","expertise_slider":65,"hot_take_slider":25,"favorite_players":[],"voice_key":"danny"}}`))
	}))

	reply, err := c.ProfileChat(context.Background(), []ChatMessage{{Role: "user", Text: "I'm Sam"}})
	if err != nil {
		t.Fatalf("ProfileChat() error = %v", err)
	}
	if !reply.Done || reply.Profile == nil || reply.Profile.Name != "Sam" || reply.Profile.ExpertiseSlider != 65 {
		t.Fatalf("ProfileChat() = %+v", reply)
	}
}

func TestClientHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
}

type wsRecord struct {
	kind int
	data []byte
}

// wsServer accepts one connection, sends script, and records what the
// client writes until it disconnects.
func wsServer(t *testing.T, script []string, abort bool) (string, <-chan wsRecord) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	got := make(chan wsRecord, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, s := range script {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(s))
		}
		if abort {
			return
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				close(got)
				return
			}
			got <- wsRecord{kind: kind, data: data}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), got
}

func TestSocketReadLoop(t *testing.T) {
	url, _ := wsServer(t, []string{
		`{"type":"status","message":"Sport set: soccer"}`,
		`{"type":"mystery","foo":1}`,
		`not json`,
		`{"type":"commentary","text":"What a goal!","emotion":"excited","audio":"AAA="}`,
		`{"type":"commentary","text":"Quiet spell"}`,
	}, false)

	s, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan messages.Message, 8)
	done := make(chan error, 1)
	go func() { done <- s.ReadLoop(ctx, func(m messages.Message) { got <- m }) }()

	var msgs []messages.Message
	for len(msgs) < 3 {
		select {
		case m := <-got:
			msgs = append(msgs, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d messages, want 3", len(msgs))
		}
	}
	if st, ok := msgs[0].(messages.Status); !ok || st.Message != "Sport set: soccer" {
		t.Fatalf("msgs[0] = %#v", msgs[0])
	}
	if c, ok := msgs[1].(messages.Commentary); !ok || c.Emotion != "excited" || c.Audio != "AAA=" {
		t.Fatalf("msgs[1] = %#v", msgs[1])
	}
	if c, ok := msgs[2].(messages.Commentary); !ok || c.Emotion != messages.DefaultEmotion {
		t.Fatalf("msgs[2] = %#v, want neutral emotion", msgs[2])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ReadLoop() error = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ReadLoop did not return after cancel")
	}
	if s.IsOpen() {
		t.Fatalf("IsOpen() = true after read loop ended")
	}
}

func TestSocketWrites(t *testing.T) {
	url, got := wsServer(t, nil, false)

	s, err := Dial(context.Background(), url, WithFrameTimestamps())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if !s.IsOpen() {
		t.Fatalf("IsOpen() = false after Dial")
	}
	if err := s.SetSport("basketball"); err != nil {
		t.Fatalf("SetSport() error = %v", err)
	}
	if err := s.SetProfile(config.Profile{Name: "Sam"}); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	frame := capture.FrameSample{JPEG: []byte{0xFF, 0xD8, 0xFF}, CapturedAt: time.UnixMilli(1500)}
	if err := s.SendFrame(context.Background(), frame); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.SendFrame(context.Background(), frame); !errors.Is(err, ErrSocketClosed) {
		t.Fatalf("SendFrame() after Close error = %v, want ErrSocketClosed", err)
	}

	var recs []wsRecord
	for r := range got {
		recs = append(recs, r)
	}
	if len(recs) != 5 {
		t.Fatalf("server received %d messages, want 5", len(recs))
	}
	wantText := []string{
		`{"sport":"basketball","type":"set_sport"}`,
	}
	if string(recs[0].data) != wantText[0] {
		t.Fatalf("recs[0] = %s, want %s", recs[0].data, wantText[0])
	}
	var prof struct {
		Type    string         `json:"type"`
		Profile config.Profile `json:"profile"`
	}
	if err := json.Unmarshal(recs[1].data, &prof); err != nil || prof.Type != "set_profile" || prof.Profile.Name != "Sam" {
		t.Fatalf("recs[1] = %s", recs[1].data)
	}
	var ts struct {
		Type string  `json:"type"`
		TS   float64 `json:"ts"`
	}
	if err := json.Unmarshal(recs[2].data, &ts); err != nil || ts.Type != "frame_ts" || ts.TS != 1.5 {
		t.Fatalf("recs[2] = %s", recs[2].data)
	}
	if recs[3].kind != websocket.BinaryMessage || len(recs[3].data) != 3 {
		t.Fatalf("recs[3] kind=%d len=%d, want binary frame", recs[3].kind, len(recs[3].data))
	}
	if string(recs[4].data) != `{"type":"stop"}` {
		t.Fatalf("recs[4] = %s, want stop", recs[4].data)
	}
}

func TestSocketReadLoopAbnormalClose(t *testing.T) {
	url, _ := wsServer(t, nil, true)

	s, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer s.Close()

	err = s.ReadLoop(context.Background(), func(messages.Message) {})
	if err == nil {
		t.Fatalf("ReadLoop() error = nil, want abnormal close error")
	}
	if s.IsOpen() {
		t.Fatalf("IsOpen() = true after abnormal close")
	}
}

func TestDialFailure(t *testing.T) {
	if _, err := Dial(context.Background(), "ws://127.0.0.1:1/ws/live", WithHandshakeTimeout(time.Second)); err == nil {
		t.Fatalf("Dial() error = nil, want error")
	}
}
