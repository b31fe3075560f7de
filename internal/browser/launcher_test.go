package browser

import (
	"context"
	"net"
	"strings"
	"testing"
)

func TestArgs(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9220, ProfileDir: "/tmp/p", Headless: true, ExtraArgs: []string{"--mute-audio"}})
	args := l.Args()
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--remote-debugging-port=9220",
		"--user-data-dir=/tmp/p",
		"--autoplay-policy=no-user-gesture-required",
		"--disable-renderer-backgrounding",
		"--headless=new",
		"--mute-audio",
		"--window-size=1600,900",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("Args() missing %q: %v", want, args)
		}
	}
	if last := args[len(args)-1]; last != DefaultStartURL {
		t.Fatalf("last arg = %q, want start URL", last)
	}
}

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: port, BrowserPath: "/nonexistent/chrome"})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if l.Running() {
		t.Fatalf("Running() = true without spawning")
	}
	l.Stop()
}

func TestDetectBrowserOverride(t *testing.T) {
	if _, err := detectBrowser("/nonexistent/chrome"); err == nil {
		t.Fatalf("detectBrowser() accepted a missing path")
	}
}
