// Package capture samples a live video surface at a fixed rate and pushes
// JPEG frames to a transport.
package capture

import (
	"context"
	"image"
	"time"
)

// Build-time capture settings.
const (
	FPS         = 5
	JPEGQuality = 70
	MaxWidth    = 1280
)

// FrameSample is one encoded frame. It is not retained after delivery.
type FrameSample struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Source is a live video surface bound to a media handle.
type Source interface {
	// HasCurrentData reports whether a frame can be drawn right now.
	HasCurrentData(ctx context.Context) bool
	// Frame returns the current video frame at its native size.
	Frame(ctx context.Context) (image.Image, error)
	// SetMuted changes local playback muting and returns the prior value.
	SetMuted(ctx context.Context, muted bool) (bool, error)
	// Release gives the media handle back.
	Release(ctx context.Context) error
}

// Transport carries frames downstream.
type Transport interface {
	IsOpen() bool
	SendFrame(ctx context.Context, f FrameSample) error
	// Close shuts the channel down, sending a terminal message when the
	// channel supports one.
	Close() error
}

// Stats are cumulative producer counters.
type Stats struct {
	Emitted uint64 `json:"emitted"`
	Skipped uint64 `json:"skipped"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Resizes uint64 `json:"resizes"`
}
