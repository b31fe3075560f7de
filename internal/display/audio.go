package display

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// MaxAudioQueue bounds pending clips. The oldest is dropped on overflow.
const MaxAudioQueue = 5

// Sink plays one decoded clip and returns when it finishes.
type Sink interface {
	Play(ctx context.Context, clip []byte) error
}

// AudioQueue plays clips one after another. Playback failures are logged
// and the queue moves on.
type AudioQueue struct {
	sink Sink

	mu      sync.Mutex
	pending [][]byte
	playing bool
	cancel  context.CancelFunc
	dropped int
	wg      sync.WaitGroup
}

// NewAudioQueue returns a queue that plays through sink. A nil sink
// discards every clip.
func NewAudioQueue(sink Sink) *AudioQueue {
	return &AudioQueue{sink: sink}
}

// Enqueue decodes a base64 clip and schedules it.
func (q *AudioQueue) Enqueue(b64 string) {
	if q.sink == nil || b64 == "" {
		return
	}
	clip, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		slog.Warn("audio decode failed", "error", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= MaxAudioQueue {
		q.pending = q.pending[1:]
		q.dropped++
	}
	q.pending = append(q.pending, clip)
	if !q.playing {
		q.playing = true
		q.wg.Add(1)
		go q.drain()
	}
}

func (q *AudioQueue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.playing = false
			q.cancel = nil
			q.mu.Unlock()
			return
		}
		clip := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.mu.Unlock()

		if err := q.sink.Play(ctx, clip); err != nil && ctx.Err() == nil {
			slog.Warn("audio playback failed", "error", err)
		}
		cancel()
	}
}

// Pending returns how many clips are waiting.
func (q *AudioQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns how many clips were evicted by overflow.
func (q *AudioQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear drops pending clips and interrupts the current one.
func (q *AudioQueue) Clear() {
	q.mu.Lock()
	q.pending = nil
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close clears the queue and waits for playback to end.
func (q *AudioQueue) Close() {
	q.Clear()
	q.wg.Wait()
}

// ExecSink pipes each clip into an external player such as ffplay.
type ExecSink struct {
	Command string
	Args    []string
}

// NewFFPlaySink plays mp3 clips through ffplay at 80% volume.
func NewFFPlaySink(command string) *ExecSink {
	if command == "" {
		command = "ffplay"
	}
	return &ExecSink{
		Command: command,
		Args:    []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", "80", "-i", "pipe:0"},
	}
}

// Available reports whether the player binary can be found.
func (s *ExecSink) Available() bool {
	_, err := exec.LookPath(s.Command)
	return err == nil
}

func (s *ExecSink) Play(ctx context.Context, clip []byte) error {
	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Stdin = bytes.NewReader(clip)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.Command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
