package controller

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/capture"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/delayloader"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
	"github.com/dgnsrekt/sportscaster/internal/snapshot"
	"github.com/google/uuid"
)

// Capture is the relay coordinator as seen by the service.
type Capture interface {
	StartCapture(ctx context.Context) (relay.Session, error)
	StopCapture(ctx context.Context)
	Session() (relay.Session, bool)
	State() messages.State
}

// Panel is the side panel as seen by the service.
type Panel interface {
	Items() []display.Item
	Frame() (messages.Frame, bool)
	LastError() string
}

// Delay is the delayed viewer as seen by the service.
type Delay interface {
	SetDelay(d time.Duration)
	Snapshot() delayloader.Snapshot
}

// Page runs playback commands on the captured page.
type Page interface {
	Command(ctx context.Context, tabID string, t messages.Type) cdpcontrol.VideoStatus
}

// StatsFunc reports frame producer counters for the running capture.
type StatsFunc func() capture.Stats

// Deps are the collaborators a Service drives. Delay, Page, Snaps and
// Stats are optional.
type Deps struct {
	Capture Capture
	Panel   Panel
	Delay   Delay
	Page    Page
	Snaps   *snapshot.Store
	Stats   StatsFunc
}

// Service wraps commentator control operations.
type Service struct {
	capture Capture
	panel   Panel
	delay   Delay
	page    Page
	snaps   *snapshot.Store
	stats   StatsFunc
}

func NewService(d Deps) *Service {
	return &Service{
		capture: d.Capture,
		panel:   d.Panel,
		delay:   d.Delay,
		page:    d.Page,
		snaps:   d.Snaps,
		stats:   d.Stats,
	}
}

// StateView is the combined commentator state.
type StateView struct {
	State     messages.State        `json:"state"`
	Session   *relay.Session        `json:"session,omitempty"`
	Delay     *delayloader.Snapshot `json:"delay,omitempty"`
	Frames    *capture.Stats        `json:"frames,omitempty"`
	LastError string                `json:"last_error,omitempty"`
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) StartCapture(ctx context.Context) (relay.Session, error) {
	return s.capture.StartCapture(ctx)
}

// StopCapture stops any running capture and returns the resulting state.
func (s *Service) StopCapture(ctx context.Context) messages.State {
	s.capture.StopCapture(ctx)
	return s.capture.State()
}

func (s *Service) State(_ context.Context) StateView {
	v := StateView{State: s.capture.State()}
	if sess, ok := s.capture.Session(); ok {
		v.Session = &sess
	}
	if s.delay != nil {
		d := s.delay.Snapshot()
		v.Delay = &d
	}
	if s.stats != nil {
		st := s.stats()
		v.Frames = &st
	}
	if s.panel != nil {
		v.LastError = s.panel.LastError()
	}
	return v
}

// Commentary returns the side panel list, oldest first.
func (s *Service) Commentary(_ context.Context) []display.Item {
	if s.panel == nil {
		return []display.Item{}
	}
	return s.panel.Items()
}

// Frame returns the latest preview frame of the captured tab.
func (s *Service) Frame(_ context.Context) (messages.Frame, error) {
	if s.panel != nil {
		if f, ok := s.panel.Frame(); ok {
			return f, nil
		}
	}
	return messages.Frame{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNoFrame, Message: "no frame received yet"}
}

// SetDelay changes the delayed viewer delay.
func (s *Service) SetDelay(_ context.Context, delayMS int) (delayloader.Snapshot, error) {
	if s.delay == nil {
		return delayloader.Snapshot{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "delayed viewer is disabled"}
	}
	d := time.Duration(delayMS) * time.Millisecond
	if err := delayloader.ValidDelay(d); err != nil {
		return delayloader.Snapshot{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error()}
	}
	s.delay.SetDelay(d)
	return s.delay.Snapshot(), nil
}

// VideoCommand runs play, pause, mute, unmute or status on the captured
// tab, or on the active tab when nothing is captured.
func (s *Service) VideoCommand(ctx context.Context, command string) (cdpcontrol.VideoStatus, error) {
	if err := s.requireNonEmpty(command, "command"); err != nil {
		return cdpcontrol.VideoStatus{}, err
	}
	t := messages.Type("VIDEO_" + strings.ToUpper(strings.TrimSpace(command)))
	if !messages.IsVideoCommand(t) {
		return cdpcontrol.VideoStatus{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fmt.Sprintf("unknown video command %q", command)}
	}
	if s.page == nil {
		return cdpcontrol.VideoStatus{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "page agent not running"}
	}
	var tabID string
	if sess, ok := s.capture.Session(); ok {
		tabID = sess.TabID
	}
	st := s.page.Command(ctx, tabID, t)
	if !st.OK && st.Error == "No video element found" {
		return st, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNoVideo, Message: st.Error}
	}
	return st, nil
}

// TakeSnapshot saves the latest preview frame, or with source "annotated"
// the latest annotated commentary frame.
func (s *Service) TakeSnapshot(ctx context.Context, source, notes string) (snapshot.SnapshotMeta, error) {
	if s.snaps == nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "snapshot store is disabled"}
	}
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		source = "preview"
	}

	meta := snapshot.SnapshotMeta{
		ID:        uuid.New().String(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Notes:     notes,
	}
	var encoded string
	switch source {
	case "preview":
		f, err := s.Frame(ctx)
		if err != nil {
			return snapshot.SnapshotMeta{}, err
		}
		encoded = f.Data
		meta.CapturedAt = time.UnixMilli(f.Timestamp).UTC()
	case "annotated":
		it, ok := s.latestAnnotated()
		if !ok {
			return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNoFrame, Message: "no annotated frame received yet"}
		}
		encoded = it.AnnotatedFrame
		meta.CapturedAt = it.Timestamp.UTC()
		meta.Commentary = it.Text
		meta.Emotion = it.Emotion
	default:
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "source must be \"preview\" or \"annotated\""}
	}

	imageData, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: fmt.Sprintf("decode frame: %v", err)}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: fmt.Sprintf("decode frame: %v", err)}
	}
	meta.Format = format
	meta.Width = cfg.Width
	meta.Height = cfg.Height
	meta.SizeBytes = len(imageData)
	if sess, ok := s.capture.Session(); ok {
		meta.TabID = sess.TabID
		meta.VideoID = sess.VideoID
	}

	if err := s.snaps.Save(meta, imageData); err != nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: fmt.Sprintf("save snapshot: %v", err)}
	}
	return meta, nil
}

func (s *Service) latestAnnotated() (display.Item, bool) {
	if s.panel == nil {
		return display.Item{}, false
	}
	items := s.panel.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].AnnotatedFrame != "" {
			return items[i], true
		}
	}
	return display.Item{}, false
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error) {
	if s.snaps == nil {
		return []snapshot.SnapshotMeta{}, nil
	}
	return s.snaps.List()
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error) {
	if err := s.requireSnapshots(id); err != nil {
		return snapshot.SnapshotMeta{}, err
	}
	meta, err := s.snaps.Get(strings.TrimSpace(id))
	if err != nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: err.Error()}
	}
	return meta, nil
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireSnapshots(id); err != nil {
		return nil, "", err
	}
	data, format, err := s.snaps.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: err.Error()}
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireSnapshots(id); err != nil {
		return err
	}
	if err := s.snaps.Delete(strings.TrimSpace(id)); err != nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: err.Error()}
	}
	return nil
}

func (s *Service) requireSnapshots(id string) error {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return err
	}
	if s.snaps == nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: "snapshot store is disabled"}
	}
	return nil
}
