package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the discriminant carried by every message on the bus.
type Type string

const (
	TypeStartCapture   Type = "START_CAPTURE"
	TypeStopCapture    Type = "STOP_CAPTURE"
	TypeCaptureStarted Type = "CAPTURE_STARTED"
	TypeStatus         Type = "STATUS"
	TypeCommentary     Type = "COMMENTARY"
	TypeStateUpdate    Type = "STATE_UPDATE"
	TypeFrame          Type = "FRAME"
	TypeError          Type = "ERROR"
	TypeMuteTabVideo   Type = "MUTE_TAB_VIDEO"
	TypeUnmuteTabVideo Type = "UNMUTE_TAB_VIDEO"

	TypeVideoPlay   Type = "VIDEO_PLAY"
	TypeVideoPause  Type = "VIDEO_PAUSE"
	TypeVideoMute   Type = "VIDEO_MUTE"
	TypeVideoUnmute Type = "VIDEO_UNMUTE"
	TypeVideoStatus Type = "VIDEO_STATUS"
)

// ErrMissingType is returned by Decode when the payload has no type field.
var ErrMissingType = errors.New("messages: missing type")

// UnknownTypeError reports a payload whose type is not part of the union.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("messages: unknown type %q", e.Type)
}

// Message is implemented by every member of the bus message union.
type Message interface {
	Kind() Type
}

type StartCapture struct{}

type StopCapture struct{}

// CaptureStarted hands the helper the opaque stream handle for a tab.
type CaptureStarted struct {
	StreamID string `json:"streamId"`
	TabID    string `json:"tabId"`
}

type Status struct {
	Message string `json:"message"`
}

// DefaultEmotion applies to commentary that arrives without an emotion.
const DefaultEmotion = "neutral"

// Commentary is one generated line of commentary. Audio and AnnotatedFrame
// are base64 payloads and may be empty.
type Commentary struct {
	Text           string `json:"text"`
	Emotion        string `json:"emotion"`
	Audio          string `json:"audio,omitempty"`
	AnnotatedFrame string `json:"annotated_frame,omitempty"`
}

// State is the commentator state mirrored to UI surfaces.
type State struct {
	Active  bool   `json:"active"`
	Status  string `json:"status"`
	TabID   string `json:"tabId,omitempty"`
	VideoID string `json:"videoId,omitempty"`
}

type StateUpdate struct {
	State State `json:"state"`
}

// Frame carries a base64 JPEG and its capture time in unix milliseconds.
type Frame struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}

type MuteTabVideo struct{}

type UnmuteTabVideo struct{}

// VideoCommand is one of the VIDEO_* page commands.
type VideoCommand struct {
	Command Type `json:"-"`
}

func (StartCapture) Kind() Type   { return TypeStartCapture }
func (StopCapture) Kind() Type    { return TypeStopCapture }
func (CaptureStarted) Kind() Type { return TypeCaptureStarted }
func (Status) Kind() Type         { return TypeStatus }
func (Commentary) Kind() Type     { return TypeCommentary }
func (StateUpdate) Kind() Type    { return TypeStateUpdate }
func (Frame) Kind() Type          { return TypeFrame }
func (Error) Kind() Type          { return TypeError }
func (MuteTabVideo) Kind() Type   { return TypeMuteTabVideo }
func (UnmuteTabVideo) Kind() Type { return TypeUnmuteTabVideo }
func (v VideoCommand) Kind() Type { return v.Command }

// IsVideoCommand reports whether t is one of the VIDEO_* commands.
func IsVideoCommand(t Type) bool {
	switch t {
	case TypeVideoPlay, TypeVideoPause, TypeVideoMute, TypeVideoUnmute, TypeVideoStatus:
		return true
	}
	return false
}

// Encode renders m as a JSON object with its type discriminant first.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("messages: nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("messages: encode %s: %w", m.Kind(), err)
	}
	head, err := json.Marshal(string(m.Kind()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(head)
	inner := bytes.TrimSpace(body)
	inner = bytes.TrimPrefix(inner, []byte("{"))
	inner = bytes.TrimSuffix(inner, []byte("}"))
	if len(bytes.TrimSpace(inner)) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PeekType returns the type discriminant of a raw payload.
func PeekType(data []byte) (Type, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("messages: decode: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}

// Decode parses a payload into its concrete message. Types outside the
// union yield *UnknownTypeError.
func Decode(data []byte) (Message, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeStartCapture:
		return StartCapture{}, nil
	case TypeStopCapture:
		return StopCapture{}, nil
	case TypeMuteTabVideo:
		return MuteTabVideo{}, nil
	case TypeUnmuteTabVideo:
		return UnmuteTabVideo{}, nil
	case TypeCaptureStarted:
		return decodeAs[CaptureStarted](t, data)
	case TypeStatus:
		return decodeAs[Status](t, data)
	case TypeCommentary:
		return decodeAs[Commentary](t, data)
	case TypeStateUpdate:
		return decodeAs[StateUpdate](t, data)
	case TypeFrame:
		return decodeAs[Frame](t, data)
	case TypeError:
		return decodeAs[Error](t, data)
	}
	if IsVideoCommand(t) {
		return VideoCommand{Command: t}, nil
	}
	return nil, &UnknownTypeError{Type: t}
}

func decodeAs[T Message](t Type, data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("messages: decode %s: %w", t, err)
	}
	return v, nil
}
