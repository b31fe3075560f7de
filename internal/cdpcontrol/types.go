package cdpcontrol

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeTabNotFound      = "TAB_NOT_FOUND"
	CodeNoVideo          = "NO_VIDEO"
	CodeNoFrame          = "NO_FRAME"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeCaptureBusy      = "CAPTURE_BUSY"
	CodeEvalFailure      = "EVAL_FAILURE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
	CodeCDPUnavailable   = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// TabInfo describes a page target the commentator can capture.
type TabInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Clip is a viewport rectangle in CSS pixels.
type Clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// VideoProbe is a snapshot of the page's first <video> element.
type VideoProbe struct {
	Present     bool    `json:"present"`
	ReadyState  int     `json:"ready_state"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Rect        Clip    `json:"rect"`
	Muted       bool    `json:"muted"`
	Paused      bool    `json:"paused"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
}

// HaveCurrentData mirrors HTMLMediaElement.HAVE_CURRENT_DATA.
const HaveCurrentData = 2

// HasCurrentData reports whether the element has a decodable frame.
func (p VideoProbe) HasCurrentData() bool {
	return p.Present && p.ReadyState >= HaveCurrentData && p.Width > 0 && p.Height > 0
}

// VideoStatus is the reply to a page video command.
type VideoStatus struct {
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	Paused      bool    `json:"paused"`
	Muted       bool    `json:"muted"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}
