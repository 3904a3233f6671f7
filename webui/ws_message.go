package webui

import (
	"time"

	"mochi_backend/generation"
	"mochi_backend/notify"
)

// Message types pushed to WebSocket clients.
const (
	// MessageTypeInitial is the first message on every connection.
	MessageTypeInitial = "initial"

	// MessageTypeSnapshot carries the queue after every change.
	MessageTypeSnapshot = "snapshot"

	// MessageTypeResult announces a saved image.
	MessageTypeResult = "result"

	// MessageTypeState carries generation status changes.
	MessageTypeState = "state"

	// MessageTypePreview carries the in-progress image, or clears it.
	MessageTypePreview = "preview"

	// MessageTypeNotification relays the queue-empty notification.
	MessageTypeNotification = "notification"

	// MessageTypeError reports a server-side problem.
	MessageTypeError = "error"
)

// WSMessage is the envelope for every WebSocket message.
type WSMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewWSMessage stamps a message with the current time.
func NewWSMessage(msgType string, data any) WSMessage {
	return WSMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// StateData is the wire form of a generation status.
type StateData struct {
	Status      string               `json:"status"`
	Message     string               `json:"message,omitempty"`
	Progress    *generation.Progress `json:"progress,omitempty"`
	Fraction    float64              `json:"fraction"`
	LastStepMs  int64                `json:"last_step_ms,omitempty"`
	RemainingMs int64                `json:"remaining_ms,omitempty"`
	Idle        bool                 `json:"idle"`
}

// NewStateData flattens a state event. RemainingMs is an estimate from the
// last step duration.
func NewStateData(ev generation.StateEvent) StateData {
	data := StateData{
		Status:   ev.Status.Kind.String(),
		Message:  ev.Status.Message,
		Progress: ev.Status.Progress,
		Idle:     ev.Status.Idle(),
	}
	if p := ev.Status.Progress; p != nil {
		data.Fraction = p.Fraction()
		if ev.LastStepElapsed > 0 && p.StepCount > p.Step {
			data.RemainingMs = (ev.LastStepElapsed * time.Duration(p.StepCount-p.Step)).Milliseconds()
		}
	}
	if ev.LastStepElapsed > 0 {
		data.LastStepMs = ev.LastStepElapsed.Milliseconds()
	}
	return data
}

// ResultData announces a saved image.
type ResultData struct {
	ID        string              `json:"id"`
	RequestID string              `json:"request_id"`
	ImagePath string              `json:"image_path"`
	ImageName string              `json:"image_name"`
	Metadata  generation.Metadata `json:"metadata"`
}

// PreviewData carries a PNG data URL of the in-progress image. An empty
// Image means the preview was cleared.
type PreviewData struct {
	Version uint64 `json:"version"`
	Image   string `json:"image,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InitialData is sent once when a client connects.
type InitialData struct {
	Snapshot   generation.Snapshot `json:"snapshot"`
	State      StateData           `json:"state"`
	ImageCount int                 `json:"image_count"`
	Version    string              `json:"version,omitempty"`
}

// NewSnapshotMessage wraps a queue snapshot.
func NewSnapshotMessage(s generation.Snapshot) WSMessage {
	return NewWSMessage(MessageTypeSnapshot, s)
}

// NewStateMessage wraps a state event.
func NewStateMessage(ev generation.StateEvent) WSMessage {
	return NewWSMessage(MessageTypeState, NewStateData(ev))
}

// NewResultMessage wraps a saved result.
func NewResultMessage(r generation.Result) WSMessage {
	return NewWSMessage(MessageTypeResult, ResultData{
		ID:        r.ID,
		RequestID: r.RequestID,
		ImagePath: r.ImagePath,
		ImageName: baseName(r.ImagePath),
		Metadata:  r.Metadata,
	})
}

// NewPreviewMessage wraps an encoded preview.
func NewPreviewMessage(data PreviewData) WSMessage {
	return NewWSMessage(MessageTypePreview, data)
}

// NewNotificationMessage wraps a user notification.
func NewNotificationMessage(n notify.Notification) WSMessage {
	return NewWSMessage(MessageTypeNotification, n)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(code, message string) WSMessage {
	return NewWSMessage(MessageTypeError, ErrorData{Code: code, Message: message})
}

// NewInitialMessage wraps the connection snapshot.
func NewInitialMessage(data InitialData) WSMessage {
	return NewWSMessage(MessageTypeInitial, data)
}
