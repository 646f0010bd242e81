// Package models defines the data structures shared across the client.
package models

import "time"

// Event types published for downstream observers.
const (
	EventCaptionCompleted = "vision.caption.completed"
	EventSpeechDropped    = "vision.speech.dropped"
)

// CaptureRequest is one encoded frame ready to be sent.
type CaptureRequest struct {
	ID        string
	Payload   []byte
	CreatedAt time.Time
}

// CaptionEntry is the accumulated text for one capture id.
type CaptionEntry struct {
	ID           string
	Text         string
	Complete     bool
	Tokens       int
	FirstTokenAt time.Time
	CompletedAt  time.Time
}

// CaptionCompleted is emitted when the sentinel arrives for a capture id.
type CaptionCompleted struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	CaptureID  string `json:"captureId"`
	Text       string `json:"text"`
	TokenCount int    `json:"tokenCount"`
	LatencyMs  int64  `json:"latencyMs"`
	Timestamp  int64  `json:"timestamp"`
}

// SpeechDropped is emitted when a completed caption is not spoken.
type SpeechDropped struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	CaptureID string `json:"captureId"`
	Text      string `json:"text"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}
