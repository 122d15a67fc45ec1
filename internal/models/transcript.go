// Package models defines the data structures for transcript events.
package models

import (
	"fmt"
	"time"
)

// Event types carried in the eventType field and the Kafka eventType header.
const (
	EventTypePartial = "transcript.delta.partial"
	EventTypeFinal   = "transcript.delta.final"
)

// PublishEvent is one flushed transcript delta for a session.
// SessionID plus Sequence is the idempotency key at the message bus.
type PublishEvent struct {
	EventType      string    `json:"eventType"`
	SessionID      string    `json:"sessionId"`
	SegmentID      int64     `json:"segmentId"`
	Sequence       int64     `json:"sequence"`
	TranscriptText string    `json:"transcriptText"`
	IsFinal        bool      `json:"isFinal"`
	Reset          bool      `json:"reset,omitempty"`
	StableChars    int       `json:"stableChars"`
	Confidence     float64   `json:"confidence,omitempty"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	SampleRateHz   int       `json:"sampleRateHz"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DedupID returns the idempotency token for the event.
func (e PublishEvent) DedupID() string {
	return fmt.Sprintf("%s:%d", e.SessionID, e.Sequence)
}
