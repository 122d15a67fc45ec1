// Package schema validates transcript events before they reach the bus.
package schema

import (
	"errors"
	"fmt"

	"live-speech-relay/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid transcript event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the fields downstream consumers rely on.
func (v *Validator) Validate(ev models.PublishEvent) error {
	switch {
	case ev.SessionID == "":
		return fmt.Errorf("%w: sessionId is empty", ErrInvalidEvent)
	case ev.Sequence <= 0:
		return fmt.Errorf("%w: sequence must be positive, got %d", ErrInvalidEvent, ev.Sequence)
	case ev.SegmentID < 0:
		return fmt.Errorf("%w: segmentId must not be negative, got %d", ErrInvalidEvent, ev.SegmentID)
	case ev.TranscriptText == "":
		return fmt.Errorf("%w: transcriptText is empty", ErrInvalidEvent)
	case ev.SampleRateHz <= 0:
		return fmt.Errorf("%w: sampleRateHz must be positive, got %d", ErrInvalidEvent, ev.SampleRateHz)
	case ev.EventType != models.EventTypePartial && ev.EventType != models.EventTypeFinal:
		return fmt.Errorf("%w: unknown eventType %q", ErrInvalidEvent, ev.EventType)
	}
	return nil
}
