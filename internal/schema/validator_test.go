package schema

import (
	"errors"
	"testing"

	"live-speech-relay/internal/models"
)

func validEvent() models.PublishEvent {
	return models.PublishEvent{
		EventType:      models.EventTypePartial,
		SessionID:      "sess-1",
		SegmentID:      0,
		Sequence:       1,
		TranscriptText: "hello",
		SampleRateHz:   16000,
	}
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.PublishEvent)
		wantErr bool
	}{
		{"valid", func(*models.PublishEvent) {}, false},
		{"valid final", func(e *models.PublishEvent) { e.EventType = models.EventTypeFinal }, false},
		{"empty session", func(e *models.PublishEvent) { e.SessionID = "" }, true},
		{"zero sequence", func(e *models.PublishEvent) { e.Sequence = 0 }, true},
		{"negative segment", func(e *models.PublishEvent) { e.SegmentID = -1 }, true},
		{"empty text", func(e *models.PublishEvent) { e.TranscriptText = "" }, true},
		{"no sample rate", func(e *models.PublishEvent) { e.SampleRateHz = 0 }, true},
		{"unknown type", func(e *models.PublishEvent) { e.EventType = "other" }, true},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			err := v.Validate(ev)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Errorf("Validate() = %v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
