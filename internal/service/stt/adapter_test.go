package stt

import (
	"errors"
	"testing"
)

func TestHandshake_AudioBeforeConfig(t *testing.T) {
	var h Handshake

	if err := h.CheckAudio(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHandshake_ConfigureOnce(t *testing.T) {
	var h Handshake

	if err := h.Configure(); err != nil {
		t.Fatalf("first Configure() error: %v", err)
	}
	if err := h.CheckAudio(); err != nil {
		t.Errorf("expected audio to be allowed after configuration, got %v", err)
	}
	if err := h.Configure(); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("expected ErrAlreadyConfigured, got %v", err)
	}
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventTranscript, "transcript"},
		{EventError, "error"},
		{EventClosed, "closed"},
		{EventKind(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
