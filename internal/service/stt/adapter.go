// Package stt defines the recognition-stream capability used by the stream
// orchestrator.
package stt

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStreamClosed is returned by Write after the stream was closed or failed.
	ErrStreamClosed = errors.New("recognition stream closed")
	// ErrNotConfigured is returned when audio is sent before the configuration frame.
	ErrNotConfigured = errors.New("audio sent before stream configuration")
	// ErrAlreadyConfigured is returned when a second configuration frame is sent.
	ErrAlreadyConfigured = errors.New("stream already configured")
	// ErrEmptyAudio is returned by Write for an empty chunk.
	ErrEmptyAudio = errors.New("empty audio chunk")
)

// EventKind distinguishes the events a Stream delivers.
type EventKind int

const (
	EventTranscript EventKind = iota
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is one recognizer hypothesis.
type Result struct {
	Text            string
	IsFinal         bool
	Confidence      float64
	Stability       float64
	ResultEndTimeMs int64
}

// Event is delivered on Stream.Events in arrival order. Error and Closed are
// terminal: the channel is closed right after either.
type Event struct {
	Kind   EventKind
	Result Result
	Err    error
}

// StreamOptions configure a single recognition connection.
type StreamOptions struct {
	LanguageCodes []string
	Model         string
}

// Stream is one configured recognition connection.
type Stream interface {
	// Write sends raw 16 kHz mono LINEAR16 audio.
	Write(ctx context.Context, audio []byte) error

	// Close half-closes the connection. Results already in flight are still
	// delivered before the Closed event. Idempotent.
	Close() error

	IsOpen() bool

	Events() <-chan Event
}

// Adapter opens recognition streams against a provider.
type Adapter interface {
	// Open starts a connection and sends its configuration frame.
	Open(ctx context.Context, opts StreamOptions) (Stream, error)

	// Close releases the provider client.
	Close() error
}

// Handshake enforces the stream protocol: exactly one configuration frame,
// sent before any audio.
type Handshake struct {
	mu         sync.Mutex
	configured bool
}

// Configure records the configuration frame.
func (h *Handshake) Configure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.configured {
		return ErrAlreadyConfigured
	}
	h.configured = true
	return nil
}

// CheckAudio reports whether audio frames may be sent.
func (h *Handshake) CheckAudio() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.configured {
		return ErrNotConfigured
	}
	return nil
}
