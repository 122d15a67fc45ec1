// Package mock provides a mock STT adapter for running without cloud credentials.
// It simulates progressive interim transcripts followed by one final per
// utterance, paced by the amount of audio received.
package mock

import (
	"context"
	"sync"

	"live-speech-relay/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"안녕하세요", "안녕하세요 여러분", "안녕하세요 여러분 오늘"},
		Final:      "안녕하세요 여러분 오늘 예배에 오신 것을 환영합니다.",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"함께", "함께 기도", "함께 기도하겠습니다"},
		Final:      "함께 기도하겠습니다.",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Thank you", "Thank you all", "Thank you all for"},
		Final:      "Thank you all for coming today.",
		Confidence: 0.91,
	},
}

// DefaultBytesPerResult is one second of 16 kHz mono 16-bit audio.
const DefaultBytesPerResult = 32000

const eventBuffer = 64

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	utterances     []SimulatedUtterance
	bytesPerResult int

	mu   sync.Mutex
	next int // index of the utterance the next stream starts with
}

// New creates a mock adapter cycling through DefaultUtterances.
func New() *Adapter {
	return NewWithScript(DefaultUtterances, DefaultBytesPerResult)
}

// NewWithScript creates a mock adapter that emits one result every
// bytesPerResult bytes of audio.
func NewWithScript(utterances []SimulatedUtterance, bytesPerResult int) *Adapter {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	if bytesPerResult <= 0 {
		bytesPerResult = DefaultBytesPerResult
	}
	return &Adapter{utterances: utterances, bytesPerResult: bytesPerResult}
}

// Open starts a scripted stream. Each new stream continues with the next
// utterance so rotations do not replay the same text.
func (a *Adapter) Open(ctx context.Context, opts stt.StreamOptions) (stt.Stream, error) {
	a.mu.Lock()
	start := a.next
	a.next = (a.next + 1) % len(a.utterances)
	a.mu.Unlock()

	s := &Stream{
		utterances:     a.utterances,
		bytesPerResult: a.bytesPerResult,
		utterance:      start,
		events:         make(chan stt.Event, eventBuffer),
	}
	if err := s.handshake.Configure(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close is a no-op; the mock holds no client.
func (a *Adapter) Close() error {
	return nil
}

// Stream is a scripted recognition stream.
type Stream struct {
	utterances     []SimulatedUtterance
	bytesPerResult int
	handshake      stt.Handshake

	mu           sync.Mutex
	received     int
	utterance    int
	partialIndex int
	elapsedMs    int64
	closed       bool
	events       chan stt.Event
}

func (s *Stream) Events() <-chan stt.Event {
	return s.events
}

func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Write counts audio and emits the next scripted result each time
// bytesPerResult bytes have been received.
func (s *Stream) Write(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return stt.ErrEmptyAudio
	}
	if err := s.handshake.CheckAudio(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stt.ErrStreamClosed
	}

	s.received += len(audio)
	// 32 bytes per millisecond at 16 kHz mono 16-bit.
	s.elapsedMs += int64(len(audio) / 32)
	for s.received >= s.bytesPerResult {
		s.received -= s.bytesPerResult
		s.events <- stt.Event{Kind: stt.EventTranscript, Result: s.nextResultLocked()}
	}
	return nil
}

func (s *Stream) nextResultLocked() stt.Result {
	utt := s.utterances[s.utterance]
	if s.partialIndex < len(utt.Partials) {
		text := utt.Partials[s.partialIndex]
		s.partialIndex++
		return stt.Result{Text: text, ResultEndTimeMs: s.elapsedMs}
	}

	s.partialIndex = 0
	s.utterance = (s.utterance + 1) % len(s.utterances)
	return stt.Result{
		Text:            utt.Final,
		IsFinal:         true,
		Confidence:      utt.Confidence,
		ResultEndTimeMs: s.elapsedMs,
	}
}

// Close ends the stream with a Closed event.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.events <- stt.Event{Kind: stt.EventClosed}
	close(s.events)
	return nil
}
