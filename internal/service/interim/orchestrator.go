// Package interim turns admitted transcripts into ordered delta events and
// paces their publication.
package interim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"live-speech-relay/internal/clock"
	"live-speech-relay/internal/models"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/service/stabilize"
)

// Modes select how fragments are derived from successive transcripts.
const (
	// ModeDelta publishes appended text, or the whole text as a reset after a revision.
	ModeDelta = "delta"
	// ModeLCP publishes only text the LCP stabilizer has committed.
	ModeLCP = "lcp"
)

const timerPublishTimeout = 5 * time.Second

// Publisher delivers one event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, ev models.PublishEvent) error
}

// Config holds flush timing and event metadata.
type Config struct {
	Throttle       time.Duration
	Debounce       time.Duration
	HardLatency    time.Duration
	MaxQueue       int
	Mode           string
	SuffixWindow   int
	SourceLanguage string
	TargetLanguage string
	SampleRateHz   int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Throttle:       50 * time.Millisecond,
		Debounce:       200 * time.Millisecond,
		HardLatency:    300 * time.Millisecond,
		MaxQueue:       300,
		Mode:           ModeDelta,
		SuffixWindow:   stabilize.DefaultSuffixWindow,
		SourceLanguage: "ko-KR",
		TargetLanguage: "en-US",
		SampleRateHz:   16000,
	}
}

// Orchestrator queues text fragments for one session and flushes them as a
// single event on a final result, when the throttle gap has passed, when
// input settles for Debounce, when the oldest fragment reaches HardLatency,
// or when the queue reaches MaxQueue.
type Orchestrator struct {
	cfg       Config
	publisher Publisher
	clock     clock.Clock
	logger    zerolog.Logger

	mu          sync.Mutex
	disposed    bool
	sessionID   string
	segmentID   int64
	hasSegment  bool
	prevText    string
	sequence    int64
	queue       []string
	queueReset  bool
	queueFinal  bool
	confidence  float64
	stableChars int
	lastSentAt  time.Time
	debounce    clock.Timer
	hardLatency clock.Timer
	lcp         *stabilize.LCPStabilizer
	gate        *stabilize.SuffixGate

	// pubMu is taken before mu is released so events reach the publisher
	// in sequence order.
	pubMu sync.Mutex
}

func New(cfg Config, publisher Publisher, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDelta
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultConfig().MaxQueue
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = DefaultConfig().SampleRateHz
	}
	return &Orchestrator{
		cfg:       cfg,
		publisher: publisher,
		clock:     clk,
		logger:    logging.WithComponent("interim"),
		lcp:       stabilize.NewLCPStabilizer(),
		gate:      stabilize.NewSuffixGate(cfg.SuffixWindow),
	}
}

// OnResult derives a fragment from s and publishes or queues it.
func (o *Orchestrator) OnResult(ctx context.Context, s stabilize.Transcript) error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	events := o.acceptLocked(s)
	if len(events) == 0 {
		o.mu.Unlock()
		return nil
	}
	o.pubMu.Lock()
	o.mu.Unlock()
	defer o.pubMu.Unlock()

	return o.publishAll(ctx, events)
}

func (o *Orchestrator) acceptLocked(s stabilize.Transcript) []models.PublishEvent {
	var events []models.PublishEvent
	now := o.clock.Now()

	if o.hasSegment && s.SegmentID != o.segmentID {
		if len(o.queue) > 0 {
			events = append(events, o.takeLocked(now))
		}
		o.prevText = ""
		o.lcp.Reset()
		o.gate.Reset()
	}
	o.sessionID = s.SessionID
	o.segmentID = s.SegmentID
	o.hasSegment = true

	normalized := stabilize.Normalize(s.Text)
	o.stableChars = o.gate.Update(normalized)

	fragment, reset := o.fragmentLocked(normalized, s.IsFinal)
	if fragment == "" {
		if !s.IsFinal || normalized == "" {
			return events
		}
		if len(o.queue) == 0 {
			// The final only changed punctuation of text already sent as
			// partial; restate it so the utterance still closes as final.
			fragment, reset = normalized, true
		}
	}

	if fragment != "" {
		if reset {
			// The fragment is the whole current text; queued pieces are superseded.
			o.queue = o.queue[:0]
			o.queueReset = true
		}
		o.queue = append(o.queue, fragment)
	}
	o.queueFinal = s.IsFinal
	o.confidence = s.Confidence

	if len(o.queue) == 1 && o.hardLatency == nil {
		o.hardLatency = o.clock.AfterFunc(o.cfg.HardLatency, o.onHardLatency)
	}

	// A final closes the utterance; the next one must not share its event.
	if s.IsFinal || now.Sub(o.lastSentAt) >= o.cfg.Throttle || len(o.queue) >= o.cfg.MaxQueue {
		return append(events, o.takeLocked(now))
	}

	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = o.clock.AfterFunc(o.cfg.Debounce, o.onDebounce)
	return events
}

func (o *Orchestrator) fragmentLocked(normalized string, isFinal bool) (string, bool) {
	if o.cfg.Mode == ModeLCP {
		if isFinal {
			return o.lcp.Finalize(normalized)
		}
		delta, ok := o.lcp.OnInterim(normalized)
		if !ok {
			return "", false
		}
		return delta, false
	}

	fragment, reset := stabilize.Delta(o.prevText, normalized)
	o.prevText = normalized
	if isFinal {
		// The recognizer starts the next utterance from empty text.
		o.prevText = ""
	}
	return fragment, reset
}

// takeLocked builds the event for the queued fragments and clears the queue.
func (o *Orchestrator) takeLocked(now time.Time) models.PublishEvent {
	o.sequence++
	eventType := models.EventTypePartial
	if o.queueFinal {
		eventType = models.EventTypeFinal
	}
	ev := models.PublishEvent{
		EventType:      eventType,
		SessionID:      o.sessionID,
		SegmentID:      o.segmentID,
		Sequence:       o.sequence,
		TranscriptText: strings.Join(o.queue, ""),
		IsFinal:        o.queueFinal,
		Reset:          o.queueReset,
		StableChars:    o.stableChars,
		Confidence:     o.confidence,
		SourceLanguage: o.cfg.SourceLanguage,
		TargetLanguage: o.cfg.TargetLanguage,
		SampleRateHz:   o.cfg.SampleRateHz,
		CreatedAt:      now,
	}

	o.queue = o.queue[:0]
	o.queueReset = false
	o.queueFinal = false
	o.lastSentAt = now
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	if o.hardLatency != nil {
		o.hardLatency.Stop()
		o.hardLatency = nil
	}
	return ev
}

func (o *Orchestrator) onDebounce()    { o.flushFromTimer("debounce") }
func (o *Orchestrator) onHardLatency() { o.flushFromTimer("hard_latency") }

func (o *Orchestrator) flushFromTimer(trigger string) {
	o.mu.Lock()
	if o.disposed || len(o.queue) == 0 {
		o.mu.Unlock()
		return
	}
	ev := o.takeLocked(o.clock.Now())
	o.pubMu.Lock()
	o.mu.Unlock()
	defer o.pubMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timerPublishTimeout)
	defer cancel()
	if err := o.publishAll(ctx, []models.PublishEvent{ev}); err != nil {
		o.logger.Error().Err(err).Str("trigger", trigger).Msg("Timed flush failed")
	}
}

func (o *Orchestrator) publishAll(ctx context.Context, events []models.PublishEvent) error {
	for _, ev := range events {
		if err := o.publisher.Publish(ctx, ev); err != nil {
			return fmt.Errorf("publish sequence %d: %w", ev.Sequence, err)
		}
		o.logger.Debug().
			Str("sessionId", ev.SessionID).
			Int64("segmentId", ev.SegmentID).
			Int64("sequence", ev.Sequence).
			Str("text", ev.TranscriptText).
			Msg("Published transcript delta")
	}
	return nil
}

// Dispose flushes queued text and stops accepting input.
func (o *Orchestrator) Dispose(ctx context.Context) error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	var events []models.PublishEvent
	if len(o.queue) > 0 {
		events = append(events, o.takeLocked(o.clock.Now()))
	}
	if o.debounce != nil {
		o.debounce.Stop()
	}
	if o.hardLatency != nil {
		o.hardLatency.Stop()
	}
	o.disposed = true
	sessionID, lastSequence := o.sessionID, o.sequence
	o.pubMu.Lock()
	o.mu.Unlock()
	defer o.pubMu.Unlock()

	o.logger.Info().Str("sessionId", sessionID).Int64("lastSequence", lastSequence).Msg("Interim orchestrator disposed")
	return o.publishAll(ctx, events)
}
