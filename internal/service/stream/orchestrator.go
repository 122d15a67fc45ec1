// Package stream owns the recognition-stream lifecycle of one session:
// connect, scheduled and error rotation, audio pumping and shutdown.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"live-speech-relay/internal/clock"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
	"live-speech-relay/internal/service/interim"
	"live-speech-relay/internal/service/segment"
	"live-speech-relay/internal/service/stabilize"
	"live-speech-relay/internal/service/stt"
	"live-speech-relay/internal/service/switcher"
)

var (
	ErrStopped        = errors.New("stream orchestrator stopped")
	ErrAlreadyStarted = errors.New("stream orchestrator already started")
)

// Rotation reasons.
const (
	ReasonStart     = "start"
	ReasonScheduled = "scheduled"
	ReasonError     = "error"
	ReasonClosed    = "closed"
)

const (
	eventBuffer = 256
	pumpChunk   = 4 * switcher.FrameBytes
)

// Config describes one session's recognition pipeline.
type Config struct {
	SessionID      string
	SourceLanguage string
	TargetLanguage string

	// RestartInterval keeps each connection under the recognizer's maximum
	// connection duration.
	RestartInterval time.Duration
	// RetryInterval re-arms rotation after a failed connect.
	RetryInterval   time.Duration

	Recognition stt.StreamOptions

	MaxEmitsPerSecond       float64
	MinimumGrowthCharacters int

	Interim interim.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SourceLanguage:          "ko-KR",
		TargetLanguage:          "en-US",
		RestartInterval:         285 * time.Second,
		RetryInterval:           2 * time.Second,
		MaxEmitsPerSecond:       stabilize.DefaultMaxEmitsPerSecond,
		MinimumGrowthCharacters: stabilize.DefaultMinimumGrowthCharacters,
		Interim:                 interim.DefaultConfig(),
	}
}

// streamEvent is a recognizer event tagged with the segment of the
// connection it came from.
type streamEvent struct {
	origin int64
	stt.Event
}

// Orchestrator drives the Switcher for one session and routes recognizer
// output through the sentence gate into the interim orchestrator.
type Orchestrator struct {
	cfg       Config
	adapter   stt.Adapter
	clock     clock.Clock
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	segments  *segment.Manager
	switcher  *switcher.Switcher
	sentences *stabilize.SentenceSession
	interim   *interim.Orchestrator

	ctx    context.Context
	cancel context.CancelFunc
	events chan streamEvent
	wg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	stopped      bool
	rotating     bool
	rotationDone chan struct{}
	timer        clock.Timer

	segMu      sync.Mutex
	lifecycles map[int64]*segment.Lifecycle
}

func New(cfg Config, adapter stt.Adapter, publisher interim.Publisher, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	defaults := DefaultConfig()
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = defaults.RestartInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if len(cfg.Recognition.LanguageCodes) == 0 && cfg.SourceLanguage != "" {
		cfg.Recognition.LanguageCodes = []string{cfg.SourceLanguage}
	}
	if cfg.SourceLanguage != "" {
		cfg.Interim.SourceLanguage = cfg.SourceLanguage
	}
	if cfg.TargetLanguage != "" {
		cfg.Interim.TargetLanguage = cfg.TargetLanguage
	}

	sentences := stabilize.NewSentenceSession(stabilize.SentenceConfig{
		MaxEmitsPerSecond:       cfg.MaxEmitsPerSecond,
		MinimumGrowthCharacters: cfg.MinimumGrowthCharacters,
		Language:                cfg.SourceLanguage,
		Clock:                   clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		adapter:    adapter,
		clock:      clk,
		logger:     logging.WithSession("stream", cfg.SessionID),
		metrics:    metrics.DefaultMetrics,
		segments:   segment.New(),
		sentences:  sentences,
		interim:    interim.New(cfg.Interim, publisher, clk),
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan streamEvent, eventBuffer),
		lifecycles: make(map[int64]*segment.Lifecycle),
	}
	o.switcher = switcher.New(o.onHandoff)
	return o
}

// Start opens the first recognition connection and arms the rotation timer.
// A failure here is returned; later connection failures are retried.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.dispatch()

	if err := o.connect(ReasonStart); err != nil {
		o.cancel()
		o.wg.Wait()
		return fmt.Errorf("open initial recognition stream: %w", err)
	}

	o.mu.Lock()
	if !o.stopped {
		o.timer = o.clock.AfterFunc(o.cfg.RestartInterval, o.onRotationTimer)
	}
	o.mu.Unlock()

	o.logger.Info().
		Dur("restartInterval", o.cfg.RestartInterval).
		Msg("Stream orchestrator started")
	return nil
}

// connect allocates the next segment, opens a connection for it and hands it
// to the switcher. The superseded connection is closed by the switcher.
func (o *Orchestrator) connect(reason string) error {
	segmentID := o.segments.Next(o.cfg.SessionID)

	st, err := o.adapter.Open(o.ctx, o.cfg.Recognition)
	if err != nil {
		return fmt.Errorf("segment %d: %w", segmentID, err)
	}

	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		_ = st.Close()
		return ErrStopped
	}

	o.segMu.Lock()
	o.lifecycles[segmentID] = segment.NewLifecycle(segmentID)
	o.segMu.Unlock()

	o.wg.Add(1)
	go o.forward(segmentID, st)

	o.switcher.Handoff(st, segmentID)
	o.metrics.RecordSegmentCreated()
	if reason != ReasonStart {
		o.metrics.RecordRotation(reason)
	}

	segLog := logging.WithSegment("stream", o.cfg.SessionID, segmentID)
	segLog.Info().
		Str("reason", reason).
		Msg("Recognition stream connected")
	return nil
}

// onHandoff drains every segment older than the newly active one.
func (o *Orchestrator) onHandoff(segmentID int64) {
	o.segMu.Lock()
	defer o.segMu.Unlock()
	for id, lc := range o.lifecycles {
		if id != segmentID {
			lc.Drain()
		}
	}
}

func (o *Orchestrator) onRotationTimer() {
	o.rotate(ReasonScheduled)
}

// rotate replaces the active connection. A trigger arriving while a rotation
// is in flight is a no-op.
func (o *Orchestrator) rotate(reason string) {
	o.mu.Lock()
	if o.stopped || o.rotating {
		o.mu.Unlock()
		return
	}
	o.rotating = true
	done := make(chan struct{})
	o.rotationDone = done
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.mu.Unlock()

	err := o.connect(reason)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.rotating = false
	close(done)
	if o.stopped {
		return
	}

	interval := o.cfg.RestartInterval
	if err != nil {
		interval = o.cfg.RetryInterval
		o.metrics.RecordRotationFailure()
		o.logger.Warn().
			Err(err).
			Str("reason", reason).
			Dur("retryIn", interval).
			Msg("Rotation failed, keeping previous stream")
	}
	o.timer = o.clock.AfterFunc(interval, o.onRotationTimer)
}

// forward copies one connection's events into the shared event queue.
func (o *Orchestrator) forward(segmentID int64, st stt.Stream) {
	defer o.wg.Done()
	for ev := range st.Events() {
		select {
		case o.events <- streamEvent{origin: segmentID, Event: ev}:
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) dispatch() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.events:
			o.handleEvent(ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ev streamEvent) {
	switch ev.Kind {
	case stt.EventTranscript:
		o.handleTranscript(ev.Result)
	case stt.EventError, stt.EventClosed:
		o.handleTerminal(ev)
	}
}

func (o *Orchestrator) handleTranscript(res stt.Result) {
	// Attribute to the segment active now; a result arriving right before a
	// rotation belongs to the stream that continues the audio.
	segmentID, ok := o.switcher.CurrentSegmentID()
	if !ok {
		return
	}
	o.metrics.RecordTranscript(res.IsFinal)
	if lc := o.lifecycle(segmentID); lc != nil {
		if err := lc.RecordTranscript(res.IsFinal); err != nil {
			o.logger.Debug().Err(err).Int64("segmentId", segmentID).Msg("Transcript for finished segment")
		}
	}

	sentence, admitted := o.sentences.Handle(stabilize.Transcript{
		SessionID:       o.cfg.SessionID,
		SegmentID:       segmentID,
		Text:            res.Text,
		ResultEndTimeMs: res.ResultEndTimeMs,
		IsFinal:         res.IsFinal,
		Confidence:      res.Confidence,
	})
	if !admitted {
		return
	}
	if err := o.interim.OnResult(o.ctx, sentence); err != nil {
		o.logger.Error().Err(err).Int64("segmentId", segmentID).Msg("Failed to publish transcript delta")
	}
}

// handleTerminal rotates when the active connection fails or is closed by
// the server. Terminal events of superseded connections only settle their
// segment.
func (o *Orchestrator) handleTerminal(ev streamEvent) {
	current, _ := o.switcher.CurrentSegmentID()
	lc := o.lifecycle(ev.origin)

	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()

	if ev.origin != current || stopped {
		if lc != nil {
			lc.Close()
		}
		return
	}

	reason := ReasonClosed
	if ev.Kind == stt.EventError {
		reason = ReasonError
	}
	if lc != nil && lc.Drop() {
		o.metrics.RecordSegmentDropped(reason)
	}
	segLog := logging.WithSegment("stream", o.cfg.SessionID, ev.origin)
	segLog.Warn().
		Err(ev.Err).
		Str("reason", reason).
		Msg("Active recognition stream ended, rotating")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.rotate(reason)
	}()
}

func (o *Orchestrator) lifecycle(segmentID int64) *segment.Lifecycle {
	o.segMu.Lock()
	defer o.segMu.Unlock()
	return o.lifecycles[segmentID]
}

// Pump copies transcoder output into the switcher until r ends, ctx is
// cancelled, or the orchestrator stops. End of input is not an error.
func (o *Orchestrator) Pump(ctx context.Context, r io.Reader) error {
	buf := make([]byte, pumpChunk)
	for {
		if o.isStopped() {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			o.metrics.RecordAudioPumped(n)
			if werr := o.switcher.Write(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				o.logger.Info().Msg("Audio stream ended")
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

// CurrentSegmentID returns the segment of the active connection.
func (o *Orchestrator) CurrentSegmentID() (int64, bool) {
	return o.switcher.CurrentSegmentID()
}

// SegmentState reports the lifecycle state of a segment.
func (o *Orchestrator) SegmentState(segmentID int64) (segment.State, bool) {
	lc := o.lifecycle(segmentID)
	if lc == nil {
		return 0, false
	}
	return lc.State(), true
}

// Stop waits for an in-flight rotation, flushes pending transcript text and
// closes every connection. ctx bounds the wait and the final publish.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	var inFlight chan struct{}
	if o.rotating {
		inFlight = o.rotationDone
	}
	o.mu.Unlock()

	if inFlight != nil {
		select {
		case <-inFlight:
		case <-ctx.Done():
			o.logger.Warn().Msg("Stopping with rotation still in flight")
		}
	}

	o.sentences.Stop(o.cfg.SessionID)
	disposeErr := o.interim.Dispose(ctx)
	shutdownErr := o.switcher.Shutdown()

	o.cancel()
	o.wg.Wait()
	o.segments.Forget(o.cfg.SessionID)

	o.segMu.Lock()
	for _, lc := range o.lifecycles {
		lc.Close()
	}
	o.segMu.Unlock()

	o.logger.Info().Msg("Stream orchestrator stopped")
	return errors.Join(disposeErr, shutdownErr)
}
