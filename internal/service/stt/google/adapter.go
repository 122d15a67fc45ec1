// Package google provides a Google Cloud Speech-to-Text v2 adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
	"live-speech-relay/internal/service/stt"
)

const (
	providerName          = "google"
	speechAPIEndpointPort = 443
	sampleRateHertz       = 16000
	audioChannelCount     = 1
	// chunkSize bounds a single audio request independently of the caller's framing.
	chunkSize   = 8192
	eventBuffer = 64
	// closeDrainTimeout bounds how long a half-closed stream waits for the
	// server to finish sending results.
	closeDrainTimeout = 10 * time.Second
)

// Config holds Google STT configuration.
type Config struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	RecognizerID    string
	Model           string
	LanguageCodes   []string
	// Interim results reporting a stability in (0, MinInterimStability)
	// are dropped. Finals always pass.
	MinInterimStability float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Location:            "us-central1",
		RecognizerID:        "_",
		Model:               "latest_long",
		LanguageCodes:       []string{"ko-KR"},
		MinInterimStability: 0.85,
	}
}

// RecognizerName returns the full recognizer resource name.
func (c Config) RecognizerName() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/%s", c.ProjectID, c.Location, c.RecognizerID)
}

type openFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text v2.
type Adapter struct {
	cfg     Config
	open    openFunc
	closeFn func() error
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a new Google STT adapter. Credentials come from
// cfg.CredentialsJSON when set, otherwise from application default credentials.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	detect := &credentials.DetectOptions{
		Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
	}
	if cfg.CredentialsJSON != "" {
		detect.CredentialsJSON = []byte(cfg.CredentialsJSON)
	}
	creds, err := credentials.DetectDefault(detect)
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if cfg.Location != "" && cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", cfg.Location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	return newAdapter(cfg, func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return client.StreamingRecognize(ctx)
	}, client.Close), nil
}

func newAdapter(cfg Config, open openFunc, closeFn func() error) *Adapter {
	return &Adapter{
		cfg:     cfg,
		open:    open,
		closeFn: closeFn,
		logger:  logging.WithComponent("stt.google"),
		metrics: metrics.DefaultMetrics,
	}
}

// Open starts a streaming recognition connection and sends its single
// configuration frame.
func (a *Adapter) Open(ctx context.Context, opts stt.StreamOptions) (stt.Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	client, err := a.open(streamCtx)
	if err != nil {
		cancel()
		a.metrics.RecordSTTError(providerName, Classify(err))
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	s := newStream(client, cancel, a.cfg.MinInterimStability, a.logger, a.metrics)
	s.done = ctx.Done()
	if err := s.configure(a.configRequest(opts)); err != nil {
		_ = client.CloseSend()
		cancel()
		return nil, fmt.Errorf("configure stream: %w", err)
	}
	go s.receive()

	a.logger.Info().
		Str("recognizer", a.cfg.RecognizerName()).
		Strs("languageCodes", a.languageCodes(opts)).
		Str("model", a.model(opts)).
		Msg("Recognition stream configured")
	return s, nil
}

// Close releases the underlying speech client.
func (a *Adapter) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func (a *Adapter) languageCodes(opts stt.StreamOptions) []string {
	if len(opts.LanguageCodes) > 0 {
		return opts.LanguageCodes
	}
	return a.cfg.LanguageCodes
}

func (a *Adapter) model(opts stt.StreamOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return a.cfg.Model
}

func (a *Adapter) configRequest(opts stt.StreamOptions) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: a.cfg.RecognizerName(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         a.model(opts),
					LanguageCodes: a.languageCodes(opts),
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   sampleRateHertz,
							AudioChannelCount: audioChannelCount,
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults:            true,
					EnableVoiceActivityEvents: true,
				},
			},
		},
	}
}

type stream struct {
	client       speechpb.Speech_StreamingRecognizeClient
	cancel       context.CancelFunc
	handshake    stt.Handshake
	minStability float64
	events       chan stt.Event
	// done is the opener's context; once it ends nobody reads events.
	done <-chan struct{}

	// sendMu serializes Send and CloseSend on the gRPC stream.
	sendMu  sync.Mutex
	closed  atomic.Bool
	closing atomic.Bool

	failMu  sync.Mutex
	failErr error

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newStream(client speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc, minStability float64, logger zerolog.Logger, m *metrics.Metrics) *stream {
	return &stream{
		client:       client,
		cancel:       cancel,
		minStability: minStability,
		events:       make(chan stt.Event, eventBuffer),
		logger:       logger,
		metrics:      m,
	}
}

func (s *stream) configure(req *speechpb.StreamingRecognizeRequest) error {
	if err := s.handshake.Configure(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.client.Send(req)
}

func (s *stream) Events() <-chan stt.Event {
	return s.events
}

func (s *stream) IsOpen() bool {
	return !s.closed.Load()
}

// Write sends audio in chunks of at most chunkSize bytes.
func (s *stream) Write(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return stt.ErrEmptyAudio
	}
	if err := s.handshake.CheckAudio(); err != nil {
		s.fail(err)
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for off := 0; off < len(audio); off += chunkSize {
		if s.closed.Load() {
			return stt.ErrStreamClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+chunkSize, len(audio))
		req := &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
				Audio: audio[off:end],
			},
		}
		if err := s.client.Send(req); err != nil {
			s.closed.Store(true)
			if errors.Is(err, io.EOF) {
				// The real cause is reported by Recv.
				return stt.ErrStreamClosed
			}
			return fmt.Errorf("send audio: %w", err)
		}
	}
	return nil
}

// Close half-closes the stream. Pending results drain until the server
// ends the stream or closeDrainTimeout passes.
func (s *stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.closing.Store(true)

	s.sendMu.Lock()
	err := s.client.CloseSend()
	s.sendMu.Unlock()

	time.AfterFunc(closeDrainTimeout, s.cancel)
	return err
}

// fail tears the connection down after a protocol violation.
func (s *stream) fail(err error) {
	s.failMu.Lock()
	if s.failErr == nil {
		s.failErr = err
	}
	s.failMu.Unlock()

	if s.closed.Swap(true) {
		return
	}
	s.sendMu.Lock()
	_ = s.client.CloseSend()
	s.sendMu.Unlock()
	s.cancel()
}

func (s *stream) receive() {
	defer close(s.events)
	defer s.cancel()

	for {
		resp, err := s.client.Recv()
		if err != nil {
			s.closed.Store(true)
			s.emit(s.terminalEvent(err))
			return
		}

		if ev := resp.GetSpeechEventType(); ev != speechpb.StreamingRecognizeResponse_SPEECH_EVENT_TYPE_UNSPECIFIED {
			s.logger.Debug().Str("speechEvent", ev.String()).Msg("Voice activity event")
		}

		for _, r := range resp.GetResults() {
			alts := r.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			if !r.GetIsFinal() {
				stability := float64(r.GetStability())
				if stability > 0 && stability < s.minStability {
					continue
				}
			}
			ev := stt.Event{
				Kind: stt.EventTranscript,
				Result: stt.Result{
					Text:            alts[0].GetTranscript(),
					IsFinal:         r.GetIsFinal(),
					Confidence:      float64(alts[0].GetConfidence()),
					Stability:       float64(r.GetStability()),
					ResultEndTimeMs: toMillis(r.GetResultEndOffset()),
				},
			}
			if !s.emit(ev) {
				s.logger.Debug().Msg("Event consumer gone, stopping receive loop")
				return
			}
		}
	}
}

// emit blocks until the consumer takes ev or the opener's context ends.
func (s *stream) emit(ev stt.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *stream) terminalEvent(err error) stt.Event {
	s.failMu.Lock()
	failErr := s.failErr
	s.failMu.Unlock()

	switch {
	case failErr != nil:
		return stt.Event{Kind: stt.EventError, Err: failErr}
	case errors.Is(err, io.EOF):
		return stt.Event{Kind: stt.EventClosed}
	case s.closing.Load() && (errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled):
		return stt.Event{Kind: stt.EventClosed}
	}

	kind := Classify(err)
	s.metrics.RecordSTTError(providerName, kind)
	s.logger.Warn().
		Err(err).
		Str("errorType", kind).
		Bool("reconnectable", IsReconnectable(err)).
		Msg("Recognition stream failed")
	return stt.Event{Kind: stt.EventError, Err: err}
}

func toMillis(d *durationpb.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Milliseconds()
}

// IsReconnectable reports whether err is one of the routine stream endings
// the recognizer produces: the connection duration limit or the idle timeout.
func IsReconnectable(err error) bool {
	switch Classify(err) {
	case "eof", "max_duration", "idle_timeout":
		return true
	}
	return false
}

// Classify maps a recognizer error to a low-cardinality label.
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, io.EOF) {
		return "eof"
	}
	st, ok := status.FromError(err)
	if !ok {
		return "unknown"
	}
	if st.Code() == codes.Aborted {
		msg := strings.ToLower(st.Message())
		switch {
		case strings.Contains(msg, "max duration of 5 minutes"):
			return "max_duration"
		case strings.Contains(msg, "stream timed out after receiving no more client requests"):
			return "idle_timeout"
		}
	}
	return strings.ToLower(st.Code().String())
}
