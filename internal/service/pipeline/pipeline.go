// Package pipeline runs one session's audio path: audio source, transcoder,
// stream orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"live-speech-relay/internal/clock"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/service/interim"
	"live-speech-relay/internal/service/stream"
	"live-speech-relay/internal/service/stt"
	"live-speech-relay/internal/service/transcoder"
)

// AudioSource is the upstream live audio. Its restarts are handled by the
// source itself; the pipeline only copies what it reads until it ends.
// Stop must unblock a pending Read.
type AudioSource interface {
	io.Reader
	Stop() error
}

// SourceFactory opens the audio source for a session.
type SourceFactory func(ctx context.Context, sessionID string) (AudioSource, error)

// Config is the per-service template for session pipelines.
type Config struct {
	Stream     stream.Config
	Transcoder transcoder.Config
}

// Launcher starts session pipelines sharing one recognizer client and
// publisher.
type Launcher struct {
	cfg       Config
	adapter   stt.Adapter
	publisher interim.Publisher
	spawner   transcoder.Spawner
	sources   SourceFactory
	clock     clock.Clock
}

// NewLauncher creates a launcher. sources may be nil when the transcoder
// reads its input directly.
func NewLauncher(cfg Config, adapter stt.Adapter, publisher interim.Publisher, spawner transcoder.Spawner, sources SourceFactory, clk clock.Clock) *Launcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Launcher{
		cfg:       cfg,
		adapter:   adapter,
		publisher: publisher,
		spawner:   spawner,
		sources:   sources,
		clock:     clk,
	}
}

// Pipeline is one running session.
type Pipeline struct {
	sessionID    string
	orchestrator *stream.Orchestrator
	supervisor   *transcoder.Supervisor
	source       AudioSource
	cancel       context.CancelFunc
	group        *errgroup.Group
	logger       zerolog.Logger
}

// Launch starts the transcoder and the first recognition stream for a
// session. A failure of either is returned and nothing is left running.
func (l *Launcher) Launch(ctx context.Context, sessionID, sourceLang, targetLang string) (*Pipeline, error) {
	logger := logging.WithSession("pipeline", sessionID)

	// The pipeline outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var source AudioSource
	if l.sources != nil {
		src, err := l.sources(runCtx, sessionID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open audio source: %w", err)
		}
		source = src
	}

	supervisor := transcoder.New(l.cfg.Transcoder, l.spawner, l.clock)
	streams, err := supervisor.Start(runCtx)
	if err != nil {
		cancel()
		stopSource(source, logger)
		return nil, fmt.Errorf("start transcoder: %w", err)
	}

	cfg := l.cfg.Stream
	cfg.SessionID = sessionID
	if sourceLang != "" {
		cfg.SourceLanguage = sourceLang
		cfg.Recognition.LanguageCodes = []string{sourceLang}
	}
	if targetLang != "" {
		cfg.TargetLanguage = targetLang
	}
	orchestrator := stream.New(cfg, l.adapter, l.publisher, l.clock)
	if err := orchestrator.Start(); err != nil {
		cancel()
		_ = supervisor.Stop()
		stopSource(source, logger)
		return nil, fmt.Errorf("start recognition: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return orchestrator.Pump(groupCtx, streams.Output)
	})
	if source != nil {
		group.Go(func() error {
			_, err := io.Copy(streams.Input, source)
			if err == nil || errors.Is(err, transcoder.ErrStopped) {
				logger.Info().Msg("Audio source ended")
				return nil
			}
			return fmt.Errorf("copy audio source: %w", err)
		})
	}

	logger.Info().
		Str("sourceLang", cfg.SourceLanguage).
		Str("targetLang", cfg.TargetLanguage).
		Msg("Pipeline started")

	return &Pipeline{
		sessionID:    sessionID,
		orchestrator: orchestrator,
		supervisor:   supervisor,
		source:       source,
		cancel:       cancel,
		group:        group,
		logger:       logger,
	}, nil
}

// SessionID returns the session the pipeline serves.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Stop shuts the session down: recognition first so pending text is
// flushed, then the transcoder and the source, then waits for the copy
// loops.
func (p *Pipeline) Stop(ctx context.Context) error {
	orchErr := p.orchestrator.Stop(ctx)
	supErr := p.supervisor.Stop()
	stopSource(p.source, p.logger)
	p.cancel()

	runErr := p.group.Wait()
	if runErr != nil {
		p.logger.Warn().Err(runErr).Msg("Pipeline ended with error")
	}
	p.logger.Info().Msg("Pipeline stopped")
	return errors.Join(orchErr, supErr)
}

func stopSource(source AudioSource, logger zerolog.Logger) {
	if source == nil {
		return
	}
	if err := source.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop audio source")
	}
}
