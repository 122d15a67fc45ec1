// Package session is the control boundary: it starts and stops the single
// active session and owns its pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
)

var (
	// ErrSessionNotFound is returned by Stop when no session is active.
	ErrSessionNotFound = errors.New("no active session")
	// ErrSessionMismatch is returned by Stop for an id other than the active one.
	ErrSessionMismatch = errors.New("session id does not match the active session")
)

// Runner is a running session pipeline.
type Runner interface {
	Stop(ctx context.Context) error
}

// StartRequest carries the session parameters. SessionID is generated when
// empty.
type StartRequest struct {
	SessionID  string
	SourceLang string
	TargetLang string
}

// StartResult tells the caller where to find the session.
type StartResult struct {
	SessionID         string `json:"sessionId"`
	StreamingEndpoint string `json:"streamingEndpoint"`
}

// Factory starts the pipeline for a new session.
type Factory func(ctx context.Context, req StartRequest) (Runner, error)

type active struct {
	id        string
	runner    Runner
	startedAt time.Time
}

// Controller allows exactly one active session. Starting a session first
// stops the previous one completely.
type Controller struct {
	factory      Factory
	endpointBase string
	logger       zerolog.Logger
	metrics      *metrics.Metrics

	// mu is held for the whole of Start and Stop so they never interleave.
	mu      sync.Mutex
	current *active
}

func NewController(factory Factory, endpointBase string) *Controller {
	return &Controller{
		factory:      factory,
		endpointBase: strings.TrimRight(endpointBase, "/"),
		logger:       logging.WithComponent("session"),
		metrics:      metrics.DefaultMetrics,
	}
}

// Start stops any active session and starts a new one. A pipeline setup
// failure is returned and leaves no session active.
func (c *Controller) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		prev := c.current.id
		c.logger.Info().Str("previousSessionId", prev).Msg("Stopping previous session before start")
		if err := c.stopLocked(ctx); err != nil {
			c.logger.Warn().Err(err).Str("sessionId", prev).Msg("Previous session stopped with error")
		}
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	logger := logging.WithSession("session", req.SessionID)

	runner, err := c.factory(ctx, req)
	if err != nil {
		c.metrics.RecordSessionFailed()
		logger.Error().Err(err).Msg("Session setup failed")
		return StartResult{}, fmt.Errorf("start session %s: %w", req.SessionID, err)
	}

	c.current = &active{id: req.SessionID, runner: runner, startedAt: time.Now()}
	c.metrics.RecordSessionStart()
	logger.Info().
		Str("sourceLang", req.SourceLang).
		Str("targetLang", req.TargetLang).
		Msg("Session started")

	return StartResult{
		SessionID:         req.SessionID,
		StreamingEndpoint: c.endpointBase + "/" + req.SessionID,
	}, nil
}

// Stop stops the active session if its id matches sessionID.
func (c *Controller) Stop(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrSessionNotFound
	}
	if c.current.id != sessionID {
		return ErrSessionMismatch
	}
	return c.stopLocked(ctx)
}

// Active returns the id of the active session.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	return c.current.id, true
}

// Shutdown stops the active session, if any.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	cur := c.current
	c.current = nil

	err := cur.runner.Stop(ctx)
	c.metrics.RecordSessionEnd()
	sessLog := logging.WithSession("session", cur.id)
	sessLog.Info().
		Dur("duration", time.Since(cur.startedAt)).
		Msg("Session stopped")
	if err != nil {
		return fmt.Errorf("stop session %s: %w", cur.id, err)
	}
	return nil
}
