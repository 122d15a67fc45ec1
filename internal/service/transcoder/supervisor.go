// Package transcoder supervises the external audio transcoding process and
// exposes input and output streams that survive process restarts.
package transcoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"live-speech-relay/internal/clock"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
)

var (
	ErrStopped        = errors.New("transcoder stopped")
	ErrAlreadyStarted = errors.New("transcoder already started")
)

// Restart reasons.
const (
	ReasonStall = "stall"
	ReasonExit  = "exit"
)

// Config holds watchdog and restart timing.
type Config struct {
	WatchdogInterval time.Duration
	StallThreshold   time.Duration
	StartupGrace     time.Duration
	KillGrace        time.Duration
	// MaxPendingInput bounds input held while no process can take it.
	MaxPendingInput int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		WatchdogInterval: 5 * time.Second,
		StallThreshold:   10 * time.Second,
		StartupGrace:     15 * time.Second,
		KillGrace:        2 * time.Second,
		MaxPendingInput:  1 << 20,
	}
}

// Streams are the process-independent ends exposed by Start.
type Streams struct {
	Input  io.Writer
	Output io.Reader
}

type instance struct {
	id          int
	proc        Process
	intentional atomic.Bool
	exited      atomic.Bool
}

// Supervisor keeps one transcoder process running. A watchdog restarts it
// when no liveness signal arrived within StallThreshold and it is older than
// StartupGrace; an unexpected exit restarts it immediately.
type Supervisor struct {
	cfg     Config
	spawner Spawner
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	ctx        context.Context
	started    bool
	stopped    bool
	restarting bool
	current    *instance
	nextID     int
	startedAt  time.Time
	lastSignal time.Time
	watchdog   clock.Timer

	// inMu serializes input delivery and owns pending.
	inMu    sync.Mutex
	pending []byte

	outR *io.PipeReader
	outW *io.PipeWriter
}

func New(cfg Config, spawner Spawner, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.MaxPendingInput <= 0 {
		cfg.MaxPendingInput = DefaultConfig().MaxPendingInput
	}
	outR, outW := io.Pipe()
	return &Supervisor{
		cfg:     cfg,
		spawner: spawner,
		clock:   clk,
		logger:  logging.WithComponent("transcoder"),
		metrics: metrics.DefaultMetrics,
		outR:    outR,
		outW:    outW,
	}
}

// Start spawns the first process. A spawn failure is returned to the caller;
// later failures are retried by the watchdog.
func (s *Supervisor) Start(ctx context.Context) (Streams, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Streams{}, ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return Streams{}, ErrAlreadyStarted
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	inst, err := s.spawn(ctx)
	if err != nil {
		return Streams{}, err
	}

	s.mu.Lock()
	s.installLocked(inst)
	s.armWatchdogLocked()
	s.mu.Unlock()

	return Streams{Input: inputProxy{s}, Output: s.outR}, nil
}

func (s *Supervisor) spawn(ctx context.Context) (*instance, error) {
	s.mu.Lock()
	s.nextID++
	inst := &instance{id: s.nextID}
	s.mu.Unlock()

	proc, err := s.spawner.Spawn(ctx, &outputWriter{s: s, inst: inst}, &livenessWriter{s: s, inst: inst})
	if err != nil {
		s.logger.Error().Err(err).Int("instance", inst.id).Msg("Failed to spawn transcoder")
		return nil, err
	}
	inst.proc = proc
	s.metrics.RecordTranscoderSpawn()
	s.logger.Info().Int("instance", inst.id).Int("pid", proc.Pid()).Msg("Transcoder started")

	go s.wait(inst)
	return inst, nil
}

func (s *Supervisor) installLocked(inst *instance) {
	now := s.clock.Now()
	s.current = inst
	s.startedAt = now
	s.lastSignal = now
}

func (s *Supervisor) armWatchdogLocked() {
	s.watchdog = s.clock.AfterFunc(s.cfg.WatchdogInterval, s.checkLiveness)
}

func (s *Supervisor) checkLiveness() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	idle := now.Sub(s.lastSignal)
	age := now.Sub(s.startedAt)
	stalled := idle >= s.cfg.StallThreshold && age > s.cfg.StartupGrace
	s.armWatchdogLocked()
	s.mu.Unlock()

	if stalled {
		s.logger.Warn().Dur("idle", idle).Dur("age", age).Msg("Transcoder stalled")
		s.restart(ReasonStall)
	}
}

func (s *Supervisor) isCurrent(inst *instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == inst
}

// touch records a liveness signal from inst.
func (s *Supervisor) touch(inst *instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == inst {
		s.lastSignal = s.clock.Now()
	}
}

func (s *Supervisor) wait(inst *instance) {
	err := inst.proc.Wait()
	inst.exited.Store(true)

	if inst.intentional.Load() {
		s.logger.Debug().Int("instance", inst.id).Msg("Transcoder exited after termination")
		return
	}

	s.mu.Lock()
	stale := s.stopped || s.current != inst
	s.mu.Unlock()
	if stale {
		return
	}

	s.logger.Warn().Err(err).Int("instance", inst.id).Msg("Transcoder exited unexpectedly")
	s.restart(ReasonExit)
}

// restart replaces the current process. Requests made while a restart is in
// flight are dropped.
func (s *Supervisor) restart(reason string) {
	s.mu.Lock()
	if s.stopped || s.restarting {
		s.mu.Unlock()
		return
	}
	s.restarting = true
	old := s.current
	ctx := s.ctx
	s.mu.Unlock()

	s.metrics.RecordTranscoderRestart(reason)
	s.logger.Info().Str("reason", reason).Msg("Restarting transcoder")

	if old != nil {
		s.terminate(old)
	}

	var inst *instance
	var err error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		inst, err = s.spawn(ctx)
	}

	s.mu.Lock()
	s.restarting = false
	if err != nil {
		// The watchdog retries on its next tick since startedAt and
		// lastSignal still describe the dead process.
		s.current = nil
		s.mu.Unlock()
		return
	}
	if s.stopped {
		s.mu.Unlock()
		s.terminate(inst)
		return
	}
	s.installLocked(inst)
	s.mu.Unlock()

	go s.flushPending()
}

// terminate closes stdin, signals the process and schedules a kill after
// KillGrace.
func (s *Supervisor) terminate(inst *instance) {
	inst.intentional.Store(true)
	_ = inst.proc.Stdin().Close()
	if err := inst.proc.Terminate(); err != nil {
		s.logger.Debug().Err(err).Int("instance", inst.id).Msg("Terminate signal failed")
	}
	s.clock.AfterFunc(s.cfg.KillGrace, func() {
		if inst.exited.Load() {
			return
		}
		s.logger.Warn().Int("instance", inst.id).Msg("Transcoder ignored termination, killing")
		if err := inst.proc.Kill(); err != nil {
			s.logger.Debug().Err(err).Int("instance", inst.id).Msg("Kill failed")
		}
	})
}

// Stop terminates the process without restarting it and ends both streams.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cur := s.current
	s.current = nil
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.mu.Unlock()

	if cur != nil {
		s.terminate(cur)
	}

	s.inMu.Lock()
	s.pending = nil
	s.inMu.Unlock()

	s.logger.Info().Msg("Transcoder stopped")
	return s.outW.Close()
}

func (s *Supervisor) writeInput(p []byte) (int, error) {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	s.mu.Lock()
	stopped, inst := s.stopped, s.current
	s.mu.Unlock()

	if stopped {
		return 0, ErrStopped
	}

	s.pending = append(s.pending, p...)
	if inst != nil {
		s.deliverPendingLocked(inst)
	}
	if over := len(s.pending) - s.cfg.MaxPendingInput; over > 0 {
		s.logger.Warn().Int("dropped", over).Msg("Transcoder input backlog full, dropping oldest input")
		s.pending = s.pending[over:]
	}
	return len(p), nil
}

// deliverPendingLocked writes the backlog to inst. On failure the backlog is
// kept for the next process.
func (s *Supervisor) deliverPendingLocked(inst *instance) {
	if len(s.pending) == 0 {
		return
	}
	n, err := inst.proc.Stdin().Write(s.pending)
	s.pending = s.pending[n:]
	if err != nil {
		s.logger.Debug().Err(err).Int("instance", inst.id).Msg("Transcoder input write failed, holding input")
		return
	}
	s.pending = nil
}

func (s *Supervisor) flushPending() {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	s.mu.Lock()
	inst := s.current
	s.mu.Unlock()
	if inst != nil {
		s.deliverPendingLocked(inst)
	}
}

type inputProxy struct{ s *Supervisor }

func (p inputProxy) Write(b []byte) (int, error) { return p.s.writeInput(b) }

// outputWriter forwards one instance's stdout while it is current.
type outputWriter struct {
	s    *Supervisor
	inst *instance
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if !w.s.isCurrent(w.inst) {
		return len(p), nil
	}
	w.s.touch(w.inst)
	return w.s.outW.Write(p)
}

// livenessWriter timestamps every diagnostic line. ffmpeg ends progress
// lines with \r and log lines with \n.
type livenessWriter struct {
	s    *Supervisor
	inst *instance
	line []byte
}

func (w *livenessWriter) Write(p []byte) (int, error) {
	w.line = append(w.line, p...)
	for {
		i := bytes.IndexAny(w.line, "\r\n")
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(w.line[:i])
		w.line = w.line[i+1:]
		if len(line) == 0 {
			continue
		}
		w.s.touch(w.inst)
		if !isProgressLine(line) {
			w.s.logger.Warn().Int("instance", w.inst.id).Bytes("line", line).Msg("Transcoder diagnostic")
		}
	}
	return len(p), nil
}

func isProgressLine(line []byte) bool {
	return bytes.HasPrefix(line, []byte("size=")) || bytes.Contains(line, []byte("time="))
}
