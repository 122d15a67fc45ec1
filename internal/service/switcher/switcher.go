// Package switcher routes audio into the single active recognition stream
// and hands off between successive streams without losing audio.
package switcher

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
)

// FrameBytes is 100 ms of 16 kHz mono 16-bit PCM.
const FrameBytes = 3200

// Handle is a write target. stt.Stream satisfies it.
type Handle interface {
	Write(ctx context.Context, frame []byte) error
	Close() error
	IsOpen() bool
}

// Switcher holds the active handle tagged with a generation. Writes are
// delivered in whole frames, and only while the generation captured at the
// start of Write is still current; otherwise the audio stays buffered for the
// next Write.
type Switcher struct {
	// writeMu serializes Write and owns buf.
	writeMu sync.Mutex
	buf     []byte

	mu         sync.Mutex
	active     Handle
	segmentID  int64
	generation uint64

	onRotation func(segmentID int64)
	closing    sync.WaitGroup
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a switcher. onRotation, if set, is called with the new segment
// id on every handoff.
func New(onRotation func(segmentID int64)) *Switcher {
	return &Switcher{
		onRotation: onRotation,
		logger:     logging.WithComponent("switcher"),
		metrics:    metrics.DefaultMetrics,
	}
}

// Handoff installs next as the active handle and closes the previous one
// asynchronously.
func (s *Switcher) Handoff(next Handle, segmentID int64) {
	s.mu.Lock()
	s.generation++
	prev := s.active
	s.active = next
	s.segmentID = segmentID
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info().Int64("segmentId", segmentID).Uint64("generation", gen).Msg("Stream handoff")

	if s.onRotation != nil {
		s.onRotation(segmentID)
	}
	if prev != nil {
		s.closeAsync(prev)
	}
}

func (s *Switcher) closeAsync(h Handle) {
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		if err := h.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Closing superseded stream failed")
		}
	}()
}

// Write buffers payload and forwards every complete frame to the active
// handle. Delivery stops, keeping the rest buffered, when the handle is
// superseded, closed, or fails a write.
func (s *Switcher) Write(ctx context.Context, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.buf = append(s.buf, payload...)

	s.mu.Lock()
	handle, gen := s.active, s.generation
	s.mu.Unlock()

	if handle == nil {
		if len(s.buf) >= FrameBytes {
			s.metrics.RecordFrameDeferred("no_target")
		}
		return nil
	}

	for len(s.buf) >= FrameBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.isCurrent(gen) {
			s.metrics.RecordFrameDeferred("stale_generation")
			return nil
		}
		if !handle.IsOpen() {
			s.metrics.RecordFrameDeferred("closed")
			return nil
		}

		frame := make([]byte, FrameBytes)
		copy(frame, s.buf)
		if err := handle.Write(ctx, frame); err != nil {
			s.metrics.RecordFrameDeferred("write_error")
			s.logger.Debug().Err(err).Uint64("generation", gen).Msg("Frame write failed, deferring")
			return nil
		}
		s.buf = s.buf[FrameBytes:]
		s.metrics.RecordFrameDelivered()
	}
	return nil
}

func (s *Switcher) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// CurrentSegmentID returns the segment of the active handle.
func (s *Switcher) CurrentSegmentID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentID, s.active != nil
}

// Buffered returns how many bytes are waiting for delivery.
func (s *Switcher) Buffered() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return len(s.buf)
}

// Shutdown closes the active handle and waits for superseded handles to
// finish closing.
func (s *Switcher) Shutdown() error {
	s.mu.Lock()
	s.generation++
	active := s.active
	s.active = nil
	s.mu.Unlock()

	var err error
	if active != nil {
		err = active.Close()
	}
	s.closing.Wait()
	return err
}
