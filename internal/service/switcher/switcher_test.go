package switcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeHandle struct {
	mu      sync.Mutex
	frames  [][]byte
	open    bool
	closes  int
	failOn  int // fail the write with this 1-based index, 0 for never
	writes  int
	onWrite func()
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{open: true}
}

func (h *fakeHandle) Write(ctx context.Context, frame []byte) error {
	h.mu.Lock()
	h.writes++
	if h.failOn != 0 && h.writes == h.failOn {
		h.mu.Unlock()
		return errors.New("write failed")
	}
	h.frames = append(h.frames, frame)
	hook := h.onWrite
	h.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.open = false
	return nil
}

func (h *fakeHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *fakeHandle) received() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return bytes.Join(h.frames, nil)
}

func (h *fakeHandle) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// pattern returns n bytes continuing a repeating 0..250 sequence from offset.
func pattern(offset, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((offset + i) % 251)
	}
	return b
}

func TestSwitcher_FrameInvariant(t *testing.T) {
	s := New(nil)
	h := newFakeHandle()
	s.Handoff(h, 0)

	sizes := []int{1000, 5000, 1, 3199, 7000, 2600}
	total := 0
	for _, n := range sizes {
		if err := s.Write(context.Background(), pattern(total, n)); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
		total += n
	}

	wantFrames := total / FrameBytes
	if got := h.frameCount(); got != wantFrames {
		t.Fatalf("expected %d frames, got %d", wantFrames, got)
	}
	for i, f := range h.frames {
		if len(f) != FrameBytes {
			t.Errorf("frame %d: expected %d bytes, got %d", i, FrameBytes, len(f))
		}
	}
	if !bytes.Equal(h.received(), pattern(0, wantFrames*FrameBytes)) {
		t.Error("frames were not delivered in original byte order")
	}
	if got := s.Buffered(); got != total%FrameBytes {
		t.Errorf("expected residue %d, got %d", total%FrameBytes, got)
	}
}

func TestSwitcher_BuffersWithoutTarget(t *testing.T) {
	s := New(nil)

	s.Write(context.Background(), pattern(0, 5000))
	if got := s.Buffered(); got != 5000 {
		t.Fatalf("expected 5000 buffered bytes, got %d", got)
	}

	h := newFakeHandle()
	s.Handoff(h, 0)
	s.Write(context.Background(), nil)

	if h.frameCount() != 1 {
		t.Fatalf("expected buffered audio to be delivered after handoff, got %d frames", h.frameCount())
	}
	if !bytes.Equal(h.received(), pattern(0, FrameBytes)) {
		t.Error("unexpected frame content")
	}
}

func TestSwitcher_GenerationInvariant(t *testing.T) {
	var rotations []int64
	s := New(func(segmentID int64) { rotations = append(rotations, segmentID) })

	h1, h2 := newFakeHandle(), newFakeHandle()
	s.Handoff(h1, 1)
	s.Write(context.Background(), pattern(0, FrameBytes))
	s.Handoff(h2, 2)
	s.Write(context.Background(), pattern(FrameBytes, 2*FrameBytes))
	s.closing.Wait()

	if h1.frameCount() != 1 {
		t.Errorf("expected superseded handle to keep only its 1 frame, got %d", h1.frameCount())
	}
	if h2.frameCount() != 2 {
		t.Errorf("expected 2 frames on the new handle, got %d", h2.frameCount())
	}
	if h1.closeCount() != 1 {
		t.Errorf("expected superseded handle closed exactly once, got %d", h1.closeCount())
	}
	if h2.closeCount() != 0 {
		t.Errorf("expected active handle to stay open, got %d closes", h2.closeCount())
	}
	if len(rotations) != 2 || rotations[0] != 1 || rotations[1] != 2 {
		t.Errorf("expected rotation callbacks [1 2], got %v", rotations)
	}
	if seg, ok := s.CurrentSegmentID(); !ok || seg != 2 {
		t.Errorf("expected current segment 2, got %d (ok=%v)", seg, ok)
	}
}

func TestSwitcher_HandoffDuringWrite(t *testing.T) {
	s := New(nil)
	h1, h2 := newFakeHandle(), newFakeHandle()
	s.Handoff(h1, 1)

	// Rotation lands after the first frame of a three-frame write.
	h1.onWrite = func() {
		h1.onWrite = nil
		s.Handoff(h2, 2)
	}
	s.Write(context.Background(), pattern(0, 3*FrameBytes))

	if h1.frameCount() != 1 {
		t.Fatalf("expected stale handle to receive only the first frame, got %d", h1.frameCount())
	}
	if h2.frameCount() != 0 {
		t.Fatalf("expected no delivery to the new handle within the stale call, got %d", h2.frameCount())
	}
	if got := s.Buffered(); got != 2*FrameBytes {
		t.Fatalf("expected 2 frames held back, got %d bytes", got)
	}

	s.Write(context.Background(), nil)
	if !bytes.Equal(h2.received(), pattern(FrameBytes, 2*FrameBytes)) {
		t.Error("expected held frames to reach the new handle in order")
	}
}

func TestSwitcher_ClosedHandleHoldsAudio(t *testing.T) {
	s := New(nil)
	h1 := newFakeHandle()
	h1.open = false
	s.Handoff(h1, 1)

	s.Write(context.Background(), pattern(0, 2*FrameBytes))
	if h1.frameCount() != 0 {
		t.Fatalf("expected no frames on a closed handle, got %d", h1.frameCount())
	}

	h2 := newFakeHandle()
	s.Handoff(h2, 2)
	s.Write(context.Background(), pattern(2*FrameBytes, 100))

	if !bytes.Equal(h2.received(), pattern(0, 2*FrameBytes)) {
		t.Error("expected held audio delivered to the next handle in order")
	}
	if got := s.Buffered(); got != 100 {
		t.Errorf("expected residue 100, got %d", got)
	}
}

func TestSwitcher_WriteErrorRestoresFrame(t *testing.T) {
	s := New(nil)
	h := newFakeHandle()
	h.failOn = 2
	s.Handoff(h, 0)

	s.Write(context.Background(), pattern(0, 3*FrameBytes))
	if h.frameCount() != 1 {
		t.Fatalf("expected delivery to stop at the failed frame, got %d frames", h.frameCount())
	}
	if got := s.Buffered(); got != 2*FrameBytes {
		t.Fatalf("expected failed frame restored, got %d buffered bytes", got)
	}

	s.Write(context.Background(), nil)
	if !bytes.Equal(h.received(), pattern(0, 3*FrameBytes)) {
		t.Error("expected retried frames without loss or reordering")
	}
}

func TestSwitcher_CancelledContext(t *testing.T) {
	s := New(nil)
	h := newFakeHandle()
	s.Handoff(h, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Write(ctx, pattern(0, FrameBytes)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := s.Buffered(); got != FrameBytes {
		t.Errorf("expected audio kept on cancellation, got %d", got)
	}
}

func TestSwitcher_Shutdown(t *testing.T) {
	s := New(nil)
	h1, h2 := newFakeHandle(), newFakeHandle()
	s.Handoff(h1, 1)
	s.Handoff(h2, 2)

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if h1.closeCount() != 1 || h2.closeCount() != 1 {
		t.Errorf("expected both handles closed once, got %d and %d", h1.closeCount(), h2.closeCount())
	}
	if _, ok := s.CurrentSegmentID(); ok {
		t.Error("expected no active segment after shutdown")
	}

	s.Write(context.Background(), pattern(0, FrameBytes))
	if h2.frameCount() != 0 {
		t.Error("expected no delivery after shutdown")
	}
}
