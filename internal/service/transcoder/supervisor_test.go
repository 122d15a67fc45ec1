package transcoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"live-speech-relay/internal/clock"
)

type fakeStdin struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (f *fakeStdin) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.buf.Write(p)
}

func (f *fakeStdin) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStdin) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

type fakeProcess struct {
	pid    int
	stdout io.Writer
	stderr io.Writer
	stdin  *fakeStdin
	exit   chan error

	mu         sync.Mutex
	terminated bool
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Wait() error           { return <-p.exit }
func (p *fakeProcess) Pid() int              { return p.pid }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.terminated {
		p.terminated = true
		p.exit <- nil
	}
	return nil
}

func (p *fakeProcess) Kill() error { return p.Terminate() }

func (p *fakeProcess) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// crash simulates an unexpected exit.
func (p *fakeProcess) crash(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	p.exit <- err
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	err   error
	gate  chan struct{} // when set, spawns after the first wait on it
}

func (s *fakeSpawner) Spawn(ctx context.Context, stdout, stderr io.Writer) (Process, error) {
	s.mu.Lock()
	gate := s.gate
	first := len(s.procs) == 0
	s.mu.Unlock()
	if gate != nil && !first {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := &fakeProcess{
		pid:    len(s.procs) + 100,
		stdout: stdout,
		stderr: stderr,
		stdin:  &fakeStdin{},
		exit:   make(chan error, 1),
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startSupervisor(t *testing.T, sp *fakeSpawner, clk clock.Clock) (*Supervisor, Streams) {
	t.Helper()
	s := New(DefaultConfig(), sp, clk)
	streams, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, streams
}

// readInto copies r into a channel of chunks until EOF.
func readInto(r io.Reader) <-chan string {
	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, 1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				ch <- string(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func TestSupervisor_StallRestart(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{}
	_, streams := startSupervisor(t, sp, clk)
	out := readInto(streams.Output)

	clk.Add(9 * time.Second)
	io.WriteString(sp.proc(0).stderr, "size=      12kB time=00:00:09.00 bitrate= 256.0kbits/s\r")

	clk.Add(11 * time.Second)
	if got := sp.count(); got != 2 {
		t.Fatalf("expected exactly one restart after 11s without liveness, got %d spawns", got)
	}
	if !sp.proc(0).isTerminated() {
		t.Error("expected stalled process to be terminated")
	}

	// Output of the replaced process is discarded; the new one reaches the
	// same reader.
	io.WriteString(sp.proc(0).stdout, "old")
	io.WriteString(sp.proc(1).stdout, "new")

	select {
	case got := <-out:
		if got != "new" {
			t.Errorf("expected output from new process, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output from new process")
	}

	// The new process is inside its startup grace.
	clk.Add(14 * time.Second)
	if got := sp.count(); got != 2 {
		t.Errorf("expected no restart during startup grace, got %d spawns", got)
	}
}

func TestSupervisor_NoRestartWhileAlive(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{}
	startSupervisor(t, sp, clk)

	for i := 0; i < 12; i++ {
		clk.Add(5 * time.Second)
		io.WriteString(sp.proc(0).stderr, "size=1kB time=00:00:01.00\n")
	}

	if got := sp.count(); got != 1 {
		t.Errorf("expected no restart with regular liveness, got %d spawns", got)
	}
}

func TestSupervisor_UnexpectedExitRestarts(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{}
	startSupervisor(t, sp, clk)

	sp.proc(0).crash(errors.New("exit status 1"))

	waitFor(t, "replacement process", func() bool { return sp.count() == 2 })
}

func TestSupervisor_RestartsCoalesce(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{gate: make(chan struct{})}
	s, _ := startSupervisor(t, sp, clk)

	sp.proc(0).crash(errors.New("exit status 1"))
	waitFor(t, "restart in flight", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.restarting
	})

	// Dropped while the first restart is in flight.
	s.restart(ReasonStall)
	s.restart(ReasonStall)

	close(sp.gate)
	waitFor(t, "restart to finish", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.restarting && s.current != nil
	})

	if got := sp.count(); got != 2 {
		t.Errorf("expected a single replacement, got %d spawns", got)
	}
}

func TestSupervisor_InputReplayedAfterRestart(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{}
	s, streams := startSupervisor(t, sp, clk)

	io.WriteString(streams.Input, "abc")
	if got := sp.proc(0).stdin.String(); got != "abc" {
		t.Fatalf("expected input on first process, got %q", got)
	}

	sp.proc(0).stdin.Close()
	if _, err := io.WriteString(streams.Input, "def"); err != nil {
		t.Fatalf("expected input to be held, got %v", err)
	}

	s.restart(ReasonStall)
	waitFor(t, "held input replayed", func() bool { return sp.proc(1).stdin.String() == "def" })

	io.WriteString(streams.Input, "ghi")
	if got := sp.proc(1).stdin.String(); got != "defghi" {
		t.Errorf("expected input in order on new process, got %q", got)
	}
}

func TestSupervisor_PendingInputBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingInput = 4
	sp := &fakeSpawner{}
	s := New(cfg, sp, clock.NewFake(time.Unix(0, 0)))
	streams, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	sp.proc(0).stdin.Close()
	io.WriteString(streams.Input, "abcdef")

	s.inMu.Lock()
	pending := string(s.pending)
	s.inMu.Unlock()
	if pending != "cdef" {
		t.Errorf("expected newest 4 bytes held, got %q", pending)
	}
}

func TestSupervisor_Stop(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{}
	s := New(DefaultConfig(), sp, clk)
	streams, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	out := readInto(streams.Output)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	if !sp.proc(0).isTerminated() {
		t.Error("expected process to be terminated")
	}
	if _, ok := <-out; ok {
		t.Error("expected output stream to end")
	}
	if _, err := io.WriteString(streams.Input, "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped on input, got %v", err)
	}

	clk.Add(time.Minute)
	if got := sp.count(); got != 1 {
		t.Errorf("expected no restart after stop, got %d spawns", got)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("expected idempotent Stop, got %v", err)
	}
}

func TestSupervisor_StartErrors(t *testing.T) {
	sp := &fakeSpawner{err: errors.New("ffmpeg not found")}
	s := New(DefaultConfig(), sp, clock.NewFake(time.Unix(0, 0)))

	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected spawn failure to be returned")
	}

	ok := &fakeSpawner{}
	s2 := New(DefaultConfig(), ok, clock.NewFake(time.Unix(0, 0)))
	defer s2.Stop()
	if _, err := s2.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := s2.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestLivenessWriter_SplitsLines(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sp := &fakeSpawner{}
	s, _ := startSupervisor(t, sp, clk)

	clk.Add(3 * time.Second)
	w := sp.proc(0).stderr
	io.WriteString(w, "size=1kB ti")

	s.mu.Lock()
	partial := s.lastSignal
	s.mu.Unlock()
	if !partial.Equal(time.Unix(0, 0)) {
		t.Fatalf("expected incomplete line not to count, lastSignal=%v", partial)
	}

	io.WriteString(w, "me=00:00:03.00\r")
	s.mu.Lock()
	got := s.lastSignal
	s.mu.Unlock()
	if !got.Equal(time.Unix(3, 0)) {
		t.Errorf("expected liveness at 3s, got %v", got)
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := FFmpegArgs("rtmp://example/live")

	want := map[string]string{
		"-i":      "rtmp://example/live",
		"-ac":     "1",
		"-ar":     "16000",
		"-acodec": "pcm_s16le",
		"-f":      "s16le",
	}
	for i := 0; i < len(args)-1; i++ {
		if v, ok := want[args[i]]; ok {
			if args[i+1] != v {
				t.Errorf("%s = %q, want %q", args[i], args[i+1], v)
			}
			delete(want, args[i])
		}
	}
	if len(want) != 0 {
		t.Errorf("missing arguments: %v", want)
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("expected output to pipe:1, got %q", args[len(args)-1])
	}
}
