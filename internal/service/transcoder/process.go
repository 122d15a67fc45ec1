package transcoder

import (
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Process is one running transcoder instance.
type Process interface {
	Stdin() io.WriteCloser
	// Wait blocks until the process exits and its output is drained.
	Wait() error
	// Terminate asks the process to exit.
	Terminate() error
	Kill() error
	Pid() int
}

// Spawner starts transcoder processes writing audio to stdout and
// diagnostics to stderr.
type Spawner interface {
	Spawn(ctx context.Context, stdout, stderr io.Writer) (Process, error)
}

// FFmpegArgs decodes input to raw 16 kHz mono s16le on stdout. Progress
// stats are forced onto stderr once per second as the liveness signal.
func FFmpegArgs(input string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-stats", "-stats_period", "1",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	}
}

// ExecSpawner runs a binary with fixed arguments.
type ExecSpawner struct {
	Binary string
	Args   []string
	// WaitDelay bounds how long Wait waits for output to drain after exit.
	WaitDelay time.Duration
}

// NewFFmpegSpawner returns a spawner running binary with FFmpegArgs(input).
func NewFFmpegSpawner(binary, input string, waitDelay time.Duration) *ExecSpawner {
	return &ExecSpawner{Binary: binary, Args: FFmpegArgs(input), WaitDelay: waitDelay}
}

func (s *ExecSpawner) Spawn(ctx context.Context, stdout, stderr io.Writer) (Process, error) {
	cmd := exec.CommandContext(ctx, s.Binary, s.Args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = s.WaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Terminate() error { return p.cmd.Process.Signal(syscall.SIGTERM) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
