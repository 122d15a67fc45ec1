package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
)

// CommandSource reads raw audio from the stdout of an external command,
// typically a live-stream extractor piping into the transcoder.
type CommandSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// CommandSourceFactory returns a SourceFactory that starts argv per session.
func CommandSourceFactory(argv []string) SourceFactory {
	return func(ctx context.Context, sessionID string) (AudioSource, error) {
		return StartCommandSource(ctx, argv)
	}
}

// StartCommandSource starts argv with its stdout exposed as the audio stream.
func StartCommandSource(ctx context.Context, argv []string) (*CommandSource, error) {
	if len(argv) == 0 {
		return nil, errors.New("audio source command is empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("audio source stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start audio source %q: %w", argv[0], err)
	}
	return &CommandSource{cmd: cmd, stdout: stdout, cancel: cancel}, nil
}

func (s *CommandSource) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil && s.stopped.Load() {
		return n, io.EOF
	}
	return n, err
}

// Stop kills the command and reaps it. Exit caused by Stop is not an error.
func (s *CommandSource) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.cancel()
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
