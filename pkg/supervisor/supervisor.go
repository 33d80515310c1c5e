package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cuemby/protect-init/pkg/log"
	"github.com/cuemby/protect-init/pkg/metrics"
)

// ErrNotStarted is returned by Forward before the server process is running
var ErrNotStarted = errors.New("server process not started")

// DefaultSignals are forwarded to the server process
var DefaultSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}

// Supervisor runs the server process in the foreground and relays
// termination signals to it
type Supervisor struct {
	Binary  string
	Args    []string
	Signals []os.Signal

	Stdout io.Writer
	Stderr io.Writer

	mu      sync.Mutex
	process *os.Process
	sigCh   chan os.Signal
}

// New creates a supervisor for binary
func New(binary string, args ...string) *Supervisor {
	return &Supervisor{
		Binary:  binary,
		Args:    args,
		Signals: DefaultSignals,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Listen registers for Signals. Signals received from then on are queued
// and delivered to the server once Run has started it. Calling Listen
// before releasing any earlier handler for the same signals leaves no
// window where the Go runtime's default action applies. Run calls it
// itself when needed.
func (s *Supervisor) Listen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sigCh != nil {
		return
	}
	s.sigCh = make(chan os.Signal, 4)
	signal.Notify(s.sigCh, s.Signals...)
}

// Run starts the server and blocks until it exits, returning its exit code.
// A process killed by a signal reports 128 plus the signal number.
// Cancelling ctx forwards SIGTERM.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	logger := log.WithComponent("supervisor").With().Str("binary", s.Binary).Logger()

	s.Listen()
	s.mu.Lock()
	sigCh := s.sigCh
	s.mu.Unlock()
	defer func() {
		signal.Stop(sigCh)
		s.mu.Lock()
		s.sigCh = nil
		s.mu.Unlock()
	}()

	cmd := exec.Command(s.Binary, s.Args...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	if err := cmd.Start(); err != nil {
		metrics.UpdateComponent(metrics.ComponentServer, false, err.Error())
		return -1, fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.process = cmd.Process
	s.mu.Unlock()

	pid := cmd.Process.Pid
	logger.Info().Int("pid", pid).Msg("Server started")
	metrics.ServerRunning.Set(1)
	metrics.UpdateComponent(metrics.ComponentServer, true, fmt.Sprintf("pid %d", pid))

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	cancelled := ctx.Done()
	for {
		select {
		case sig := <-sigCh:
			if err := s.Forward(sig); err != nil {
				logger.Warn().Err(err).Str("signal", sig.String()).Msg("Failed to forward signal")
			}

		case <-cancelled:
			cancelled = nil
			logger.Info().Msg("Context cancelled, stopping server")
			if err := s.Forward(syscall.SIGTERM); err != nil {
				logger.Warn().Err(err).Msg("Failed to stop server")
			}

		case err := <-done:
			metrics.ServerRunning.Set(0)
			code, waitErr := exitCode(err)
			if waitErr != nil {
				metrics.UpdateComponent(metrics.ComponentServer, false, waitErr.Error())
				return code, fmt.Errorf("failed to wait for server: %w", waitErr)
			}

			metrics.UpdateComponent(metrics.ComponentServer, false, fmt.Sprintf("exited with code %d", code))
			logger.Info().Int("pid", pid).Int("exit_code", code).Msg("Server exited")
			return code, nil
		}
	}
}

// Forward sends sig to the server process. A process that already exited is
// logged and ignored.
func (s *Supervisor) Forward(sig os.Signal) error {
	s.mu.Lock()
	process := s.process
	s.mu.Unlock()

	if process == nil {
		return ErrNotStarted
	}

	logger := log.WithComponent("supervisor").With().Int("pid", process.Pid).Str("signal", sig.String()).Logger()
	if err := process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			logger.Debug().Msg("Server already exited, signal dropped")
			return nil
		}
		return err
	}

	metrics.SignalsForwarded.WithLabelValues(sig.String()).Inc()
	logger.Info().Msg("Signal forwarded to server")
	return nil
}

// PID returns the server's process ID, or 0 before it has started
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process == nil {
		return 0
	}
	return s.process.Pid
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
