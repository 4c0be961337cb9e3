// Package autostart relaunches provisioned projects when the server boots.
// Every directory under the users root that holds a package.json gets its
// start command spawned there. These processes are not tied to a session.
package autostart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/shsh-runner/internal/metrics"
	"github.com/ashureev/shsh-runner/internal/process"
)

const (
	kind          = "autostart"
	manifestName  = "package.json"
	tailSizeBytes = 4 * 1024
)

// Starter launches the start command in provisioned directories.
type Starter struct {
	runner  *process.Runner
	root    string
	command []string
	metrics *metrics.Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a Starter. m may be nil.
func New(runner *process.Runner, root string, command []string, m *metrics.Metrics, logger *slog.Logger) *Starter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Starter{runner: runner, root: root, command: command, metrics: m, logger: logger}
}

// Run spawns the command in every eligible directory and returns the
// identities it started. Processes live until they exit or ctx is
// cancelled. A missing root is not an error.
func (s *Starter) Run(ctx context.Context) ([]string, error) {
	if len(s.command) == 0 {
		return nil, fmt.Errorf("autostart: empty command")
	}

	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("Autostart skipped, users directory missing", "dir", s.root)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users directory: %w", err)
	}

	var started []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, manifestName)); err != nil {
			continue
		}

		spec := process.Spec{Name: s.command[0], Args: s.command[1:], Dir: dir}
		h, err := s.runner.Start(ctx, spec)
		if err != nil {
			s.metrics.LaunchFailed(kind)
			s.logger.Error("Autostart failed to launch", "user_id", e.Name(), "error", err)
			continue
		}
		s.metrics.ProcessStarted(kind)
		s.logger.Info("Autostart launched", "user_id", e.Name(), "pid", h.PID())
		started = append(started, e.Name())

		s.wg.Add(1)
		go func(identity string, h *process.Handle) {
			defer s.wg.Done()
			s.drain(identity, h)
		}(e.Name(), h)
	}
	return started, nil
}

// Wait blocks until every launched process has exited.
func (s *Starter) Wait() {
	s.wg.Wait()
}

// drain logs output at debug level and reports the exit, with the tail
// of the output on failure.
func (s *Starter) drain(identity string, h *process.Handle) {
	started := time.Now()
	tail := newTailBuffer(tailSizeBytes)
	res := h.Stream(func(c process.Chunk) {
		_, _ = tail.Write(c.Data)
		s.logger.Debug("Autostart output", "user_id", identity, "stream", c.Stream.String(), "data", string(c.Data))
	})

	outcome := "success"
	switch {
	case res.Signaled:
		outcome = "signaled"
	case res.ExitCode != 0:
		outcome = "failure"
	}
	s.metrics.ProcessExited(kind, outcome, time.Since(started).Seconds())

	if res.Success() {
		s.logger.Info("Autostart process exited", "user_id", identity, "pid", h.PID())
		return
	}
	s.logger.Warn("Autostart process failed",
		"user_id", identity,
		"pid", h.PID(),
		"exit_code", res.ExitCode,
		"signaled", res.Signaled,
		"output_tail", tail.String(),
	)
}
