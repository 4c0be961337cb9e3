// Package process launches and supervises external processes, streaming
// their output as it is produced.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	defaultChunkSize = 32 * 1024

	// defaultDrainDelay is how long a stream may stay silent after the
	// process exited before it is cut off. Only descendants that left the
	// process group can hold it open that long.
	defaultDrainDelay = 2 * time.Second
)

// Stream identifies which standard stream a chunk came from.
type Stream int

const (
	// Stdout is the process' standard output.
	Stdout Stream = iota
	// Stderr is the process' standard error.
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a piece of output as it was read from the process.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// Result describes how a process terminated.
type Result struct {
	// ExitCode is -1 when the process was terminated by a signal.
	ExitCode int
	Signaled bool
}

// Success reports whether the process exited normally with status 0.
func (r Result) Success() bool {
	return !r.Signaled && r.ExitCode == 0
}

// Spec describes a process to launch.
type Spec struct {
	Name string
	Args []string
	// Dir is the working directory. It must exist.
	Dir string
}

// LaunchError is returned when a process could not be started at all.
// No output is ever delivered for it.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner starts processes.
type Runner struct {
	logger     *slog.Logger
	chunkSize  int
	drainDelay time.Duration
}

// NewRunner creates a Runner. A nil logger falls back to slog.Default().
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, chunkSize: defaultChunkSize, drainDelay: defaultDrainDelay}
}

// Start launches spec in its own process group. Cancelling ctx kills the
// group; callers that want a process to outlive a request must pass a
// longer-lived context.
//
// The process is finished when the launched executable exits. Anything it
// left running in its group is killed at that point.
//
// The caller must drain Output (or use Stream), otherwise the process
// blocks once the output buffer fills.
func (r *Runner) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Name == "" {
		return nil, &LaunchError{Name: spec.Name, Err: errors.New("empty executable name")}
	}
	info, err := os.Stat(spec.Dir)
	if err != nil {
		return nil, &LaunchError{Name: spec.Name, Err: fmt.Errorf("working directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, &LaunchError{Name: spec.Name, Err: fmt.Errorf("working directory %s is not a directory", spec.Dir)}
	}

	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain pipes instead of StdoutPipe: cmd.Wait must not depend on every
	// holder of the write ends closing them.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Name: spec.Name, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(r.logger, stdout, stdoutW)
		return nil, &LaunchError{Name: spec.Name, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	closeAll(r.logger, stdoutW, stderrW)
	if startErr != nil {
		closeAll(r.logger, stdout, stderr)
		return nil, &LaunchError{Name: spec.Name, Err: startErr}
	}

	h := &Handle{
		spec:       spec,
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		started:    time.Now(),
		output:     make(chan Chunk, 64),
		done:       make(chan struct{}),
		logger:     r.logger,
		drainDelay: r.drainDelay,
	}
	r.logger.Info("Process started", "name", spec.Name, "pid", h.pid, "dir", spec.Dir)

	go h.supervise(ctx, stdout, stderr, r.chunkSize)
	return h, nil
}

func closeAll(logger *slog.Logger, files ...*os.File) {
	for _, f := range files {
		if err := f.Close(); err != nil {
			logger.Debug("Failed to close pipe", "error", err)
		}
	}
}

// Handle is a running (or finished) process.
type Handle struct {
	spec    Spec
	cmd     *exec.Cmd
	pid     int
	started time.Time
	output  chan Chunk
	done    chan struct{}
	result  Result
	logger  *slog.Logger

	drainDelay time.Duration
	draining   atomic.Bool

	mu     sync.Mutex
	exited bool
	killed bool
}

// PID returns the process id, which is also its process group id.
func (h *Handle) PID() int {
	return h.pid
}

// Spec returns the spec the process was started from.
func (h *Handle) Spec() Spec {
	return h.spec
}

// Output returns the chunk channel. It is closed after the process exited
// and both streams were drained, before Wait returns.
func (h *Handle) Output() <-chan Chunk {
	return h.output
}

// Wait blocks until the process has exited and its output was consumed.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Stream delivers every chunk to fn in arrival order and then returns the
// termination result.
func (h *Handle) Stream(fn func(Chunk)) Result {
	for chunk := range h.output {
		fn(chunk)
	}
	return h.Wait()
}

// Kill sends SIGKILL to the whole process group. Killing an exited process
// is a no-op.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return nil
	}
	h.killed = true
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", h.pid, err)
	}
	return nil
}

func (h *Handle) supervise(ctx context.Context, stdout, stderr *os.File, chunkSize int) {
	var wg sync.WaitGroup
	wg.Add(2)
	go h.pump(&wg, Stdout, stdout, chunkSize)
	go h.pump(&wg, Stderr, stderr, chunkSize)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := h.Kill(); err != nil {
				h.logger.Warn("Failed to kill process on cancel", "pid", h.pid, "error", err)
			}
		case <-stop:
		}
	}()

	waitErr := h.cmd.Wait()
	elapsed := time.Since(h.started)

	h.mu.Lock()
	h.exited = true
	killed := h.killed
	// Background children inherit the group and the pipes.
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		h.logger.Debug("Failed to kill leftover process group", "pid", h.pid, "error", err)
	}
	h.mu.Unlock()
	close(stop)

	h.draining.Store(true)
	for _, f := range []*os.File{stdout, stderr} {
		if err := f.SetReadDeadline(time.Now().Add(h.drainDelay)); err != nil {
			h.logger.Debug("Failed to set output deadline", "pid", h.pid, "error", err)
		}
	}
	wg.Wait()
	closeAll(h.logger, stdout, stderr)

	h.result = resultFromError(waitErr)
	h.logger.Info("Process exited",
		"name", h.spec.Name,
		"pid", h.pid,
		"exit_code", h.result.ExitCode,
		"signaled", h.result.Signaled,
		"killed", killed,
		"duration", elapsed,
	)

	close(h.output)
	close(h.done)
}

func (h *Handle) pump(wg *sync.WaitGroup, stream Stream, f *os.File, chunkSize int) {
	defer wg.Done()
	buf := make([]byte, chunkSize)
	for {
		// Once the process is gone every read gets a fresh deadline, so
		// buffered output is never dropped but a silent holder is.
		if h.draining.Load() {
			if err := f.SetReadDeadline(time.Now().Add(h.drainDelay)); err != nil {
				h.logger.Debug("Failed to set output deadline", "pid", h.pid, "stream", stream.String(), "error", err)
			}
		}
		n, err := f.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.output <- Chunk{Stream: stream, Data: data}
		}
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				h.logger.Warn("Process output still open after exit, closing", "pid", h.pid, "stream", stream.String())
			case !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed):
				h.logger.Debug("Process output read error", "pid", h.pid, "stream", stream.String(), "error", err)
			}
			return
		}
	}
}

func resultFromError(err error) Result {
	if err == nil {
		return Result{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return Result{ExitCode: -1, Signaled: true}
		}
		return Result{ExitCode: exitErr.ExitCode()}
	}
	return Result{ExitCode: -1}
}
