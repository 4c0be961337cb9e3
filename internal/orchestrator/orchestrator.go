// Package orchestrator drives per-identity workflows: it gates commands on
// authentication, bans and start, asks the workflow package what a command
// means, and supervises the resulting child processes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/ashureev/shsh-runner/internal/metrics"
	"github.com/ashureev/shsh-runner/internal/process"
	"github.com/ashureev/shsh-runner/internal/session"
	"github.com/ashureev/shsh-runner/internal/workflow"
)

// Process kinds, used as log and metric labels.
const (
	kindClone   = "clone"
	kindInstall = "install"
	kindRun     = "run"
)

// Sink receives the messages produced for one client.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// BanChecker reports whether an identity is banned.
type BanChecker interface {
	IsBanned(ctx context.Context, identity string) (bool, error)
}

// Orchestrator executes commands against sessions.
type Orchestrator struct {
	sessions *session.Store
	bans     BanChecker
	runner   *process.Runner
	commands Commands
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// ctx bounds the lifetime of child processes. It is independent of any
	// client connection so that disconnecting does not kill a run.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator. m may be nil.
func New(sessions *session.Store, bans BanChecker, runner *process.Runner, commands Commands, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		sessions: sessions,
		bans:     bans,
		runner:   runner,
		commands: commands,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins or resumes the workflow for identity. Starting again keeps
// the directory contents and the current step.
func (o *Orchestrator) Start(ctx context.Context, identity string, sink Sink) error {
	if err := o.admit(ctx, identity, sink); err != nil {
		return err
	}

	workDir := o.sessions.WorkDir(identity)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		o.logger.Error("Failed to create working directory", "user_id", identity, "dir", workDir, "error", err)
		o.send(ctx, sink, msgPrepareFailed)
		return fmt.Errorf("create working directory: %w", err)
	}

	sess, err := o.sessions.Mutate(identity, func(s *session.Session) error {
		if !s.Started {
			s.Started = true
			s.Step = domain.StepAwaitingRepo
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	o.metrics.Command("start")
	o.logger.Info("Session started", "user_id", identity, "step", sess.Step.String())

	if sess.Step == domain.StepAwaitingEntryFile {
		o.send(ctx, sink, msgWelcomeBack)
	} else {
		o.send(ctx, sink, msgWelcome)
	}
	return nil
}

// Command handles one line of user input. Process-backed actions return as
// soon as the process is launched; their output and completion are
// delivered to sink asynchronously.
func (o *Orchestrator) Command(ctx context.Context, identity, text string, sink Sink) error {
	if err := o.admit(ctx, identity, sink); err != nil {
		return err
	}

	sess, err := o.sessions.Get(identity)
	if err != nil || !sess.Started {
		return o.reject(ctx, identity, sink, domain.ErrNotStarted)
	}
	if strings.TrimSpace(text) == "" {
		return o.reject(ctx, identity, sink, domain.Rejection(domain.ErrEmptyCommand))
	}

	action := workflow.Decide(workflow.Snapshot{Step: sess.Step, Started: sess.Started}, text, fileExists(sess.WorkDir))
	o.metrics.Command(action.Kind.String())

	switch action.Kind {
	case workflow.ActionWipe:
		return o.wipe(ctx, sess, sink)
	case workflow.ActionList:
		return o.list(ctx, sess, sink)
	case workflow.ActionRunFile:
		return o.runFile(ctx, sess, action.Target, sink)
	case workflow.ActionCloneAndInstall:
		return o.cloneAndInstall(ctx, sess, action.Target, sink)
	default:
		return o.reject(ctx, identity, sink, classify(action.Err))
	}
}

// Wait blocks until every supervised process has finished and its
// completion was reported.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close kills every child process group and waits for supervision to end.
func (o *Orchestrator) Close() {
	running := o.sessions.Running()
	if len(running) > 0 {
		o.logger.Info("Killing running processes", "count", len(running))
	}
	o.cancel()
	o.wg.Wait()
}

// admit enforces the authentication and ban preconditions.
func (o *Orchestrator) admit(ctx context.Context, identity string, sink Sink) error {
	if identity == "" {
		return o.reject(ctx, identity, sink, domain.ErrAuthRequired)
	}
	banned, err := o.bans.IsBanned(ctx, identity)
	if err != nil {
		o.logger.Error("Ban list lookup failed", "user_id", identity, "error", err)
		o.send(ctx, sink, msgBanCheckFailed)
		return fmt.Errorf("check ban list: %w", err)
	}
	if banned {
		return o.reject(ctx, identity, sink, domain.ErrBanned)
	}
	return nil
}

func (o *Orchestrator) reject(ctx context.Context, identity string, sink Sink, err error) error {
	o.metrics.Rejected(reasonLabel(err))
	o.logger.Debug("Command rejected", "user_id", identity, "reason", err)
	o.send(ctx, sink, rejectionMessage(err))
	return err
}

func (o *Orchestrator) wipe(ctx context.Context, sess session.Session, sink Sink) error {
	if _, err := os.Stat(sess.WorkDir); errors.Is(err, os.ErrNotExist) {
		return o.reject(ctx, sess.Identity, sink, domain.ErrDirectoryNotFound)
	}
	if sess.IsRunning() {
		// The process is left alone; it loses its directory underneath it.
		o.logger.Warn("Clearing directory while a process is running",
			"user_id", sess.Identity,
			"pid", sess.Running.PID(),
			"kind", sess.RunningKind,
		)
	}

	o.send(ctx, sink, msgClearing)
	if err := os.RemoveAll(sess.WorkDir); err != nil {
		o.logger.Error("Failed to clear directory", "user_id", sess.Identity, "dir", sess.WorkDir, "error", err)
		o.send(ctx, sink, msgClearFailed)
		return fmt.Errorf("clear directory: %w", err)
	}
	o.logger.Info("Directory cleared", "user_id", sess.Identity)
	o.send(ctx, sink, msgCleared)
	return nil
}

func (o *Orchestrator) list(ctx context.Context, sess session.Session, sink Sink) error {
	entries, err := os.ReadDir(sess.WorkDir)
	if errors.Is(err, os.ErrNotExist) {
		return o.reject(ctx, sess.Identity, sink, domain.ErrDirectoryNotFound)
	}
	if err != nil {
		o.logger.Error("Failed to list directory", "user_id", sess.Identity, "error", err)
		o.send(ctx, sink, msgDirNotFound)
		return fmt.Errorf("list directory: %w", err)
	}
	if len(entries) == 0 {
		o.send(ctx, sink, msgNoFiles)
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	o.send(ctx, sink, msgFileList(names))
	return nil
}

func (o *Orchestrator) runFile(ctx context.Context, sess session.Session, file string, sink Sink) error {
	spec := o.commands.runSpec(filepath.Join(sess.WorkDir, file), sess.WorkDir)
	h, err := o.spawn(sess.Identity, kindRun, nil, spec)
	if err != nil {
		if errors.Is(err, domain.ErrRejected) {
			return o.reject(ctx, sess.Identity, sink, err)
		}
		o.logger.Error("Failed to start file", "user_id", sess.Identity, "file", file, "error", err)
		o.send(ctx, sink, msgRunFailed)
		return err
	}

	o.send(ctx, sink, msgRunning(file))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res := o.pump(sess.Identity, kindRun, h, sink)
		o.release(sess.Identity, h, nil)
		o.send(o.ctx, sink, msgFinished(res))
	}()
	return nil
}

func (o *Orchestrator) cloneAndInstall(ctx context.Context, sess session.Session, url string, sink Sink) error {
	// A cleared directory is recreated so the clone has somewhere to go.
	if err := os.MkdirAll(sess.WorkDir, 0o755); err != nil {
		o.logger.Error("Failed to create working directory", "user_id", sess.Identity, "error", err)
		o.send(ctx, sink, msgPrepareFailed)
		return fmt.Errorf("create working directory: %w", err)
	}

	h, err := o.spawn(sess.Identity, kindClone, nil, o.commands.cloneSpec(url, sess.WorkDir))
	if err != nil {
		if errors.Is(err, domain.ErrRejected) {
			return o.reject(ctx, sess.Identity, sink, err)
		}
		o.logger.Error("Failed to start clone", "user_id", sess.Identity, "error", err)
		o.send(ctx, sink, msgCloneFailed)
		return err
	}

	o.send(ctx, sink, msgCloning(url))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.setup(sess, h, sink)
	}()
	return nil
}

// setup finishes a clone and, if it succeeded, runs the install. The step
// advances only when both exit 0.
func (o *Orchestrator) setup(sess session.Session, clone *process.Handle, sink Sink) {
	res := o.pump(sess.Identity, kindClone, clone, sink)
	if !res.Success() {
		o.release(sess.Identity, clone, nil)
		o.logger.Info("Clone failed", "user_id", sess.Identity, "error", exitError(kindClone, res))
		o.send(o.ctx, sink, msgCloneFailed)
		return
	}
	o.send(o.ctx, sink, msgCloned)

	// The exited clone stays in the slot until install replaces it, so no
	// other command can claim it in between.
	install, err := o.spawn(sess.Identity, kindInstall, clone, o.commands.installSpec(sess.WorkDir))
	if err != nil {
		o.logger.Error("Failed to start install", "user_id", sess.Identity, "error", err)
		o.send(o.ctx, sink, msgInstallFailed)
		return
	}

	res = o.pump(sess.Identity, kindInstall, install, sink)
	o.release(sess.Identity, install, func(s *session.Session) {
		if res.Success() {
			s.Step = domain.StepAwaitingEntryFile
		}
	})
	if !res.Success() {
		o.logger.Info("Install failed", "user_id", sess.Identity, "error", exitError(kindInstall, res))
		o.send(o.ctx, sink, msgInstallFailed)
		return
	}
	o.logger.Info("Repository ready", "user_id", sess.Identity)
	o.send(o.ctx, sink, msgInstalled)
}

// spawn launches spec and records it as the identity's running process,
// all under the identity's lock. prev is the handle expected to occupy the
// slot (nil for a fresh start, the finished clone when handing over to
// install); anything else means another process owns it.
func (o *Orchestrator) spawn(identity, kind string, prev *process.Handle, spec process.Spec) (*process.Handle, error) {
	var (
		h         *process.Handle
		launchErr error
	)
	_, err := o.sessions.Mutate(identity, func(s *session.Session) error {
		if s.Running != prev {
			return domain.Rejection(domain.ErrAlreadyRunning)
		}
		h, launchErr = o.runner.Start(o.ctx, spec)
		if launchErr != nil {
			s.Running, s.RunningKind = nil, ""
			return nil
		}
		s.Running, s.RunningKind = h, kind
		return nil
	})
	if err != nil {
		return nil, err
	}
	if launchErr != nil {
		o.metrics.LaunchFailed(kind)
		return nil, launchErr
	}
	o.metrics.ProcessStarted(kind)
	return h, nil
}

// release clears the running slot if h still owns it, applying extra in
// the same mutation.
func (o *Orchestrator) release(identity string, h *process.Handle, extra func(*session.Session)) {
	_, err := o.sessions.Mutate(identity, func(s *session.Session) error {
		if s.Running == h {
			s.Running, s.RunningKind = nil, ""
		}
		if extra != nil {
			extra(s)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to release running process", "user_id", identity, "error", err)
	}
}

// pump forwards output to sink until the process exits.
func (o *Orchestrator) pump(identity, kind string, h *process.Handle, sink Sink) process.Result {
	started := time.Now()
	tool := label(h.Spec())
	res := h.Stream(func(c process.Chunk) {
		o.send(o.ctx, sink, msgChunk(tool, c))
	})

	outcome := "success"
	switch {
	case res.Signaled:
		outcome = "signaled"
	case res.ExitCode != 0:
		outcome = "failure"
	}
	o.metrics.ProcessExited(kind, outcome, time.Since(started).Seconds())
	o.logger.Debug("Process output complete", "user_id", identity, "kind", kind, "pid", h.PID(), "outcome", outcome)
	return res
}

// send delivers text, ignoring a vanished client.
func (o *Orchestrator) send(ctx context.Context, sink Sink, text string) {
	if sink == nil {
		return
	}
	if err := sink.Send(ctx, text); err != nil {
		o.logger.Debug("Dropping message for unavailable client", "error", err)
	}
}

func exitError(kind string, res process.Result) error {
	if res.Signaled {
		return fmt.Errorf("%s: %w: terminated by signal", kind, domain.ErrNonZeroExit)
	}
	return fmt.Errorf("%s: %w: exit code %d", kind, domain.ErrNonZeroExit, res.ExitCode)
}

func fileExists(dir string) func(string) bool {
	return func(name string) bool {
		info, err := os.Stat(filepath.Join(dir, name))
		return err == nil && !info.IsDir()
	}
}

// classify wraps workflow reasons that are plain rejections.
func classify(err error) error {
	switch {
	case err == nil:
		return domain.Rejection(domain.ErrUnrecognized)
	case errors.Is(err, domain.ErrFileNotFound), errors.Is(err, domain.ErrNotStarted):
		return err
	default:
		return domain.Rejection(err)
	}
}
