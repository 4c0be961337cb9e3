// Package workflow decides what a command means for a session. It performs
// no I/O beyond the file existence probe supplied by the caller.
package workflow

import (
	"path/filepath"
	"strings"

	"github.com/ashureev/shsh-runner/internal/domain"
)

// ActionKind enumerates the decisions Decide can produce.
type ActionKind int

const (
	ActionReject ActionKind = iota
	ActionWipe
	ActionList
	ActionRunFile
	ActionCloneAndInstall
)

func (k ActionKind) String() string {
	switch k {
	case ActionReject:
		return "reject"
	case ActionWipe:
		return "clear"
	case ActionList:
		return "list"
	case ActionRunFile:
		return "run"
	case ActionCloneAndInstall:
		return "clone"
	default:
		return "unknown"
	}
}

// Action is the outcome of one decision.
type Action struct {
	Kind ActionKind
	// Target is the repository URL for ActionCloneAndInstall and the file
	// name (relative to the working directory) for ActionRunFile.
	Target string
	// Err is set for ActionReject.
	Err error
}

// Snapshot is the part of a session the decision depends on.
type Snapshot struct {
	Step    domain.Step
	Started bool
}

const runPrefix = "run "

// Decide maps command text to an action. Keywords win over the workflow
// step, in order: clear, list, run <file>, then the step's interpretation.
// exists reports whether a file name exists in the working directory.
func Decide(snap Snapshot, text string, exists func(name string) bool) Action {
	text = strings.TrimSpace(text)
	if text == "" {
		return reject(domain.ErrEmptyCommand)
	}

	lower := strings.ToLower(text)
	switch {
	case lower == "clear":
		return Action{Kind: ActionWipe}
	case lower == "list":
		return Action{Kind: ActionList}
	case strings.HasPrefix(lower, runPrefix):
		if !snap.Started {
			return reject(domain.ErrNotStarted)
		}
		return runFile(strings.TrimSpace(text[len(runPrefix):]), exists)
	}

	switch snap.Step {
	case domain.StepAwaitingRepo:
		if strings.HasPrefix(text, "-") {
			return reject(domain.ErrInvalidRepo)
		}
		return Action{Kind: ActionCloneAndInstall, Target: text}
	case domain.StepAwaitingEntryFile:
		return runFile(text, exists)
	default:
		return reject(domain.ErrUnrecognized)
	}
}

func runFile(name string, exists func(string) bool) Action {
	if name == "" {
		return reject(domain.ErrFileNotFound)
	}
	clean := filepath.Clean(name)
	if !filepath.IsLocal(clean) {
		return reject(domain.ErrInvalidPath)
	}
	if exists == nil || !exists(clean) {
		return reject(domain.ErrFileNotFound)
	}
	return Action{Kind: ActionRunFile, Target: clean}
}

func reject(err error) Action {
	return Action{Kind: ActionReject, Err: err}
}
