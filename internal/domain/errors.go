package domain

import "errors"

// Error kinds reported to users. Every one of them is terminal for the
// current command only.
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrBanned            = errors.New("identity is banned")
	ErrNotStarted        = errors.New("workflow not started")
	ErrNonZeroExit       = errors.New("process exited with non-zero status")
	ErrFileNotFound      = errors.New("file not found")
	ErrDirectoryNotFound = errors.New("directory not found")
	ErrRejected          = errors.New("command rejected")
	ErrSessionNotFound   = errors.New("session not found")
)

// Reasons wrapped by ErrRejected.
var (
	ErrUnrecognized   = errors.New("unrecognized command")
	ErrAlreadyRunning = errors.New("a process is already running")
	ErrEmptyCommand   = errors.New("empty command")
	ErrInvalidPath    = errors.New("file must be inside the working directory")
	ErrInvalidRepo    = errors.New("invalid repository url")
)

// Credential errors.
var (
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
)

// Rejection wraps reason so that errors.Is matches both ErrRejected and
// the specific reason.
func Rejection(reason error) error {
	return &rejectedError{reason: reason}
}

type rejectedError struct {
	reason error
}

func (e *rejectedError) Error() string {
	return e.reason.Error()
}

func (e *rejectedError) Unwrap() []error {
	return []error{ErrRejected, e.reason}
}
