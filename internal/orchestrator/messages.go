package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/ashureev/shsh-runner/internal/process"
)

// User-facing texts.
const (
	msgLoginRequired  = "You must be logged in to use this service."
	msgBanned         = "You are banned from using this service."
	msgNotStarted     = "Please use the start command before proceeding."
	msgBanCheckFailed = "Unable to verify your account right now. Please try again."
	msgWelcome        = "Welcome! Please provide the repository URL you wish to clone and run."
	msgWelcomeBack    = "Welcome back! Which file would you like to run? e.g. index.js"
	msgPrepareFailed  = "Failed to prepare your directory."
	msgEmptyCommand   = "Please enter a command."
	msgUnrecognized   = "Unrecognized command. Use list, clear, run <file> or start."
	msgAlreadyRunning = "A process is already running. Wait for it to finish first."
	msgFileNotFound   = "The specified file does not exist."
	msgInvalidPath    = "The file must be inside your directory."
	msgInvalidRepo    = "That does not look like a repository URL."
	msgDirNotFound    = "Directory not found."
	msgNoFiles        = "No files found."
	msgClearing       = "Clearing your directory..."
	msgCleared        = "Your directory has been cleared successfully."
	msgClearFailed    = "Failed to clear your directory."
	msgCloneFailed    = "Error cloning the repository."
	msgCloned         = "Repository cloned successfully!\nNow installing dependencies..."
	msgInstallFailed  = "Error installing dependencies."
	msgInstalled      = "Dependencies installed successfully!\nWhich file would you like to run? e.g. index.js"
	msgRunFailed      = "Failed to start the file."
)

func msgCloning(url string) string {
	return "Cloning the repository from: " + url
}

func msgRunning(file string) string {
	return "Running the file: " + file
}

func msgFinished(res process.Result) string {
	if res.Signaled {
		return "Script was terminated by a signal."
	}
	return fmt.Sprintf("Script finished with code %d", res.ExitCode)
}

func msgFileList(names []string) string {
	return "Files in your directory:\n" + strings.Join(names, "\n")
}

func msgChunk(tool string, c process.Chunk) string {
	kind := "OUTPUT"
	if c.Stream == process.Stderr {
		kind = "ERROR"
	}
	return fmt.Sprintf("%s %s:\n%s", tool, kind, c.Data)
}

// rejectionMessage maps an error kind to the text sent to the user.
func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return msgLoginRequired
	case errors.Is(err, domain.ErrBanned):
		return msgBanned
	case errors.Is(err, domain.ErrNotStarted):
		return msgNotStarted
	case errors.Is(err, domain.ErrEmptyCommand):
		return msgEmptyCommand
	case errors.Is(err, domain.ErrAlreadyRunning):
		return msgAlreadyRunning
	case errors.Is(err, domain.ErrFileNotFound):
		return msgFileNotFound
	case errors.Is(err, domain.ErrInvalidPath):
		return msgInvalidPath
	case errors.Is(err, domain.ErrInvalidRepo):
		return msgInvalidRepo
	case errors.Is(err, domain.ErrDirectoryNotFound):
		return msgDirNotFound
	default:
		return msgUnrecognized
	}
}

// reasonLabel is the metrics label for a rejection.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, domain.ErrBanned):
		return "banned"
	case errors.Is(err, domain.ErrNotStarted):
		return "not_started"
	case errors.Is(err, domain.ErrEmptyCommand):
		return "empty"
	case errors.Is(err, domain.ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, domain.ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, domain.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, domain.ErrInvalidRepo):
		return "invalid_repo"
	case errors.Is(err, domain.ErrDirectoryNotFound):
		return "directory_not_found"
	default:
		return "unrecognized"
	}
}
