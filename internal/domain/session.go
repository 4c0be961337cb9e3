package domain

// Step is the workflow stage of a session. It governs how free-text
// commands are interpreted.
type Step int

const (
	// StepUninitialized is the zero value before the first start.
	StepUninitialized Step = iota
	// StepAwaitingRepo means the next free-text command is a repository URL.
	StepAwaitingRepo
	// StepAwaitingEntryFile means free-text commands name a file to run.
	StepAwaitingEntryFile
)

func (s Step) String() string {
	switch s {
	case StepUninitialized:
		return "uninitialized"
	case StepAwaitingRepo:
		return "awaiting_repo"
	case StepAwaitingEntryFile:
		return "awaiting_entry_file"
	default:
		return "unknown"
	}
}
