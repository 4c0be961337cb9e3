package orchestrator

import (
	"path/filepath"
	"strings"

	"github.com/ashureev/shsh-runner/internal/process"
)

// Placeholders substituted into command templates.
const (
	PlaceholderURL  = "{url}"
	PlaceholderFile = "{file}"
)

// Commands are the argv templates for each workflow stage.
type Commands struct {
	Clone   []string
	Install []string
	Run     []string
}

// DefaultCommands clones with git, installs with yarn and runs with node.
func DefaultCommands() Commands {
	return Commands{
		Clone:   []string{"git", "clone", PlaceholderURL, "."},
		Install: []string{"yarn", "install"},
		Run:     []string{"node", PlaceholderFile},
	}
}

// ParseCommand splits a whitespace separated command template.
func ParseCommand(s string) []string {
	return strings.Fields(s)
}

func (c Commands) cloneSpec(url, dir string) process.Spec {
	return expand(c.Clone, PlaceholderURL, url, dir)
}

func (c Commands) installSpec(dir string) process.Spec {
	return expand(c.Install, "", "", dir)
}

func (c Commands) runSpec(file, dir string) process.Spec {
	return expand(c.Run, PlaceholderFile, file, dir)
}

// expand substitutes placeholder with value. Substitution is per argument,
// so a value containing spaces stays a single argument.
func expand(argv []string, placeholder, value, dir string) process.Spec {
	if len(argv) == 0 {
		return process.Spec{Dir: dir}
	}
	args := make([]string, 0, len(argv)-1)
	for _, a := range argv[1:] {
		if placeholder != "" {
			a = strings.ReplaceAll(a, placeholder, value)
		}
		args = append(args, a)
	}
	return process.Spec{Name: argv[0], Args: args, Dir: dir}
}

// label names a tool in streamed output, e.g. "GIT OUTPUT".
func label(spec process.Spec) string {
	if spec.Name == "" {
		return "PROCESS"
	}
	return strings.ToUpper(filepath.Base(spec.Name))
}
