package proc

import (
	"os/exec"
	"strings"

	"github.com/loykin/pdfpipe/internal/logger"
)

// Spec describes one invocation to be supervised. The executable is opaque:
// the supervisor only ever sees argv, a working directory, byte streams and
// an exit code.
type Spec struct {
	ID      string        `json:"id"`
	Command string        `json:"command"`
	Args    []string      `json:"args,omitempty"`
	WorkDir string        `json:"work_dir,omitempty"`
	Env     []string      `json:"env,omitempty"`
	Log     logger.Config `json:"log,omitempty"`
}

// BuildCommand constructs an *exec.Cmd for the spec. When Args are given the
// command is executed directly. A bare Command string is split on fields,
// except that shell metacharacters or an explicit "sh -c" prefix route it
// through /bin/sh without double-wrapping.
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns the script after "-c". One pair of
// wrapping quotes is stripped so redirections inside the script still parse.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
