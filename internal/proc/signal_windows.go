//go:build windows

package proc

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	// Windows has no process groups in the POSIX sense; signals below act on
	// the direct child only.
}

// terminateGroup has no graceful equivalent of SIGTERM on Windows; the
// escalation in Stop degenerates to an immediate kill after the grace period.
func terminateGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func killGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}
