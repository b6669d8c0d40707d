//go:build unix

package grader

import (
	"os/exec"
	"syscall"
)

// isolateProcessGroup runs cmd in its own process group and kills the whole
// group on cancellation, so background children of the judged code die too.
func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
