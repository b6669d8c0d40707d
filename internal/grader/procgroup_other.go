//go:build !unix

package grader

import "os/exec"

// isolateProcessGroup is a no-op; cmd.WaitDelay still bounds the wait.
func isolateProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
