//go:build unix

package checks

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in a new process group and replaces the
// default cancel with a SIGKILL to the whole group, so grandchildren such
// as pytest workers die with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
