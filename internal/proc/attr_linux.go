//go:build linux

package proc

import (
	"os/exec"
	"syscall"
)

func applySysProcAttr(cmd *exec.Cmd, daemon bool) {
	if !daemon {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
