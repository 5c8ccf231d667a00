//go:build !linux

package proc

import "os/exec"

// Parent-death signalling is Linux only; elsewhere daemon workers notice
// the parent is gone when their channel reaches EOF.
func applySysProcAttr(cmd *exec.Cmd, daemon bool) {}
