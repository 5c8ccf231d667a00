//go:build !windows

package proc

import (
	"fmt"
	"os"
	"syscall"

	"github.com/utkarsh5026/procpool/internal/wire"
)

// The worker reads requests from fd 3 and writes replies to fd 4, which
// keeps its stdout free for user output.
const (
	workerReadFD  = 3
	workerWriteFD = 4
)

func attachChannel(p *Process) error {
	toChildR, toChildW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create request pipe: %w", err)
	}
	fromChildR, fromChildW, err := os.Pipe()
	if err != nil {
		_ = toChildR.Close()
		_ = toChildW.Close()
		return fmt.Errorf("create reply pipe: %w", err)
	}

	p.Cmd.Stdout = os.Stdout
	p.Cmd.ExtraFiles = []*os.File{toChildR, fromChildW}
	p.childFiles = []*os.File{toChildR, fromChildW}
	p.Conn = wire.NewConn(fromChildR, toChildW, toChildW, fromChildR)
	return nil
}

// WorkerConn returns the worker side of the channel.
func WorkerConn() (*wire.Conn, error) {
	in := os.NewFile(workerReadFD, "procpool-requests")
	out := os.NewFile(workerWriteFD, "procpool-replies")
	if in == nil || out == nil {
		return nil, fmt.Errorf("worker channel descriptors missing")
	}
	return wire.NewConn(in, out, in, out), nil
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
