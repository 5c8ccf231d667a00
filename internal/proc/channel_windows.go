//go:build windows

package proc

import (
	"fmt"
	"os"

	"github.com/utkarsh5026/procpool/internal/wire"
)

// ExtraFiles is unsupported on Windows, so the channel rides on
// stdin/stdout there.
func attachChannel(p *Process) error {
	stdin, err := p.Cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := p.Cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.Conn = wire.NewConn(stdout, stdin, stdin)
	return nil
}

// WorkerConn returns the worker side of the channel.
func WorkerConn() (*wire.Conn, error) {
	return wire.NewConn(os.Stdin, os.Stdout), nil
}

func terminate(p *os.Process) error {
	return p.Kill()
}
