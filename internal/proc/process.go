// Package proc starts and tracks worker OS processes and hands out the
// message channel wired to each of them.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/utkarsh5026/procpool/internal/wire"
)

// State represents the state of a process.
type State int32

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Sentinel errors for the proc package.
var (
	// ErrNotStarted is returned when an operation requires a running process.
	ErrNotStarted = errors.New("process not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("process already started")
)

// Process is one worker OS process plus the channel to it.
// It is safe for concurrent use.
type Process struct {
	// ID is the unique identity of this process incarnation.
	ID string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Conn is the message channel to the worker, valid after Start.
	Conn *wire.Conn

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32
	signal   atomic.Value // string

	mu      sync.RWMutex
	exitErr error

	waitOnce sync.Once

	// parent-side copies of the child's pipe ends, closed after start
	childFiles []*os.File
}

func newProcess(id string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	p.signal.Store("")
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// PID returns the OS process id, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// ExitCode returns the exit code, or -1 while running or when killed.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// Signal returns the name of the signal that killed the process, if any.
func (p *Process) Signal() string {
	return p.signal.Load().(string)
}

// ExitError returns the error reported by Wait, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrNotStarted
	}
	return p.Cmd.Process.Kill()
}

// Terminate asks the process to exit (SIGTERM where supported).
func (p *Process) Terminate() error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrNotStarted
	}
	return terminate(p.Cmd.Process)
}

// Wait blocks until the process exits or the timeout elapses. A timeout
// of zero waits forever. It reports whether the process exited.
func (p *Process) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-p.done
		return true
	}
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Describe returns a short description of how the process ended.
func (p *Process) Describe() string {
	switch p.State() {
	case StateKilled:
		return fmt.Sprintf("killed by signal %s", p.Signal())
	case StateExited:
		return fmt.Sprintf("exited with code %d", p.ExitCode())
	default:
		return p.State().String()
	}
}

func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	for _, f := range p.childFiles {
		_ = f.Close()
	}
	p.childFiles = nil

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()
	return nil
}

func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
					p.signal.Store(status.Signal().String())
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Close releases the parent-side channel handles. It does not kill the
// process.
func (p *Process) Close() error {
	if p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}
