package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utkarsh5026/procpool/internal/cpu"
	"github.com/utkarsh5026/procpool/internal/proc"
	"github.com/utkarsh5026/procpool/internal/wire"
)

var (
	// ErrTaskTimeout is the cause of a Death when a chunk overran its
	// timeout and the worker was killed.
	ErrTaskTimeout = errors.New("task timeout exceeded")

	// ErrWorkerDied is the cause of a Death when the worker process went
	// away while it held a chunk.
	ErrWorkerDied = errors.New("worker process died")
)

// exitGrace is how long a dead worker's exit status is awaited after its
// channel closed.
const exitGrace = time.Second

// Death reports a worker that ended while executing a chunk.
type Death struct {
	Cause    error
	Slot     int
	WorkerID string
	PID      int
	ExitCode int
	Signal   string
}

func (d *Death) Error() string {
	how := fmt.Sprintf("exit code %d", d.ExitCode)
	if d.Signal != "" {
		how = "signal " + d.Signal
	}
	return fmt.Sprintf("worker %d (pid %d) died: %v (%s)", d.Slot, d.PID, d.Cause, how)
}

func (d *Death) Unwrap() error { return d.Cause }

// Worker is the parent-side handle of one worker process.
//
// A single reader goroutine owns the receive side of the channel. A worker
// is driven by one caller at a time; the supervisor guarantees this by
// handing it out through Acquire.
type Worker struct {
	Slot int
	ID   string
	CPUs cpu.Set

	proc    *proc.Process
	replies chan *wire.Message
	quit    chan struct{}

	state   atomic.Int32
	tasks   atomic.Int64
	killed  atomic.Bool
	restart atomic.Bool

	closeOnce sync.Once
}

func newWorker(slot int, p *proc.Process, cpus cpu.Set) *Worker {
	w := &Worker{
		Slot:    slot,
		ID:      p.ID,
		CPUs:    cpus,
		proc:    p,
		replies: make(chan *wire.Message, 1),
		quit:    make(chan struct{}),
	}
	w.state.Store(int32(StateStarting))
	go w.readLoop()
	return w
}

// PID returns the worker's process id.
func (w *Worker) PID() int { return w.proc.PID() }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Tasks returns the number of chunks this worker finished.
func (w *Worker) Tasks() int64 { return w.tasks.Load() }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

func (w *Worker) casState(from, to State) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}

func (w *Worker) exited() bool {
	select {
	case <-w.proc.Done():
		return true
	default:
		return false
	}
}

func (w *Worker) readLoop() {
	defer close(w.replies)
	for {
		msg, err := w.proc.Conn.Receive()
		if err != nil {
			return
		}
		select {
		case w.replies <- msg:
		case <-w.quit:
			return
		}
	}
}

// Run sends one chunk to the worker and waits for its outcome.
//
// It returns the encoded results, a *wire.Failure for an error raised by
// the function, a *Death when the process ended or overran timeout, or
// the context error when ctx was cancelled. The last two leave the worker
// killed.
func (w *Worker) Run(ctx context.Context, fn string, seq int, payload []byte, timeout time.Duration) ([]byte, error) {
	msg := &wire.Message{Kind: wire.KindTask, Seq: seq, Func: fn, Payload: payload}
	if err := w.proc.Conn.Send(msg); err != nil {
		return nil, w.death(fmt.Errorf("%w: send chunk: %v", ErrWorkerDied, err))
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case reply, ok := <-w.replies:
		if !ok {
			return nil, w.death(ErrWorkerDied)
		}
		switch reply.Kind {
		case wire.KindResult:
			w.tasks.Add(1)
			return reply.Payload, nil
		case wire.KindFailure:
			w.tasks.Add(1)
			if reply.Failure == nil {
				return nil, &wire.Failure{Kind: wire.FailFunction, Message: "unknown failure", Element: -1}
			}
			return nil, reply.Failure
		default:
			w.Kill()
			return nil, w.death(fmt.Errorf("%w: unexpected %s reply", ErrWorkerDied, reply.Kind))
		}
	case <-timer:
		w.Kill()
		return nil, w.death(ErrTaskTimeout)
	case <-ctx.Done():
		w.Kill()
		return nil, ctx.Err()
	}
}

// Kill terminates the worker process immediately. The worker will be
// replaced once it is released.
func (w *Worker) Kill() {
	w.killed.Store(true)
	_ = w.proc.Kill()
}

// Killed reports whether Kill was called.
func (w *Worker) Killed() bool { return w.killed.Load() }

func (w *Worker) death(cause error) *Death {
	if !w.proc.Wait(exitGrace) {
		w.Kill()
		w.proc.Wait(exitGrace)
	}
	w.setState(StateDead)
	return &Death{
		Cause:    cause,
		Slot:     w.Slot,
		WorkerID: w.ID,
		PID:      w.PID(),
		ExitCode: w.proc.ExitCode(),
		Signal:   w.proc.Signal(),
	}
}

// handshake sends the init message and waits for Ready.
func (w *Worker) handshake(ctx context.Context, hook string) error {
	msg := &wire.Message{Kind: wire.KindInit, Func: hook, Slot: w.Slot, WorkerID: w.ID}
	if err := w.proc.Conn.Send(msg); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	select {
	case reply, ok := <-w.replies:
		if !ok {
			w.proc.Wait(exitGrace)
			return fmt.Errorf("worker exited during init: %s", w.proc.Describe())
		}
		switch reply.Kind {
		case wire.KindReady:
			return nil
		case wire.KindFailure:
			return fmt.Errorf("initializer failed: %w", reply.Failure)
		default:
			return fmt.Errorf("unexpected %s reply to init", reply.Kind)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop asks the worker to run its finalizer and exit, killing it after
// timeout.
func (w *Worker) stop(hook string, timeout time.Duration) error {
	var ferr error
	if err := w.proc.Conn.Send(&wire.Message{Kind: wire.KindStop, Func: hook}); err == nil {
		select {
		case reply, ok := <-w.replies:
			if ok && reply.Kind == wire.KindFailure {
				ferr = fmt.Errorf("finalizer failed: %w", reply.Failure)
			}
		case <-time.After(timeout):
		}
	}

	if !w.proc.Wait(timeout) {
		w.Kill()
		w.proc.Wait(exitGrace)
	}
	w.setState(StateDead)
	w.close()
	return ferr
}

func (w *Worker) close() {
	w.closeOnce.Do(func() {
		close(w.quit)
		_ = w.proc.Close()
	})
}
