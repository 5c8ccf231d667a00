package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/utkarsh5026/procpool/internal/supervisor"
)

var (
	// ErrPoolClosed is the cause of jobs aborted by Close or Terminate and
	// the error of jobs submitted to a closed pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrJobAborted is the cause of a job stopped through Results.Close.
	ErrJobAborted = errors.New("job aborted")

	// ErrDaemonNested is returned by NewPool inside a daemon worker.
	ErrDaemonNested = errors.New("daemon workers may not create pools")

	// ErrSource wraps errors returned by the input source.
	ErrSource = errors.New("input source failed")

	// ErrShutdownTimeout is returned by Close when workers had to be killed.
	ErrShutdownTimeout = errors.New("error in shutting down: timeout reached")

	// ErrExhausted is wrapped by ExhaustedError.
	ErrExhausted = supervisor.ErrExhausted

	// ErrTaskTimeout is the cause of a DeathError for a chunk that overran
	// WithTaskTimeout.
	ErrTaskTimeout = supervisor.ErrTaskTimeout

	// ErrWorkerDied is the cause of a DeathError for a worker process that
	// exited or crashed mid-chunk.
	ErrWorkerDied = supervisor.ErrWorkerDied

	// ErrPoolOption is returned for a job on an existing pool that was
	// given an option only valid when creating a pool.
	ErrPoolOption = errors.New("pool option passed to a job")

	// ErrNilFunc is returned for a job without a function.
	ErrNilFunc = errors.New("nil function")
)

// FunctionError reports an error returned (or a panic raised) by the
// user function inside a worker.
type FunctionError struct {
	// Chunk is the index of the failing chunk.
	Chunk int
	// Index is the input position of the failing element, or -1 when the
	// failure is not tied to an element.
	Index int
	// WorkerID and PID identify the worker that ran the chunk.
	WorkerID string
	PID      int
	// Message is the text of the original error.
	Message string
	// Type is the dynamic type of the original error, e.g. "*fs.PathError".
	Type string
	// Stack is set when the function panicked.
	Stack string
	// Panic reports whether the function panicked.
	Panic bool

	cause error
}

func (e *FunctionError) Error() string {
	what := "failed"
	if e.Panic {
		what = "panicked"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("element %d (chunk %d) %s on worker pid %d: %s", e.Index, e.Chunk, what, e.PID, e.Message)
	}
	return fmt.Sprintf("chunk %d %s on worker pid %d: %s", e.Chunk, what, e.PID, e.Message)
}

// Unwrap returns the original error when its type was registered with
// RegisterError, nil otherwise.
func (e *FunctionError) Unwrap() error { return e.cause }

// DeathError reports a worker process that ended while running a chunk.
type DeathError struct {
	Chunk    int
	WorkerID string
	PID      int
	// ExitCode is the worker's exit code, -1 when it was killed by a signal.
	ExitCode int
	// Signal names the signal that killed the worker, if any.
	Signal string

	cause error
}

func (e *DeathError) Error() string {
	how := fmt.Sprintf("exit code %d", e.ExitCode)
	if e.Signal != "" {
		how = "signal " + e.Signal
	}
	return fmt.Sprintf("worker pid %d died running chunk %d (%s): %v", e.PID, e.Chunk, how, e.cause)
}

// Unwrap returns ErrTaskTimeout or ErrWorkerDied.
func (e *DeathError) Unwrap() error { return e.cause }

// ExhaustedError reports that no worker could be obtained because every
// slot failed to respawn.
type ExhaustedError struct {
	// Slots holds the last spawn error of every slot.
	Slots []error
}

func (e *ExhaustedError) Error() string {
	if len(e.Slots) > 0 && e.Slots[0] != nil {
		return fmt.Sprintf("%v: last spawn error: %v", ErrExhausted, e.Slots[0])
	}
	return ErrExhausted.Error()
}

func (e *ExhaustedError) Unwrap() error { return ErrExhausted }

// CancelledError reports a job stopped from the outside: by its context, by
// Results.Close or by closing the pool.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("job cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// classify maps internal errors onto the public error types. It is
// idempotent.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		fe *FunctionError
		de *DeathError
		ee *ExhaustedError
		ce *CancelledError
	)
	switch {
	case errors.As(err, &fe), errors.As(err, &de), errors.As(err, &ee), errors.As(err, &ce):
		return err
	case errors.Is(err, supervisor.ErrExhausted):
		return &ExhaustedError{}
	case errors.Is(err, supervisor.ErrClosed):
		return &CancelledError{Cause: ErrPoolClosed}
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrJobAborted),
		errors.Is(err, ErrPoolClosed):
		return &CancelledError{Cause: err}
	default:
		return err
	}
}
