package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

// Task is one encoded chunk ready for dispatch.
type Task struct {
	// Index is the chunk index, used for ordering and attribution.
	Index int
	// Offset is the input position of the chunk's first element.
	Offset int
	// Size is the number of elements in the chunk.
	Size int
	// Payload is the encoded chunk.
	Payload []byte
}

// Outcome is the result of dispatching one Task.
type Outcome struct {
	Index    int
	Offset   int
	Size     int
	Payload  []byte
	Err      error
	Slot     int
	WorkerID string
	PID      int
	Elapsed  time.Duration
}

// Producer yields the next task. It returns false when there is nothing
// left and a non-nil error when producing failed.
type Producer func() (Task, bool, error)

// Config configures a Dispatcher.
type Config struct {
	// Func is the registered name of the function every chunk runs.
	Func string

	// MaxActive caps the chunks dispatched but not yet collected.
	MaxActive int

	// Acknowledge keeps the in-flight permit of a delivered chunk until
	// the consumer calls Dispatcher.Ack, so chunks the consumer still
	// buffers count against MaxActive.
	Acknowledge bool

	// Timeout bounds a single chunk. Zero disables it.
	Timeout time.Duration

	// Limiter, when set, paces dispatch.
	Limiter *rate.Limiter

	// Inspect is called for every outcome before it is delivered. A
	// non-nil return is treated as terminal and aborts the dispatcher.
	// It is called concurrently from several goroutines.
	Inspect func(Outcome) error
}
