package pool

import (
	"context"
	"fmt"
	"time"
)

// ProcessFunc is the function type executed inside worker processes for every
// element of the input. It takes a context and a single element of type T,
// returning a result of type R. A non-nil error fails the whole job.
//
// The context carries the WorkerContext of the executing worker, see
// WorkerFromContext. It is not cancelled when the parent cancels the job;
// the parent kills the worker process instead.
//
// Type parameters:
//   - T: The type of input element
//   - R: The type of result produced for the element
type ProcessFunc[T any, R any] func(ctx context.Context, item T) (R, error)

// HookFunc is an initializer or finalizer run once per worker process.
// The initializer may populate wc.State, which every later call on the same
// worker observes.
type HookFunc func(ctx context.Context, wc *WorkerContext) error

// Mode selects how results are released to the caller.
type Mode int

const (
	// Ordered releases results in input order.
	Ordered Mode = iota
	// Unordered releases results chunk by chunk as they complete.
	Unordered
)

func (m Mode) String() string {
	switch m {
	case Ordered:
		return "ordered"
	case Unordered:
		return "unordered"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// WorkerContext is the per-worker record living inside a worker process.
//
// The same value is passed to the initializer, to every task executed on the
// worker and finally to the finalizer. A restarted worker starts with a fresh
// record.
type WorkerContext struct {
	// Slot is the supervisor slot the worker occupies.
	Slot int
	// ID is unique to this worker process.
	ID string
	// PID is the worker's process id.
	PID int
	// Tasks counts chunks completed by this worker.
	Tasks int
	// State is free for the initializer to fill.
	State any
}

type workerCtxKey struct{}

// WorkerFromContext returns the WorkerContext of the worker executing the
// current call, or nil outside a worker.
func WorkerFromContext(ctx context.Context) *WorkerContext {
	wc, _ := ctx.Value(workerCtxKey{}).(*WorkerContext)
	return wc
}

func withWorker(ctx context.Context, wc *WorkerContext) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, wc)
}

// ChunkEvent describes one resolved chunk.
type ChunkEvent struct {
	JobID    string
	Index    int
	Size     int
	Slot     int
	WorkerID string
	Err      error
	Elapsed  time.Duration
}

// JobInfo describes a job as it starts. Elements and Chunks are -1 when the
// input length is unknown.
type JobInfo struct {
	ID        string
	Mode      Mode
	Workers   int
	Elements  int
	Chunks    int
	ChunkSize int
	MaxActive int
}

// ProgressSink observes chunk completion. Calls for one job are serialised,
// so implementations need not be safe for concurrent use.
type ProgressSink interface {
	ChunkDone(ev ChunkEvent)
}

// ProgressStarter is optionally implemented by sinks that want to know the
// shape of a job before its first chunk resolves.
type ProgressStarter interface {
	JobStarted(info JobInfo)
}

// ProgressFinisher is optionally implemented by sinks that want to be told
// when a job ended. err is the job's terminal error, if any.
type ProgressFinisher interface {
	JobFinished(err error)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ev ChunkEvent)

// ChunkDone calls f.
func (f ProgressFunc) ChunkDone(ev ChunkEvent) { f(ev) }

// WorkerInfo is a parent-side snapshot of one worker slot.
type WorkerInfo struct {
	Slot     int
	ID       string
	PID      int
	State    string
	Tasks    int64
	Restarts int
	CPUs     []int
	Err      error
}

// WorkerEvent reports a worker lifecycle transition, see WithEventHook.
type WorkerEvent struct {
	// Kind is one of "ready", "spawn-failed", "restart", "death",
	// "slot-dead" and "stopped".
	Kind     string
	Slot     int
	WorkerID string
	PID      int
	Err      error
}

// JobStats summarises a finished job.
type JobStats struct {
	ID           string
	ChunkSize    int
	MaxActive    int
	Dispatched   int
	PeakInFlight int
}
