package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/utkarsh5026/procpool/internal/proc"
	"github.com/utkarsh5026/procpool/internal/supervisor"
)

// Pool is a long-lived set of worker processes that runs jobs submitted
// through Map, MapUnordered, IMap, IMapUnordered, Apply and Submit.
//
// A Pool is safe for concurrent use; several jobs may run on it at once and
// share its workers.
type Pool struct {
	cfg *config
	sup *supervisor.Supervisor

	mu     sync.Mutex
	jobs   map[*job]struct{}
	jobsWG sync.WaitGroup
	closed atomic.Bool
}

// NewPool starts the worker processes and returns once all of them have
// run their initializer and are ready.
//
// Parameters:
//   - opts: Variadic set of Option for customizing worker count, affinity,
//     restart policy, hooks and the default job settings
//
// Returns:
//   - *Pool: A ready pool (call Close when done)
//   - error: ErrDaemonNested inside a daemon worker, or the spawn error of
//     the first worker that could not be started
//
// Example:
//
//	p, err := pool.NewPool(pool.WithWorkerCount(4), pool.WithRestartAfter(100))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
func NewPool(opts ...Option) (*Pool, error) {
	return NewPoolContext(context.Background(), opts...)
}

// NewPoolContext is NewPool with a context bounding worker start-up.
func NewPoolContext(ctx context.Context, opts ...Option) (*Pool, error) {
	if proc.IsDaemon() {
		return nil, ErrDaemonNested
	}

	cfg := createConfig(opts...)
	p := &Pool{
		cfg:  cfg,
		jobs: make(map[*job]struct{}),
	}

	sup, err := supervisor.New(ctx, supervisor.Config{
		Size: cfg.workerCount,
		Spec: proc.Spec{
			Path:   cfg.command,
			Args:   cfg.args,
			Daemon: cfg.daemon,
		},
		CPUSets:       cfg.cpuSets,
		RestartAfter:  cfg.restartAfter,
		Init:          cfg.initializer,
		Finalize:      cfg.finalizer,
		SpawnAttempts: cfg.spawnAttempts,
		Backoff:       cfg.spawnBackoff,
		StopTimeout:   cfg.shutdownTimeout,
		OnEvent:       eventForwarder(cfg.onEvent),
	})
	if err != nil {
		return nil, err
	}
	p.sup = sup
	return p, nil
}

func eventForwarder(fn func(WorkerEvent)) func(supervisor.Event) {
	if fn == nil {
		return nil
	}
	return func(ev supervisor.Event) {
		fn(WorkerEvent{
			Kind:     ev.Kind.String(),
			Slot:     ev.Slot,
			WorkerID: ev.WorkerID,
			PID:      ev.PID,
			Err:      ev.Err,
		})
	}
}

// Size returns the number of worker slots.
func (p *Pool) Size() int { return p.sup.Size() }

// Workers returns a snapshot of every worker slot.
func (p *Pool) Workers() []WorkerInfo {
	snap := p.sup.Snapshot()
	out := make([]WorkerInfo, len(snap))
	for i, s := range snap {
		out[i] = WorkerInfo{
			Slot:     s.Slot,
			ID:       s.ID,
			PID:      s.PID,
			State:    s.State.String(),
			Tasks:    s.Tasks,
			Restarts: s.Restarts,
			CPUs:     []int(s.CPUs),
			Err:      s.Err,
		}
	}
	return out
}

// Restart replaces the worker in the given slot with a fresh process
// before the slot runs its next chunk.
func (p *Pool) Restart(slot int) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return p.sup.Restart(slot)
}

// Close aborts running jobs with ErrPoolClosed, runs every worker's
// finalizer and waits for the workers to exit. Workers that do not stop
// within the shutdown timeout are killed and ErrShutdownTimeout is
// returned. Close is idempotent.
func (p *Pool) Close() error {
	if !p.markClosed(ErrPoolClosed) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.jobsWG.Wait()
		close(done)
	}()
	if err := waitUntil(done, p.cfg.shutdownTimeout); err != nil {
		debugLog("jobs did not settle within %v, terminating workers", p.cfg.shutdownTimeout)
		p.sup.Terminate()
		<-done
		return err
	}
	return p.sup.Shutdown(p.cfg.shutdownTimeout)
}

// Terminate kills every worker immediately without running finalizers.
// Running jobs fail with a CancelledError wrapping ErrPoolClosed.
func (p *Pool) Terminate() error {
	p.markClosed(ErrPoolClosed)
	p.sup.Terminate()
	p.jobsWG.Wait()
	return nil
}

// markClosed flips the pool to closed and aborts its jobs. It reports
// whether this call did the flip.
func (p *Pool) markClosed(cause error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return false
	}
	for j := range p.jobs {
		j.abort(&CancelledError{Cause: cause})
	}
	return true
}

func (p *Pool) register(j *job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return &CancelledError{Cause: ErrPoolClosed}
	}
	p.jobs[j] = struct{}{}
	p.jobsWG.Add(1)
	return nil
}

func (p *Pool) unregister(j *job) {
	p.mu.Lock()
	delete(p.jobs, j)
	p.mu.Unlock()
	p.jobsWG.Done()
}

// isExhausted reports whether err means no worker is left.
func isExhausted(err error) bool {
	return errors.Is(err, supervisor.ErrExhausted)
}
