// Package scheduler hands encoded chunks to supervised workers under an
// in-flight cap and funnels their outcomes to a single consumer.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/utkarsh5026/procpool/internal/supervisor"
)

// ErrDispatcherAborted is the default abort reason.
var ErrDispatcherAborted = errors.New("dispatcher aborted")

// Dispatcher runs the chunks of one job.
//
// The in-flight permit of a chunk is held from the moment it is pulled
// from the producer until its outcome was handed to the consumer, or until
// the consumer acknowledged it when Config.Acknowledge is set. The number
// of dispatched but uncollected chunks never exceeds MaxActive.
type Dispatcher struct {
	sup *supervisor.Supervisor
	cfg Config
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	failed    atomic.Bool
	abortOnce sync.Once
	aborted   chan struct{}
	errMu     sync.Mutex
	err       error

	mu   sync.Mutex
	busy map[int]*supervisor.Worker

	inFlight   atomic.Int64
	peak       atomic.Int64
	dispatched atomic.Int64
}

// New creates a dispatcher for one job. ctx bounds the whole job.
func New(ctx context.Context, sup *supervisor.Supervisor, cfg Config) *Dispatcher {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = sup.Size()
	}
	dctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		sup:     sup,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxActive)),
		ctx:     dctx,
		cancel:  cancel,
		aborted: make(chan struct{}),
		busy:    make(map[int]*supervisor.Worker),
	}
}

// Run dispatches tasks from next until it is exhausted or the dispatcher
// is aborted, waits for every dispatched chunk to resolve and closes out.
// It returns the abort reason, if any.
func (d *Dispatcher) Run(next Producer, out chan<- Outcome) error {
	var wg sync.WaitGroup
	for !d.failed.Load() {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.Abort(d.cause(err))
			break
		}
		if d.failed.Load() {
			d.sem.Release(1)
			break
		}

		if err := d.wait(); err != nil {
			d.sem.Release(1)
			d.Abort(err)
			break
		}

		task, ok, err := next()
		if err != nil {
			d.sem.Release(1)
			d.Abort(err)
			break
		}
		if !ok {
			d.sem.Release(1)
			break
		}

		w, err := d.sup.Acquire(d.ctx)
		if err != nil {
			d.sem.Release(1)
			d.Abort(d.cause(err))
			break
		}

		d.track(task.Index, w)
		d.dispatched.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.execute(w, task, out)
		}()
	}

	// Chunks still in flight may fail and abort after the producer ran
	// dry, so the reason is read only once all of them resolved.
	wg.Wait()
	close(out)
	d.cancel()
	return d.Err()
}

func (d *Dispatcher) wait() error {
	if d.cfg.Limiter == nil {
		return nil
	}
	if err := d.cfg.Limiter.Wait(d.ctx); err != nil {
		// Limiter errors do not wrap context errors
		if ctxErr := d.ctx.Err(); ctxErr != nil {
			return d.cause(ctxErr)
		}
		return err
	}
	return nil
}

// cause prefers the reason the dispatcher was aborted over the bare
// context error it produced.
func (d *Dispatcher) cause(err error) error {
	if e := d.Err(); e != nil {
		return e
	}
	return err
}

func (d *Dispatcher) execute(w *supervisor.Worker, task Task, out chan<- Outcome) {
	delivered := false
	defer func() {
		if !delivered || !d.cfg.Acknowledge {
			d.sem.Release(1)
		}
	}()

	start := time.Now()
	payload, err := w.Run(d.ctx, d.cfg.Func, task.Index, task.Payload, d.cfg.Timeout)

	d.untrack(task.Index)
	d.sup.Release(w, err)

	o := Outcome{
		Index:    task.Index,
		Offset:   task.Offset,
		Size:     task.Size,
		Payload:  payload,
		Err:      err,
		Slot:     w.Slot,
		WorkerID: w.ID,
		PID:      w.PID(),
		Elapsed:  time.Since(start),
	}

	if d.cfg.Inspect != nil {
		if terr := d.cfg.Inspect(o); terr != nil {
			d.Abort(terr)
		}
	}

	// resolved; the consumer may ack and free the permit as soon as the
	// outcome is received
	d.inFlight.Add(-1)
	if !d.failed.Load() {
		select {
		case out <- o:
			delivered = true
		case <-d.aborted:
		}
	}
}

func (d *Dispatcher) track(index int, w *supervisor.Worker) {
	d.mu.Lock()
	d.busy[index] = w
	d.mu.Unlock()

	n := d.inFlight.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

func (d *Dispatcher) untrack(index int) {
	d.mu.Lock()
	delete(d.busy, index)
	d.mu.Unlock()
}

// Abort stops dispatch, kills every worker still busy on this job and
// drops outcomes that have not been delivered yet. The first reason wins.
func (d *Dispatcher) Abort(err error) {
	if err == nil {
		err = ErrDispatcherAborted
	}
	d.abortOnce.Do(func() {
		d.errMu.Lock()
		d.err = err
		d.errMu.Unlock()

		d.failed.Store(true)
		close(d.aborted)

		d.mu.Lock()
		for idx, w := range d.busy {
			debugLog("abort: killing worker %d busy on chunk %d", w.Slot, idx)
			d.sup.Kill(w)
		}
		d.mu.Unlock()

		d.cancel()
		debugLog("dispatcher aborted: %v", err)
	})
}

// Ack releases the permit of one delivered chunk. It is only meaningful
// with Config.Acknowledge and must be called at most once per delivered
// outcome.
func (d *Dispatcher) Ack() {
	if d.cfg.Acknowledge {
		d.sem.Release(1)
	}
}

// Err returns the abort reason, or nil.
func (d *Dispatcher) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Aborted reports whether Abort was called.
func (d *Dispatcher) Aborted() bool { return d.failed.Load() }

// InFlight returns the number of chunks dispatched but not yet resolved.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Peak returns the highest in-flight count observed.
func (d *Dispatcher) Peak() int { return int(d.peak.Load()) }

// Dispatched returns the number of chunks handed to workers.
func (d *Dispatcher) Dispatched() int { return int(d.dispatched.Load()) }

// MaxActive returns the effective in-flight cap.
func (d *Dispatcher) MaxActive() int { return d.cfg.MaxActive }
