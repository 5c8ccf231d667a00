package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/utkarsh5026/procpool/internal/chunk"
	"github.com/utkarsh5026/procpool/internal/scheduler"
	"github.com/utkarsh5026/procpool/internal/wire"
)

// job is the parent-side state of one submitted call.
type job struct {
	id    string
	pool  *Pool
	owned bool
	info  JobInfo
	d     *scheduler.Dispatcher
	span  trace.Span

	progress   ProgressSink
	progressMu sync.Mutex

	err  error
	done chan struct{}
}

// Map applies fn to every element of items on the pool's workers and
// returns the results in input order.
//
// A nil pool creates a temporary pool from opts for the duration of the
// call. On error the returned slice holds the results of the leading
// chunks that completed before the failure.
//
// Example:
//
//	squares, err := pool.Map(ctx, p, square, []int{1, 2, 3, 4})
//	// squares: []int{1, 4, 9, 16}
func Map[T, R any](ctx context.Context, p *Pool, fn *Func[T, R], items []T, opts ...Option) ([]R, error) {
	return collect(Submit(ctx, p, fn, chunk.FromSlice(items), Ordered, opts...), len(items))
}

// MapUnordered is Map without the ordering guarantee: results arrive chunk
// by chunk in completion order. Order within a chunk is preserved.
func MapUnordered[T, R any](ctx context.Context, p *Pool, fn *Func[T, R], items []T, opts ...Option) ([]R, error) {
	return collect(Submit(ctx, p, fn, chunk.FromSlice(items), Unordered, opts...), len(items))
}

// IMap is the lazy form of Map over any Source. Input is pulled only as
// in-flight capacity frees up.
//
// Example:
//
//	res := pool.IMap(ctx, p, square, pool.FromChan(ctx, numbers))
//	defer res.Close()
//	for res.Next() {
//	    fmt.Println(res.Value())
//	}
//	if err := res.Err(); err != nil {
//	    log.Fatal(err)
//	}
func IMap[T, R any](ctx context.Context, p *Pool, fn *Func[T, R], src Source[T], opts ...Option) *Results[R] {
	return Submit(ctx, p, fn, src, Ordered, opts...)
}

// IMapUnordered is the lazy form of MapUnordered.
func IMapUnordered[T, R any](ctx context.Context, p *Pool, fn *Func[T, R], src Source[T], opts ...Option) *Results[R] {
	return Submit(ctx, p, fn, src, Unordered, opts...)
}

// Apply runs fn on a single element in a worker and waits for the result.
func Apply[T, R any](ctx context.Context, p *Pool, fn *Func[T, R], item T, opts ...Option) (R, error) {
	var zero R
	out, err := Map(ctx, p, fn, []T{item}, append(opts, WithChunkSize(1))...)
	if err != nil || len(out) == 0 {
		return zero, err
	}
	return out[0], nil
}

func collect[R any](res *Results[R], hint int) ([]R, error) {
	defer res.Close()
	out := make([]R, 0, hint)
	for res.Next() {
		out = append(out, res.Value())
	}
	return out, res.Err()
}

// Submit starts a job and returns its results iterator. It is the general
// form behind Map, MapUnordered, IMap and IMapUnordered.
//
// The job runs in the background until it completes, fails, ctx is
// cancelled or the returned Results is closed. Setup errors are reported
// through Results.Err.
func Submit[T, R any](ctx context.Context, p *Pool, fn *Func[T, R], src Source[T], mode Mode, opts ...Option) *Results[R] {
	if fn == nil {
		stopSource(src)
		return failedResults[R](ErrNilFunc)
	}
	if src == nil {
		src = chunk.FromSlice[T](nil)
	}

	owned := false
	if p == nil {
		var err error
		if p, err = NewPoolContext(ctx, opts...); err != nil {
			stopSource(src)
			return failedResults[R](err)
		}
		owned = true
	}

	// a pool created for this job already carries every option
	cfg := p.cfg
	if !owned {
		var err error
		if cfg, err = p.cfg.jobConfig(opts...); err != nil {
			stopSource(src)
			return failedResults[R](err)
		}
	}
	workers := p.Size()

	n := chunk.Len(src)
	if n < 0 && cfg.lengthHint >= 0 {
		n = cfg.lengthHint
	}
	size := cfg.chunkPolicy.Size(n, workers)

	j := &job{
		id:       uuid.NewString(),
		pool:     p,
		owned:    owned,
		progress: cfg.progress,
		done:     make(chan struct{}),
	}
	j.info = JobInfo{
		ID:        j.id,
		Mode:      mode,
		Workers:   workers,
		Elements:  n,
		Chunks:    chunk.Count(n, size),
		ChunkSize: size,
		MaxActive: cfg.activeCap(workers),
	}

	ctx, j.span = startJobSpan(ctx, j.info)
	j.d = scheduler.New(ctx, p.sup, scheduler.Config{
		Func:        fn.Name(),
		MaxActive:   j.info.MaxActive,
		Acknowledge: true,
		Timeout:     cfg.taskTimeout,
		Limiter:     cfg.rateLimiter,
		Inspect:     j.inspect,
	})

	if err := p.register(j); err != nil {
		j.d.Abort(err)
		stopSource(src)
		endJobSpan(j.span, JobStats{ID: j.id}, err)
		if owned {
			_ = p.Close()
		}
		return failedResults[R](err)
	}

	out := make(chan scheduler.Outcome, j.info.MaxActive)
	res := &Results[R]{
		job:  j,
		mode: mode,
		out:  out,
		buf:  make(map[int][]R),
	}

	debugLog("job %s: %s, %d elements, chunk size %d, max active %d", j.id, mode, n, size, j.info.MaxActive)
	j.started()
	c := chunk.New(src, size)
	go j.run(producer(c), c.Stop, out)
	return res
}

// stopSource releases a source that will not be consumed.
func stopSource[T any](src Source[T]) {
	if s, ok := src.(chunk.Stopper); ok {
		s.Stop()
	}
}

// producer encodes chunks as the dispatcher asks for them.
func producer[T any](c *chunk.Chunker[T]) scheduler.Producer {
	return func() (scheduler.Task, bool, error) {
		ch, ok, err := c.Next()
		if err != nil {
			return scheduler.Task{}, false, fmt.Errorf("%w: %w", ErrSource, err)
		}
		if !ok {
			return scheduler.Task{}, false, nil
		}

		payload, err := wire.Encode(ch.Items)
		if err != nil {
			return scheduler.Task{}, false, fmt.Errorf("encode chunk %d: %w", ch.Index, err)
		}
		return scheduler.Task{Index: ch.Index, Offset: ch.Offset, Size: ch.Len(), Payload: payload}, true, nil
	}
}

func (j *job) run(next scheduler.Producer, stop func(), out chan<- scheduler.Outcome) {
	err := j.d.Run(next, out)
	stop()
	if isExhausted(err) {
		err = exhausted(j.pool.sup)
	}
	j.err = classify(err)

	stats := j.stats()
	debugLog("job %s finished: %d chunks, peak in-flight %d, err=%v", j.id, stats.Dispatched, stats.PeakInFlight, j.err)
	endJobSpan(j.span, stats, j.err)
	j.finished()

	j.pool.unregister(j)
	if j.owned {
		_ = j.pool.Close()
	}
	close(j.done)
}

// inspect is called by the dispatcher for every resolved chunk before its
// outcome is delivered. A non-nil return aborts the job.
func (j *job) inspect(o scheduler.Outcome) error {
	var err error
	if o.Err != nil {
		err = outcomeError(o)
		var de *DeathError
		if errors.As(err, &de) && !j.d.Aborted() {
			recordDeath(j.span, de)
		}
	}

	if j.progress != nil {
		j.progressMu.Lock()
		j.progress.ChunkDone(ChunkEvent{
			JobID:    j.id,
			Index:    o.Index,
			Size:     o.Size,
			Slot:     o.Slot,
			WorkerID: o.WorkerID,
			Err:      err,
			Elapsed:  o.Elapsed,
		})
		j.progressMu.Unlock()
	}
	return err
}

func (j *job) started() {
	if s, ok := j.progress.(ProgressStarter); ok {
		j.progressMu.Lock()
		s.JobStarted(j.info)
		j.progressMu.Unlock()
	}
}

func (j *job) finished() {
	if f, ok := j.progress.(ProgressFinisher); ok {
		j.progressMu.Lock()
		f.JobFinished(j.err)
		j.progressMu.Unlock()
	}
}

func (j *job) abort(err error) {
	if j.d != nil {
		j.d.Abort(err)
	}
}

func (j *job) stats() JobStats {
	return JobStats{
		ID:           j.id,
		ChunkSize:    j.info.ChunkSize,
		MaxActive:    j.info.MaxActive,
		Dispatched:   j.d.Dispatched(),
		PeakInFlight: j.d.Peak(),
	}
}
