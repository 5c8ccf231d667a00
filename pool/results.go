package pool

import (
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/utkarsh5026/procpool/internal/scheduler"
	"github.com/utkarsh5026/procpool/internal/wire"
)

// Results is a forward-only iterator over the results of one job. It is
// consumed once, by a single goroutine; Close may be called from any
// goroutine.
//
//	res := pool.IMap(ctx, p, fn, src)
//	defer res.Close()
//	for res.Next() {
//	    use(res.Value())
//	}
//	if err := res.Err(); err != nil {
//	    ...
//	}
type Results[R any] struct {
	job  *job
	mode Mode
	out  <-chan scheduler.Outcome

	// ordered mode: chunks waiting for their predecessors
	buf  map[int][]R
	next int

	cur []R
	pos int
	val R

	err      error
	finished bool
	closed   atomic.Bool
}

func failedResults[R any](err error) *Results[R] {
	return &Results[R]{err: classify(err), finished: true}
}

// Next advances to the next result. It returns false when the job is done,
// failed or was closed; Err tells which.
func (r *Results[R]) Next() bool {
	if r.closed.Load() && !r.finished {
		r.finish()
		return false
	}
	for {
		if r.pos < len(r.cur) {
			r.val = r.cur[r.pos]
			r.pos++
			return true
		}
		if r.finished {
			return false
		}
		r.cur, r.pos = nil, 0

		if r.mode == Ordered {
			if items, ok := r.buf[r.next]; ok {
				delete(r.buf, r.next)
				r.next++
				r.cur = items
				r.job.d.Ack()
				continue
			}
		}

		o, ok := <-r.out
		if !ok {
			r.finish()
			return false
		}
		if o.Err != nil {
			r.job.d.Ack()
			continue
		}

		items, err := wire.Decode[[]R](o.Payload)
		if err != nil {
			r.job.d.Ack()
			r.job.abort(fmt.Errorf("decode results of chunk %d: %w", o.Index, err))
			continue
		}

		if r.mode == Unordered {
			r.cur = items
			r.job.d.Ack()
			continue
		}
		// the chunk keeps its in-flight permit until it leaves buf
		r.buf[o.Index] = items
	}
}

// finish waits for the job to settle. Chunks buffered behind a gap are
// dropped: only the contiguous prefix is ever released.
func (r *Results[R]) finish() {
	r.finished = true
	r.buf = nil
	<-r.job.done
	r.err = r.job.err
}

// Value returns the result produced by the last successful Next.
func (r *Results[R]) Value() R { return r.val }

// Err returns the job's terminal error once Next returned false or Close
// returned.
func (r *Results[R]) Err() error {
	if !r.finished && r.job != nil && r.closed.Load() {
		<-r.job.done
		return r.job.err
	}
	return r.err
}

// Close stops the job if it is still running, kills the workers busy on
// it and waits for it to settle. A job stopped this way reports a
// CancelledError wrapping ErrJobAborted. Close is idempotent and safe to
// call after the job completed.
func (r *Results[R]) Close() error {
	if r.job == nil {
		return nil
	}
	if r.closed.CompareAndSwap(false, true) {
		r.job.abort(&CancelledError{Cause: ErrJobAborted})
	}
	<-r.job.done
	return nil
}

// Seq returns the remaining results as an iterator. Breaking out of the
// loop closes the job. Check Err afterwards.
func (r *Results[R]) Seq() iter.Seq[R] {
	return func(yield func(R) bool) {
		for r.Next() {
			if !yield(r.Value()) {
				_ = r.Close()
				return
			}
		}
	}
}

// ID returns the job's unique id.
func (r *Results[R]) ID() string {
	if r.job == nil {
		return ""
	}
	return r.job.id
}

// Info returns the shape of the job as computed at submission.
func (r *Results[R]) Info() JobInfo {
	if r.job == nil {
		return JobInfo{}
	}
	return r.job.info
}

// Stats returns dispatch statistics. They are final once Next returned
// false or Close returned.
func (r *Results[R]) Stats() JobStats {
	if r.job == nil || r.job.d == nil {
		return JobStats{}
	}
	return r.job.stats()
}
