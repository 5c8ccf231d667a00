// Package pool runs functions over large inputs in parallel on a pool of
// worker processes.
//
// Input is split into contiguous chunks that are shipped to long-lived
// worker processes. Results come back in input order (Map, IMap) or in
// completion order (MapUnordered, IMapUnordered). A bounded number of chunks
// is in flight at any time, so lazy inputs are only pulled as capacity frees
// up.
//
// # Registering functions
//
// Workers are the current executable started again in worker mode, so
// functions cannot be passed as closures. They are registered by name at
// package level, and every program using a pool calls ServeIfWorker first:
//
//	var square = pool.Register("square", func(ctx context.Context, n int) (int, error) {
//	    return n * n, nil
//	})
//
//	func main() {
//	    pool.ServeIfWorker()
//
//	    p, err := pool.NewPool(pool.WithWorkerCount(4))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer p.Close()
//
//	    out, err := pool.Map(ctx, p, square, []int{1, 2, 3})
//	}
//
// Inputs and results travel with encoding/gob. Error values come back as
// FunctionError; types registered with RegisterError keep their identity for
// errors.Is and errors.As.
//
// # Workers
//
// Each worker owns a slot. A worker can run an initializer (WithInitializer)
// that fills its WorkerContext, available to every call through
// WorkerFromContext, and a finalizer (WithFinalizer) when it stops. With
// WithRestartAfter a worker is replaced by a fresh process after a number of
// chunks. Workers can be pinned to CPUs with WithCPUAffinity or WithCPUSets.
//
// # Error Handling
//
// The pool uses fail-fast semantics: the first failure stops dispatch, kills
// the workers still busy on the job and is returned. The error is one of
//
//   - *FunctionError: the function returned an error or panicked
//   - *DeathError: the worker process died or overran WithTaskTimeout
//   - *ExhaustedError: no worker could be restarted
//   - *CancelledError: the context was cancelled, Results.Close was called
//     or the pool was closed
//
// Failed chunks are never retried. A dead worker is replaced for later
// jobs.
//
// # Configuration Options
//
//   - WithWorkerCount(n): number of worker processes (default: NumCPU)
//   - WithChunkSize(n), WithChunkPolicy(p): chunking (default: AutoChunk)
//   - WithMaxActive(n): in-flight chunk cap (default: worker count)
//   - WithTaskTimeout(d): per-chunk timeout
//   - WithProgress(sink): per-chunk progress notifications
//
// Options can also be loaded from YAML, see LoadConfig.
package pool
