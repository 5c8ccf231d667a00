package pool

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/utkarsh5026/procpool/internal/algorithms"
	"github.com/utkarsh5026/procpool/internal/chunk"
	"github.com/utkarsh5026/procpool/internal/cpu"
)

// MaxActiveAuto sets the in-flight cap to twice the worker count.
const MaxActiveAuto = -1

// Option is a functional option for configuring a pool or a single job.
//
// Pool options (worker count, affinity, restart policy, hooks...) only take
// effect when a pool is created: by NewPool, or by a job run on a nil pool.
// A job on an existing pool given a pool option fails with ErrPoolOption.
// Job options (chunking, in-flight cap, timeout, progress...) passed to
// NewPool become the defaults of every job on that pool and can be
// overridden per call.
type Option func(*config)

// poolOption marks fn as only valid when a pool is created.
func poolOption(name string, fn func(*config)) Option {
	return func(cfg *config) {
		cfg.poolOpts = append(cfg.poolOpts, name)
		fn(cfg)
	}
}

type config struct {
	// pool
	workerCount     int
	cpuSets         []cpu.Set
	restartAfter    int
	initializer     string
	finalizer       string
	daemon          bool
	command         string
	args            []string
	spawnAttempts   int
	spawnBackoff    algorithms.BackoffStrategy
	shutdownTimeout time.Duration
	onEvent         func(WorkerEvent)

	// names of pool options applied, checked for jobs on existing pools
	poolOpts []string

	// job
	chunkPolicy chunk.Policy
	maxActive   int
	taskTimeout time.Duration
	progress    ProgressSink
	lengthHint  int
	rateLimiter *rate.Limiter
}

// WithWorkerCount sets the number of worker processes.
// If not specified, defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return poolOption("WithWorkerCount", func(cfg *config) {
		if count > 0 {
			cfg.workerCount = count
		}
	})
}

// WithCPUAffinity pins worker i to CPU i (mod the number of CPUs) when
// enabled. Pinning is best effort and a no-op on unsupported platforms.
func WithCPUAffinity(enabled bool) Option {
	return poolOption("WithCPUAffinity", func(cfg *config) {
		if !enabled {
			cfg.cpuSets = nil
			return
		}
		ids := make([]int, cpu.GetNumCPU())
		for i := range ids {
			ids[i] = i
		}
		cfg.cpuSets = cpu.Singles(ids...)
	})
}

// WithCPUSets assigns explicit CPU sets to worker slots round-robin:
// slot i gets sets[i % len(sets)].
//
// Example:
//
//	WithCPUSets([]int{0, 1}, []int{2, 3}) // slots alternate between {0,1} and {2,3}
func WithCPUSets(sets ...[]int) Option {
	return poolOption("WithCPUSets", func(cfg *config) {
		cfg.cpuSets = nil
		for _, s := range sets {
			if len(s) > 0 {
				cfg.cpuSets = append(cfg.cpuSets, cpu.Set(s))
			}
		}
	})
}

// WithRestartAfter replaces a worker with a fresh process after it has
// completed n chunks. Zero, the default, never restarts.
func WithRestartAfter(n int) Option {
	return poolOption("WithRestartAfter", func(cfg *config) {
		if n >= 0 {
			cfg.restartAfter = n
		}
	})
}

// WithInitializer runs h once in every worker process before its first
// chunk, including replacement workers. It is a pool option: workers are
// shared by every job on a pool.
func WithInitializer(h *Hook) Option {
	return poolOption("WithInitializer", func(cfg *config) {
		cfg.initializer = h.Name()
	})
}

// WithFinalizer runs h in every worker process when it is stopped
// gracefully: on Close and on restart.
func WithFinalizer(h *Hook) Option {
	return poolOption("WithFinalizer", func(cfg *config) {
		cfg.finalizer = h.Name()
	})
}

// WithDaemon controls whether workers are daemons (the default). Daemon
// workers are killed when the parent dies and may not create pools of their
// own.
func WithDaemon(daemon bool) Option {
	return poolOption("WithDaemon", func(cfg *config) {
		cfg.daemon = daemon
	})
}

// WithWorkerCommand starts workers from the given executable instead of
// re-executing the current one. The program must call ServeIfWorker and
// register the same functions and hooks.
func WithWorkerCommand(path string, args ...string) Option {
	return poolOption("WithWorkerCommand", func(cfg *config) {
		cfg.command = path
		cfg.args = args
	})
}

// WithSpawnRetry sets how often a slot tries to start a worker before it is
// declared dead, with jittered exponential backoff between attempts.
func WithSpawnRetry(attempts int, initialDelay, maxDelay time.Duration) Option {
	return poolOption("WithSpawnRetry", func(cfg *config) {
		if attempts > 0 {
			cfg.spawnAttempts = attempts
		}
		if initialDelay > 0 && maxDelay >= initialDelay {
			cfg.spawnBackoff = algorithms.NewBackoffStrategy(algorithms.BackoffJittered, initialDelay, maxDelay, 0.2)
		}
	})
}

// WithShutdownTimeout bounds Close: running jobs and graceful worker stops
// that take longer are cut short by killing the workers.
func WithShutdownTimeout(d time.Duration) Option {
	return poolOption("WithShutdownTimeout", func(cfg *config) {
		if d > 0 {
			cfg.shutdownTimeout = d
		}
	})
}

// WithEventHook registers a callback for worker lifecycle events. It is
// called synchronously from the supervisor and must not block.
func WithEventHook(fn func(WorkerEvent)) Option {
	return poolOption("WithEventHook", func(cfg *config) {
		cfg.onEvent = fn
	})
}

// WithChunkSize sets a fixed number of elements per chunk.
func WithChunkSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.chunkPolicy = chunk.Fixed(n)
		}
	}
}

// WithChunkPolicy sets a custom chunk size policy.
func WithChunkPolicy(p chunk.Policy) Option {
	return func(cfg *config) {
		if p != nil {
			cfg.chunkPolicy = p
		}
	}
}

// WithMaxActive caps the number of chunks dispatched but not yet collected.
// Defaults to the worker count; MaxActiveAuto means twice the worker count.
func WithMaxActive(n int) Option {
	return func(cfg *config) {
		if n > 0 || n == MaxActiveAuto {
			cfg.maxActive = n
		}
	}
}

// WithTaskTimeout bounds the time a worker may spend on one chunk. A worker
// that overruns is killed and the job fails with a DeathError wrapping
// ErrTaskTimeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.taskTimeout = d
		}
	}
}

// WithProgress registers a sink notified once per resolved chunk.
func WithProgress(sink ProgressSink) Option {
	return func(cfg *config) {
		cfg.progress = sink
	}
}

// WithLengthHint tells the chunk policy how many elements a source of
// unknown length will produce.
func WithLengthHint(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.lengthHint = n
		}
	}
}

// WithDispatchRate limits how fast chunks are handed to workers.
// chunksPerSecond specifies the sustained rate and burst the bucket size.
//
// Example:
//
//	WithDispatchRate(10, 5) // 10 chunks/sec with bursts of 5
func WithDispatchRate(chunksPerSecond float64, burst int) Option {
	return func(cfg *config) {
		if chunksPerSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(chunksPerSecond), burst)
		}
	}
}

func createConfig(opts ...Option) *config {
	cfg := &config{
		workerCount:     runtime.NumCPU(),
		daemon:          true,
		spawnAttempts:   3,
		shutdownTimeout: 10 * time.Second,
		chunkPolicy:     chunk.Auto{},
		lengthHint:      -1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.spawnBackoff == nil {
		cfg.spawnBackoff = algorithms.NewBackoffStrategy(algorithms.BackoffJittered, 50*time.Millisecond, time.Second, 0.2)
	}
	return cfg
}

// jobConfig derives the configuration of one job from the pool's. Pool
// options are rejected: the pool's workers already exist.
func (cfg *config) jobConfig(opts ...Option) (*config, error) {
	jc := *cfg
	jc.poolOpts = nil
	for _, opt := range opts {
		opt(&jc)
	}
	if len(jc.poolOpts) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPoolOption, strings.Join(jc.poolOpts, ", "))
	}
	return &jc, nil
}

// activeCap resolves the in-flight cap for the given worker count.
func (cfg *config) activeCap(workers int) int {
	switch {
	case cfg.maxActive == MaxActiveAuto:
		return 2 * workers
	case cfg.maxActive > 0:
		return cfg.maxActive
	default:
		return workers
	}
}
