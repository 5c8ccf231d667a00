package benchmarks

import (
	"context"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/utkarsh5026/procpool/pool"
)

// jobConfig names a set of per-job options to compare.
type jobConfig struct {
	name string
	opts []pool.Option
}

// chunkConfigs returns the chunking policies worth comparing for n inputs.
func chunkConfigs() []jobConfig {
	return []jobConfig{
		{name: "Chunk1", opts: []pool.Option{pool.WithChunkSize(1)}},
		{name: "Chunk64", opts: []pool.Option{pool.WithChunkSize(64)}},
		{name: "Chunk1024", opts: []pool.Option{pool.WithChunkSize(1024)}},
		{name: "Auto", opts: nil},
		{name: "AutoFactor16", opts: []pool.Option{pool.WithChunkPolicy(pool.AutoChunk{Factor: 16})}},
	}
}

// activeConfigs compares in-flight caps.
func activeConfigs(workers int) []jobConfig {
	return []jobConfig{
		{name: "Active1", opts: []pool.Option{pool.WithMaxActive(1)}},
		{name: "ActiveWorkers", opts: []pool.Option{pool.WithMaxActive(workers)}},
		{name: "ActiveAuto", opts: []pool.Option{pool.WithMaxActive(pool.MaxActiveAuto)}},
	}
}

// runJobBenchmark runs benchFunc once per configuration.
func runJobBenchmark(b *testing.B, configs []jobConfig, benchFunc func(b *testing.B, c jobConfig)) {
	for _, c := range configs {
		b.Run(c.name, func(b *testing.B) {
			benchFunc(b, c)
		})
	}
}

// =============================================================================
// Benchmark Workloads
// =============================================================================

// cpuBound simulates a CPU-intensive operation.
var cpuBound = pool.Register("bench.cpu", func(ctx context.Context, task int) (int, error) {
	result := 0
	for i := range 1000 {
		result += i * task
	}
	return result, nil
})

// ioBound simulates an I/O operation with a short delay.
var ioBound = pool.Register("bench.io", func(ctx context.Context, task int) (int, error) {
	select {
	case <-time.After(time.Millisecond):
		return task * 2, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
})

// mixed has a processing time that varies with the input.
var mixed = pool.Register("bench.mixed", func(ctx context.Context, task int) (int, error) {
	time.Sleep(time.Duration(task%4) * time.Millisecond)
	result := 0
	for i := range 1000 {
		result += i
	}
	return result + task, nil
})

// blob measures payload transfer cost.
var blob = pool.Register("bench.blob", func(ctx context.Context, data []byte) (int, error) {
	sum := 0
	for _, c := range data {
		sum += int(c)
	}
	return sum, nil
})

func newBenchPool(b *testing.B, workers int) *pool.Pool {
	b.Helper()
	p, err := pool.NewPool(pool.WithWorkerCount(workers))
	if err != nil {
		b.Fatalf("start pool: %v", err)
	}
	b.Cleanup(func() { _ = p.Close() })
	return p
}

func makeTasks(n int) []int {
	tasks := make([]int, n)
	for i := range tasks {
		tasks[i] = i
	}
	return tasks
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	index := max(int(math.Round(p*float64(len(sorted)-1))), 0)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
