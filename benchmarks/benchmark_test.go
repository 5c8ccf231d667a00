package benchmarks

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/utkarsh5026/procpool/pool"
)

const benchWorkers = 4

func TestMain(m *testing.M) {
	pool.ServeIfWorker()
	os.Exit(m.Run())
}

func BenchmarkMap_CPUBound_ChunkSizes(b *testing.B) {
	p := newBenchPool(b, benchWorkers)
	tasks := makeTasks(10_000)
	ctx := context.Background()

	runJobBenchmark(b, chunkConfigs(), func(b *testing.B, c jobConfig) {
		b.ReportAllocs()
		b.ResetTimer()
		for b.Loop() {
			if _, err := pool.Map(ctx, p, cpuBound, tasks, c.opts...); err != nil {
				b.Fatal(err)
			}
		}
		b.ReportMetric(float64(len(tasks))*float64(b.N)/b.Elapsed().Seconds(), "elems/s")
	})
}

func BenchmarkMap_IOBound_MaxActive(b *testing.B) {
	p := newBenchPool(b, benchWorkers)
	tasks := makeTasks(200)
	ctx := context.Background()

	runJobBenchmark(b, activeConfigs(benchWorkers), func(b *testing.B, c jobConfig) {
		opts := append([]pool.Option{pool.WithChunkSize(10)}, c.opts...)
		for b.Loop() {
			if _, err := pool.Map(ctx, p, ioBound, tasks, opts...); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkMixed_OrderedVsUnordered(b *testing.B) {
	p := newBenchPool(b, benchWorkers)
	tasks := makeTasks(400)
	ctx := context.Background()

	b.Run("Ordered", func(b *testing.B) {
		for b.Loop() {
			if _, err := pool.Map(ctx, p, mixed, tasks, pool.WithChunkSize(8)); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("Unordered", func(b *testing.B) {
		for b.Loop() {
			if _, err := pool.MapUnordered(ctx, p, mixed, tasks, pool.WithChunkSize(8)); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkIMap_Streaming(b *testing.B) {
	p := newBenchPool(b, benchWorkers)
	ctx := context.Background()

	for b.Loop() {
		ch := make(chan int)
		go func() {
			defer close(ch)
			for i := range 5_000 {
				ch <- i
			}
		}()
		res := pool.IMap(ctx, p, cpuBound, pool.FromChan(ctx, ch), pool.WithChunkSize(256))
		for range res.Seq() {
		}
		if err := res.Err(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPayloadSize(b *testing.B) {
	p := newBenchPool(b, benchWorkers)
	ctx := context.Background()

	for _, size := range []int{64, 4 << 10, 256 << 10} {
		data := make([][]byte, 32)
		for i := range data {
			data[i] = make([]byte, size)
		}
		b.Run(byteSize(size), func(b *testing.B) {
			b.SetBytes(int64(size * len(data)))
			for b.Loop() {
				if _, err := pool.Map(ctx, p, blob, data, pool.WithChunkSize(4)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkApply_Latency(b *testing.B) {
	p := newBenchPool(b, benchWorkers)
	ctx := context.Background()

	latencies := make([]time.Duration, 0, 1024)
	for b.Loop() {
		start := time.Now()
		if _, err := pool.Apply(ctx, p, cpuBound, 7); err != nil {
			b.Fatal(err)
		}
		latencies = append(latencies, time.Since(start))
	}
	b.ReportMetric(float64(percentile(latencies, 0.50).Microseconds()), "p50-µs")
	b.ReportMetric(float64(percentile(latencies, 0.99).Microseconds()), "p99-µs")
}

func BenchmarkPoolStartup(b *testing.B) {
	for b.Loop() {
		p, err := pool.NewPool(pool.WithWorkerCount(benchWorkers))
		if err != nil {
			b.Fatal(err)
		}
		if err := p.Close(); err != nil {
			b.Fatal(err)
		}
	}
}

func byteSize(n int) string {
	switch {
	case n >= 1<<20:
		return strconv.Itoa(n>>20) + "MiB"
	case n >= 1<<10:
		return strconv.Itoa(n>>10) + "KiB"
	default:
		return strconv.Itoa(n) + "B"
	}
}
