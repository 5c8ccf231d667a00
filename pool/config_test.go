package pool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/utkarsh5026/procpool/internal/chunk"
	"github.com/utkarsh5026/procpool/internal/cpu"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
workers: 6
chunk_size: 50
max_active: 12
restart_after: 100
cpu_affinity: "0-2"
task_timeout: 30s
shutdown_timeout: 2s
daemon: false
`)

	c, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Workers != 6 || c.ChunkSize != 50 || c.MaxActive != 12 || c.RestartAfter != 100 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.TaskTimeout != 30*time.Second || c.ShutdownTimeout != 2*time.Second {
		t.Errorf("unexpected durations: %v %v", c.TaskTimeout, c.ShutdownTimeout)
	}
	if c.Daemon == nil || *c.Daemon {
		t.Errorf("expected daemon=false, got %v", c.Daemon)
	}

	cfg := createConfig(c.Options()...)
	if cfg.workerCount != 6 {
		t.Errorf("expected 6 workers, got %d", cfg.workerCount)
	}
	if cfg.chunkPolicy != chunk.Fixed(50) {
		t.Errorf("expected fixed chunk policy, got %v", cfg.chunkPolicy)
	}
	if cfg.maxActive != 12 || cfg.restartAfter != 100 {
		t.Errorf("unexpected config: max active %d restart after %d", cfg.maxActive, cfg.restartAfter)
	}
	if cfg.taskTimeout != 30*time.Second || cfg.shutdownTimeout != 2*time.Second {
		t.Errorf("unexpected timeouts: %v %v", cfg.taskTimeout, cfg.shutdownTimeout)
	}
	if cfg.daemon {
		t.Error("expected daemon disabled")
	}
	if len(cfg.cpuSets) != 3 || cfg.cpuSets[2].String() != "2" {
		t.Errorf("expected one cpu per slot, got %v", cfg.cpuSets)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "negative workers", yaml: "workers: -1"},
		{name: "negative chunk size", yaml: "chunk_size: -5"},
		{name: "negative max active", yaml: "max_active: -2"},
		{name: "negative restart", yaml: "restart_after: -1"},
		{name: "negative timeout", yaml: "task_timeout: -1s"},
		{name: "bad cpu list", yaml: `cpu_affinity: "3-1"`},
		{name: "bad cpu set", yaml: "cpu_sets: [\"0-1\", \"x\"]"},
		{name: "bad duration", yaml: "task_timeout: soon"},
		{name: "not yaml", yaml: "workers: [1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.yaml)); err == nil {
				t.Errorf("expected error for %q", tt.yaml)
			}
		})
	}
}

func TestConfig_CPUOptions(t *testing.T) {
	c := &Config{CPUSets: []string{"0-1", "2-3"}, CPUAffinity: "auto"}
	cfg := createConfig(c.Options()...)
	if len(cfg.cpuSets) != 2 || cfg.cpuSets[1].String() != "2-3" {
		t.Errorf("expected explicit sets to win, got %v", cfg.cpuSets)
	}

	c = &Config{CPUAffinity: "auto"}
	cfg = createConfig(c.Options()...)
	if len(cfg.cpuSets) != cpu.GetNumCPU() {
		t.Errorf("expected one set per cpu, got %d", len(cfg.cpuSets))
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	if err := os.WriteFile(path, []byte("workers: 3\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", c.Workers)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCreateConfig_Defaults(t *testing.T) {
	cfg := createConfig()
	if cfg.workerCount <= 0 {
		t.Errorf("expected positive default worker count, got %d", cfg.workerCount)
	}
	if !cfg.daemon {
		t.Error("workers should be daemons by default")
	}
	if _, ok := cfg.chunkPolicy.(chunk.Auto); !ok {
		t.Errorf("expected auto chunk policy, got %T", cfg.chunkPolicy)
	}
	if cfg.activeCap(4) != 4 {
		t.Errorf("expected default cap to equal worker count, got %d", cfg.activeCap(4))
	}

	jc, err := cfg.jobConfig(WithMaxActive(MaxActiveAuto), WithChunkSize(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jc.activeCap(4) != 8 {
		t.Errorf("expected auto cap of 8, got %d", jc.activeCap(4))
	}
	if cfg.maxActive != 0 {
		t.Error("job options must not leak into the pool config")
	}
}

func TestJobConfig_RejectsPoolOptions(t *testing.T) {
	hook := &Hook{name: "test.none"}
	tests := []struct {
		name string
		opt  Option
	}{
		{"worker count", WithWorkerCount(2)},
		{"cpu affinity", WithCPUAffinity(true)},
		{"cpu sets", WithCPUSets([]int{0})},
		{"restart after", WithRestartAfter(3)},
		{"initializer", WithInitializer(hook)},
		{"finalizer", WithFinalizer(hook)},
		{"daemon", WithDaemon(false)},
		{"worker command", WithWorkerCommand("/bin/true")},
		{"spawn retry", WithSpawnRetry(2, time.Millisecond, time.Second)},
		{"shutdown timeout", WithShutdownTimeout(time.Second)},
		{"event hook", WithEventHook(func(WorkerEvent) {})},
	}

	// pool options recorded at creation must not poison later jobs
	cfg := createConfig(WithWorkerCount(2), WithRestartAfter(5))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cfg.jobConfig(WithChunkSize(2), tt.opt)
			if !errors.Is(err, ErrPoolOption) {
				t.Fatalf("expected ErrPoolOption, got %v", err)
			}
		})
	}

	if _, err := cfg.jobConfig(WithChunkSize(2), WithTaskTimeout(time.Second)); err != nil {
		t.Errorf("job options must be accepted, got %v", err)
	}
}
