package pool

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/utkarsh5026/procpool/internal/cpu"
)

func TestRestartAfter_FreshProcess(t *testing.T) {
	p := newTestPool(t, WithWorkerCount(1), WithRestartAfter(3))

	pids, err := Map(context.Background(), p, workerPID, ints(9), WithChunkSize(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < len(pids); i += 3 {
		if pids[i] != pids[i+1] || pids[i] != pids[i+2] {
			t.Errorf("chunks %d-%d ran on different workers: %v", i, i+2, pids[i:i+3])
		}
		if i > 0 && pids[i] == pids[i-1] {
			t.Errorf("chunk %d should run on a fresh worker, pid %d reused", i, pids[i])
		}
	}
}

func TestInitializer_StateVisibleToTasks(t *testing.T) {
	p := newTestPool(t, WithWorkerCount(1), WithInitializer(initState))

	out, err := Map(context.Background(), p, workerState, ints(4), WithChunkSize(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id := p.Workers()[0].ID
	for i, s := range out {
		want := "init:" + id + "|" + strconv.Itoa(i)
		if s != want {
			t.Errorf("call %d: expected %q, got %q", i, want, s)
		}
	}
}

func TestInitializer_RunsOnReplacement(t *testing.T) {
	p := newTestPool(t, WithWorkerCount(1), WithInitializer(initState), WithRestartAfter(2))

	out, err := Map(context.Background(), p, workerState, ints(4), WithChunkSize(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, s := range out {
		if !strings.HasPrefix(s, "init:") {
			t.Errorf("call %d: initializer state missing: %q", i, s)
		}
		// task counter restarts with each fresh worker
		if !strings.HasSuffix(s, "|"+strconv.Itoa(i%2)) {
			t.Errorf("call %d: unexpected task counter in %q", i, s)
		}
	}
	if out[0][:len(out[0])-2] == out[2][:len(out[2])-2] {
		t.Error("replacement worker reused the old worker identity")
	}
}

func TestFinalizer_RunsOnClose(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envFinalDir, dir)

	p, err := NewPool(WithWorkerCount(2), WithFinalizer(writeMarker))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Map(context.Background(), p, square, ints(10), WithChunkSize(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pids := make(map[int]bool)
	for _, w := range p.Workers() {
		pids[w.PID] = true
	}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 finalizer markers, got %d", len(entries))
	}

	tasks := 0
	for _, e := range entries {
		pid, _ := strconv.Atoi(e.Name())
		if !pids[pid] {
			t.Errorf("marker from unknown worker %s", e.Name())
		}
		data, _ := os.ReadFile(dir + "/" + e.Name())
		n, _ := strconv.Atoi(string(data))
		tasks += n
	}
	if tasks != 10 {
		t.Errorf("finalizers saw %d tasks in total, expected 10", tasks)
	}
}

func TestFinalizer_RunsOnRestart(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envFinalDir, dir)

	p := newTestPool(t, WithWorkerCount(1), WithFinalizer(writeMarker), WithRestartAfter(2))
	if _, err := Map(context.Background(), p, square, ints(4), WithChunkSize(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ := os.ReadDir(dir)
		if len(entries) >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("expected a finalizer marker for each retired worker")
}

func TestPool_Restart(t *testing.T) {
	p := newTestPool(t, WithWorkerCount(1))

	before := p.Workers()[0].PID
	if err := p.Restart(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pid, err := Apply(context.Background(), p, workerPID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid == before {
		t.Errorf("expected a new worker after Restart, still pid %d", pid)
	}
	if got := p.Workers()[0].Restarts; got != 1 {
		t.Errorf("expected 1 restart, got %d", got)
	}
}

func TestCPUAffinity(t *testing.T) {
	if !cpu.Supported() {
		t.Skip("cpu affinity not supported on this platform")
	}
	self, err := cpu.ProcessAffinity(os.Getpid())
	if err != nil || len(self) == 0 {
		t.Skip("cannot read own affinity")
	}

	target := self[0]
	p := newTestPool(t, WithWorkerCount(2), WithCPUSets([]int{target}))

	for _, w := range p.Workers() {
		if len(w.CPUs) != 1 || w.CPUs[0] != target {
			t.Errorf("slot %d: expected cpus [%d], got %v", w.Slot, target, w.CPUs)
		}
		got, err := cpu.ProcessAffinity(w.PID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil {
			continue
		}
		if len(got) != 1 || got[0] != target {
			t.Errorf("slot %d: worker pinned to %v, expected [%d]", w.Slot, got, target)
		}
	}

	if _, err := Map(context.Background(), p, square, ints(20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
