package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/utkarsh5026/procpool/internal/algorithms"
	"github.com/utkarsh5026/procpool/internal/proc"
	"github.com/utkarsh5026/procpool/internal/wire"
)

const (
	envFailMarker  = "SUPERVISOR_TEST_FAIL_MARKER"
	envFinalMarker = "SUPERVISOR_TEST_FINAL_MARKER"
)

func TestMain(m *testing.M) {
	if proc.IsWorker() {
		os.Exit(testWorker())
	}
	os.Exit(m.Run())
}

// testWorker speaks the worker side of the protocol with a few canned
// behaviours selected by function name.
func testWorker() int {
	conn, err := proc.WorkerConn()
	if err != nil {
		return 2
	}
	for {
		msg, err := conn.Receive()
		if err != nil {
			return 0
		}
		switch msg.Kind {
		case wire.KindInit:
			if marker := os.Getenv(envFailMarker); marker != "" {
				if _, err := os.Stat(marker); err == nil {
					_ = conn.Send(&wire.Message{Kind: wire.KindFailure, Failure: &wire.Failure{Kind: wire.FailHook, Message: "marker present"}})
					continue
				}
			}
			if msg.Func == "fail-init" {
				_ = conn.Send(&wire.Message{Kind: wire.KindFailure, Failure: &wire.Failure{Kind: wire.FailHook, Message: "init refused"}})
				continue
			}
			_ = conn.Send(&wire.Message{Kind: wire.KindReady, PID: os.Getpid()})
		case wire.KindTask:
			switch msg.Func {
			case "exit":
				return 3
			case "hang":
				time.Sleep(time.Hour)
			case "fail":
				_ = conn.Send(&wire.Message{Kind: wire.KindFailure, Seq: msg.Seq, Failure: &wire.Failure{Kind: wire.FailFunction, Message: "bad input", Element: 1}})
				continue
			}
			_ = conn.Send(&wire.Message{Kind: wire.KindResult, Seq: msg.Seq, Payload: msg.Payload, PID: os.Getpid()})
		case wire.KindStop:
			if msg.Func != "" {
				if marker := os.Getenv(envFinalMarker); marker != "" {
					_ = os.WriteFile(marker, []byte(msg.Func), 0o600)
				}
			}
			_ = conn.Send(&wire.Message{Kind: wire.KindStopped})
			return 0
		}
	}
}

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	if cfg.Backoff == nil {
		cfg.Backoff = algorithms.NewBackoffStrategy(algorithms.BackoffExponential, time.Millisecond, 10*time.Millisecond, 0)
	}
	cfg.Spec.Daemon = true
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(s.Terminate)
	return s
}

func acquire(t *testing.T, s *Supervisor) *Worker {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	return w
}

func TestSupervisor_RunAndRelease(t *testing.T) {
	s := newTestSupervisor(t, Config{Size: 2})

	if s.Size() != 2 {
		t.Fatalf("expected 2 slots, got %d", s.Size())
	}

	w := acquire(t, s)
	if w.State() != StateBusy {
		t.Errorf("expected busy worker, got %v", w.State())
	}

	out, err := w.Run(context.Background(), "echo", 7, []byte("payload"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "payload" {
		t.Errorf("expected echoed payload, got %q", out)
	}
	if w.Tasks() != 1 {
		t.Errorf("expected 1 task, got %d", w.Tasks())
	}
	s.Release(w, nil)

	for _, info := range s.Snapshot() {
		if info.State != StateReady {
			t.Errorf("slot %d: expected ready, got %v", info.Slot, info.State)
		}
		if info.PID <= 0 || info.ID == "" {
			t.Errorf("slot %d: missing identity %+v", info.Slot, info)
		}
	}
}

func TestSupervisor_FunctionFailure(t *testing.T) {
	s := newTestSupervisor(t, Config{Size: 1})

	w := acquire(t, s)
	pid := w.PID()
	_, err := w.Run(context.Background(), "fail", 0, nil, 0)

	var failure *wire.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *wire.Failure, got %T (%v)", err, err)
	}
	if failure.Element != 1 || failure.Message != "bad input" {
		t.Errorf("unexpected failure: %+v", failure)
	}
	s.Release(w, err)

	// a function failure keeps the worker
	w = acquire(t, s)
	if w.PID() != pid {
		t.Errorf("expected same worker pid %d, got %d", pid, w.PID())
	}
	s.Release(w, nil)
}

func TestSupervisor_RestartAfter(t *testing.T) {
	s := newTestSupervisor(t, Config{Size: 1, RestartAfter: 2})

	w := acquire(t, s)
	first := w.PID()
	for i := range 2 {
		if _, err := w.Run(context.Background(), "echo", i, nil, 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	s.Release(w, nil)

	w = acquire(t, s)
	if w.PID() == first {
		t.Errorf("expected a fresh process after restart, got same pid %d", first)
	}
	if w.Tasks() != 0 {
		t.Errorf("expected task counter reset, got %d", w.Tasks())
	}
	s.Release(w, nil)

	if got := s.Snapshot()[0].Restarts; got != 1 {
		t.Errorf("expected 1 restart, got %d", got)
	}
}

func TestSupervisor_Death(t *testing.T) {
	var (
		mu     sync.Mutex
		events []EventKind
	)
	s := newTestSupervisor(t, Config{Size: 1, OnEvent: func(ev Event) {
		mu.Lock()
		events = append(events, ev.Kind)
		mu.Unlock()
	}})

	w := acquire(t, s)
	first := w.PID()
	_, err := w.Run(context.Background(), "exit", 0, nil, 0)

	var death *Death
	if !errors.As(err, &death) {
		t.Fatalf("expected *Death, got %T (%v)", err, err)
	}
	if !errors.Is(err, ErrWorkerDied) {
		t.Errorf("expected ErrWorkerDied cause, got %v", death.Cause)
	}
	if death.ExitCode != 3 || death.PID != first {
		t.Errorf("unexpected death record: %+v", death)
	}
	s.Release(w, err)

	w = acquire(t, s)
	if w.PID() == first {
		t.Error("expected replacement worker")
	}
	if _, err := w.Run(context.Background(), "echo", 1, []byte("x"), 0); err != nil {
		t.Fatalf("replacement failed: %v", err)
	}
	s.Release(w, nil)

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, k := range events {
		if k == EventDeath {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a death event, got %v", events)
	}
}

func TestSupervisor_Timeout(t *testing.T) {
	s := newTestSupervisor(t, Config{Size: 1})

	w := acquire(t, s)
	start := time.Now()
	_, err := w.Run(context.Background(), "hang", 0, nil, 100*time.Millisecond)
	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
	s.Release(w, err)

	w = acquire(t, s)
	if _, err := w.Run(context.Background(), "echo", 1, nil, time.Second); err != nil {
		t.Fatalf("replacement failed: %v", err)
	}
	s.Release(w, nil)
}

func TestSupervisor_RunCancelled(t *testing.T) {
	s := newTestSupervisor(t, Config{Size: 1})

	ctx, cancel := context.WithCancel(context.Background())
	w := acquire(t, s)
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := w.Run(ctx, "hang", 0, nil, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !w.Killed() {
		t.Error("expected cancelled worker to be killed")
	}
	s.Release(w, err)

	w = acquire(t, s)
	s.Release(w, nil)
}

func TestSupervisor_InitFailure(t *testing.T) {
	_, err := New(context.Background(), Config{
		Size:          2,
		Init:          "fail-init",
		SpawnAttempts: 2,
		Backoff:       algorithms.NewBackoffStrategy(algorithms.BackoffExponential, time.Millisecond, time.Millisecond, 0),
	})
	if err == nil {
		t.Fatal("expected error from failing initializer")
	}

	var failure *wire.Failure
	if !errors.As(err, &failure) || failure.Message != "init refused" {
		t.Errorf("expected init failure to be wrapped, got %v", err)
	}
}

func TestSupervisor_Exhausted(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "fail")
	s := newTestSupervisor(t, Config{
		Size:          1,
		SpawnAttempts: 2,
		Spec:          proc.Spec{Env: []string{envFailMarker + "=" + marker}},
	})

	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := acquire(t, s)
	_, err := w.Run(context.Background(), "exit", 0, nil, 0)
	s.Release(w, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.Acquire(ctx); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	info := s.Snapshot()[0]
	if info.State != StateDead || info.Err == nil {
		t.Errorf("expected dead slot with error, got %+v", info)
	}
	if err := s.Restart(0); err == nil {
		t.Error("expected restart of a dead slot to fail")
	}
}

func TestSupervisor_Restart(t *testing.T) {
	s := newTestSupervisor(t, Config{Size: 1})

	first := s.Snapshot()[0].PID
	if err := s.Restart(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Restart(5); !errors.Is(err, ErrNoSuchSlot) {
		t.Errorf("expected ErrNoSuchSlot, got %v", err)
	}

	w := acquire(t, s)
	if w.PID() == first {
		t.Error("expected restarted slot to have a new pid")
	}
	s.Release(w, nil)
}

func TestSupervisor_ShutdownRunsFinalizer(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "final")
	s, err := New(context.Background(), Config{
		Size:     1,
		Finalize: "cleanup",
		Spec:     proc.Spec{Env: []string{envFinalMarker + "=" + marker}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("finalizer did not run: %v", err)
	}
	if string(data) != "cleanup" {
		t.Errorf("expected finalizer name, got %q", data)
	}

	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
	if err := s.Shutdown(time.Second); err != nil {
		t.Errorf("second shutdown should be a no-op, got %v", err)
	}
}

func TestNew_InvalidSize(t *testing.T) {
	if _, err := New(context.Background(), Config{Size: 0}); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateBusy, "busy"},
		{StateRestarting, "restarting"},
		{StateDead, "dead"},
		{State(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
