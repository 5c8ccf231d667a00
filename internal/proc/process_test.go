package proc

import (
	"os"
	"testing"
	"time"

	"github.com/utkarsh5026/procpool/internal/wire"
)

// TestMain turns the test binary into an echo worker when re-executed by
// Start.
func TestMain(m *testing.M) {
	if IsWorker() {
		os.Exit(echoWorker())
	}
	os.Exit(m.Run())
}

func echoWorker() int {
	conn, err := WorkerConn()
	if err != nil {
		return 2
	}
	for {
		msg, err := conn.Receive()
		if err != nil {
			return 0
		}
		switch msg.Kind {
		case wire.KindStop:
			_ = conn.Send(&wire.Message{Kind: wire.KindStopped})
			return 0
		case wire.KindTask:
			if msg.Func == "exit" {
				return 3
			}
			if msg.Func == "hang" {
				time.Sleep(time.Hour)
			}
			_ = conn.Send(&wire.Message{Kind: wire.KindResult, Seq: msg.Seq, Payload: msg.Payload, PID: os.Getpid()})
		}
	}
}

func TestStart_EchoAndStop(t *testing.T) {
	p, err := Start("echo-1", Spec{Daemon: true})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Close()

	if p.State() != StateRunning {
		t.Errorf("expected running state, got %v", p.State())
	}
	if p.PID() <= 0 {
		t.Errorf("expected positive PID, got %d", p.PID())
	}

	if err := p.Conn.Send(&wire.Message{Kind: wire.KindTask, Seq: 5, Payload: []byte("hi")}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	reply, err := p.Conn.Receive()
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if reply.Seq != 5 || string(reply.Payload) != "hi" {
		t.Errorf("unexpected reply: seq=%d payload=%q", reply.Seq, reply.Payload)
	}
	if reply.PID != p.PID() {
		t.Errorf("expected reply from pid %d, got %d", p.PID(), reply.PID)
	}

	if err := p.Conn.Send(&wire.Message{Kind: wire.KindStop}); err != nil {
		t.Fatalf("send stop failed: %v", err)
	}
	if !p.Wait(5 * time.Second) {
		t.Fatal("process did not exit after stop")
	}
	if p.State() != StateExited || p.ExitCode() != 0 {
		t.Errorf("expected clean exit, got %s", p.Describe())
	}
}

func TestStart_ExitCode(t *testing.T) {
	p, err := Start("echo-2", Spec{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Close()

	_ = p.Conn.Send(&wire.Message{Kind: wire.KindTask, Func: "exit"})
	if !p.Wait(5 * time.Second) {
		t.Fatal("process did not exit")
	}
	if p.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %d", p.ExitCode())
	}

	if _, err := p.Conn.Receive(); err == nil {
		t.Error("expected receive to fail after worker exit")
	}
}

func TestProcess_Kill(t *testing.T) {
	p, err := Start("echo-3", Spec{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Close()

	_ = p.Conn.Send(&wire.Message{Kind: wire.KindTask, Func: "hang"})
	if err := p.Kill(); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	if !p.Wait(5 * time.Second) {
		t.Fatal("process did not exit after kill")
	}
	if p.State() != StateKilled {
		t.Errorf("expected killed state, got %v", p.State())
	}
	if p.Signal() == "" {
		t.Error("expected signal name to be recorded")
	}
	if err := p.Kill(); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted after exit, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
