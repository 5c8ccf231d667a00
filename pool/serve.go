package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/utkarsh5026/procpool/internal/proc"
	"github.com/utkarsh5026/procpool/internal/wire"
)

// ServeIfWorker turns the current process into a pool worker when it was
// started by a pool, and never returns in that case. In any other process it
// returns immediately.
//
// It must be the first statement of main, and of TestMain in tests that use
// pools, after every Register call has run (package-level registrations
// always have):
//
//	func main() {
//	    pool.ServeIfWorker()
//	    ...
//	}
func ServeIfWorker() {
	if !IsWorker() {
		return
	}
	os.Exit(serveWorker())
}

// IsWorker reports whether the current process is a pool worker.
func IsWorker() bool { return proc.IsWorker() }

func serveWorker() int {
	conn, err := proc.WorkerConn()
	if err != nil {
		fmt.Fprintf(os.Stderr, "procpool worker: %v\n", err)
		return 2
	}
	defer conn.Close()

	if err := serve(conn, os.Getpid()); err != nil {
		fmt.Fprintf(os.Stderr, "procpool worker: %v\n", err)
		return 1
	}
	return 0
}

// serve runs the worker side of the protocol until the parent sends Stop
// or goes away.
func serve(conn *wire.Conn, pid int) error {
	wc := &WorkerContext{PID: pid}
	ctx := withWorker(context.Background(), wc)

	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		var reply *wire.Message
		switch msg.Kind {
		case wire.KindInit:
			wc.Slot, wc.ID = msg.Slot, msg.WorkerID
			reply = &wire.Message{Kind: wire.KindReady, PID: pid}
			if f := callHook(ctx, msg.Func, wc); f != nil {
				reply = &wire.Message{Kind: wire.KindFailure, Failure: f}
			}

		case wire.KindTask:
			reply = runTask(ctx, msg)
			wc.Tasks++

		case wire.KindStop:
			reply = &wire.Message{Kind: wire.KindStopped, PID: pid}
			if f := callHook(ctx, msg.Func, wc); f != nil {
				reply = &wire.Message{Kind: wire.KindFailure, Failure: f}
			}
			return send(conn, reply)

		default:
			return fmt.Errorf("unexpected %s message", msg.Kind)
		}

		if err := send(conn, reply); err != nil {
			return err
		}
	}
}

func callHook(ctx context.Context, name string, wc *WorkerContext) *wire.Failure {
	if name == "" {
		return nil
	}
	h, ok := lookupHook(name)
	if !ok {
		return &wire.Failure{Kind: wire.FailUnknownFunc, Message: fmt.Sprintf("hook %q is not registered in the worker", name), Element: -1}
	}
	return runHook(ctx, h, wc)
}

func runTask(ctx context.Context, msg *wire.Message) *wire.Message {
	inv, ok := lookupFunc(msg.Func)
	if !ok {
		f := &wire.Failure{Kind: wire.FailUnknownFunc, Message: fmt.Sprintf("function %q is not registered in the worker", msg.Func), Element: -1}
		return &wire.Message{Kind: wire.KindFailure, Seq: msg.Seq, Failure: f}
	}

	out, f := inv(ctx, msg.Payload)
	if f != nil {
		return &wire.Message{Kind: wire.KindFailure, Seq: msg.Seq, Failure: f}
	}
	return &wire.Message{Kind: wire.KindResult, Seq: msg.Seq, Payload: out}
}

// send writes reply, retrying once without the failure cause when the
// cause turned out not to be encodable.
func send(conn *wire.Conn, reply *wire.Message) error {
	err := conn.Send(reply)
	if err != nil && reply.Failure != nil && reply.Failure.Cause != nil {
		reply.Failure.Cause = nil
		err = conn.Send(reply)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", reply.Kind, err)
	}
	return nil
}
