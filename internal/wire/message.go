// Package wire implements the framed message protocol spoken between the
// pool parent and its worker processes.
//
// Every frame is a "Content-Length: N" header block followed by N bytes of
// gob-encoded Message. Payloads inside a message are opaque byte slices,
// themselves gob-encoded by the typed layer above (see Encode and Decode).
package wire

import (
	"fmt"
	"strings"
)

// Kind identifies the purpose of a Message.
type Kind int

const (
	// KindInit asks a fresh worker to run its initializer hook.
	KindInit Kind = iota + 1
	// KindReady is the worker's answer to a successful KindInit.
	KindReady
	// KindTask carries one chunk to execute.
	KindTask
	// KindResult carries the encoded outputs of one chunk.
	KindResult
	// KindFailure reports a failed init, task or stop.
	KindFailure
	// KindStop asks the worker to run its finalizer and exit.
	KindStop
	// KindStopped acknowledges KindStop right before exit.
	KindStopped
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindReady:
		return "ready"
	case KindTask:
		return "task"
	case KindResult:
		return "result"
	case KindFailure:
		return "failure"
	case KindStop:
		return "stop"
	case KindStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Message is the unit exchanged on a Conn.
type Message struct {
	Kind Kind

	// Seq is the chunk index for task/result/failure messages.
	Seq int

	// Func names the registered task function (KindTask) or hook
	// (KindInit, KindStop). Empty means "no hook".
	Func string

	// Payload holds the gob-encoded chunk inputs or outputs.
	Payload []byte

	// Failure is set on KindFailure.
	Failure *Failure

	// Worker identity, filled on KindInit (parent to worker) and echoed
	// back on KindReady.
	Slot     int
	WorkerID string
	PID      int
}

// FailureKind classifies a Failure.
type FailureKind int

const (
	// FailFunction means the task function returned an error.
	FailFunction FailureKind = iota + 1
	// FailPanic means the task function or hook panicked.
	FailPanic
	// FailHook means an initializer or finalizer returned an error.
	FailHook
	// FailCodec means a payload could not be encoded or decoded.
	FailCodec
	// FailUnknownFunc means the worker has no function under the given name.
	FailUnknownFunc
)

// String returns a human-readable failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailFunction:
		return "function"
	case FailPanic:
		return "panic"
	case FailHook:
		return "hook"
	case FailCodec:
		return "codec"
	case FailUnknownFunc:
		return "unknown-func"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Failure is the serializable description of an error raised inside a
// worker. Native Go errors do not survive the process boundary, so only
// the message, the dynamic type name and (optionally) a registered cause
// travel.
type Failure struct {
	Kind    FailureKind
	Message string
	Type    string

	// Element is the position inside the chunk that failed, or -1.
	Element int

	// Stack is set for panics.
	Stack string

	// Cause carries the original error when its concrete type was
	// registered with gob on both sides. Nil otherwise.
	Cause error
}

// Error implements error.
func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	if f.Element >= 0 {
		fmt.Fprintf(&b, " error at element %d", f.Element)
	} else {
		b.WriteString(" error")
	}
	if f.Type != "" {
		fmt.Fprintf(&b, " (%s)", f.Type)
	}
	b.WriteString(": ")
	b.WriteString(f.Message)
	return b.String()
}

// Unwrap returns the transported cause, if any.
func (f *Failure) Unwrap() error {
	return f.Cause
}
