package pool

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/utkarsh5026/procpool/internal/wire"
)

// invoker runs one encoded chunk through a registered function.
type invoker func(ctx context.Context, payload []byte) ([]byte, *wire.Failure)

var registry = struct {
	sync.RWMutex
	funcs  map[string]invoker
	hooks  map[string]HookFunc
	errors map[reflect.Type]bool
}{
	funcs:  make(map[string]invoker),
	hooks:  make(map[string]HookFunc),
	errors: make(map[reflect.Type]bool),
}

// Func is a handle to a registered function, used to submit jobs.
type Func[T, R any] struct {
	name string
}

// Name returns the name the function was registered under.
func (f *Func[T, R]) Name() string { return f.name }

// Register makes fn callable from worker processes under name and returns
// the handle used to submit jobs.
//
// Registration must happen identically in the parent and the workers, which
// is the case for package-level variables:
//
//	var square = pool.Register("square", func(ctx context.Context, n int) (int, error) {
//	    return n * n, nil
//	})
//
// T and R cross the process boundary with encoding/gob, so they must be
// gob-encodable. Register panics if name is already taken.
func Register[T, R any](name string, fn ProcessFunc[T, R]) *Func[T, R] {
	if fn == nil {
		panic("pool: Register called with nil function")
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.funcs[name]; dup {
		panic(fmt.Sprintf("pool: function %q registered twice", name))
	}
	registry.funcs[name] = newInvoker(fn)
	return &Func[T, R]{name: name}
}

// Hook is a handle to a registered initializer or finalizer.
type Hook struct {
	name string
}

// Name returns the name the hook was registered under. It is empty for a
// nil hook.
func (h *Hook) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// RegisterHook makes fn usable as a worker initializer or finalizer, see
// WithInitializer and WithFinalizer. It panics if name is already taken.
func RegisterHook(name string, fn HookFunc) *Hook {
	if fn == nil {
		panic("pool: RegisterHook called with nil function")
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.hooks[name]; dup {
		panic(fmt.Sprintf("pool: hook %q registered twice", name))
	}
	registry.hooks[name] = fn
	return &Hook{name: name}
}

// RegisterError lets errors of err's concrete type travel back from
// workers intact, so errors.Is and errors.As see them through
// FunctionError. The type must be gob-encodable.
func RegisterError(err error) {
	gob.Register(err)

	registry.Lock()
	defer registry.Unlock()
	registry.errors[reflect.TypeOf(err)] = true
}

func lookupFunc(name string) (invoker, bool) {
	registry.RLock()
	defer registry.RUnlock()
	inv, ok := registry.funcs[name]
	return inv, ok
}

func lookupHook(name string) (HookFunc, bool) {
	registry.RLock()
	defer registry.RUnlock()
	h, ok := registry.hooks[name]
	return h, ok
}

// transportable returns the first error in err's chain whose type was
// registered with RegisterError.
func transportable(err error) error {
	registry.RLock()
	defer registry.RUnlock()
	if len(registry.errors) == 0 {
		return nil
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if registry.errors[reflect.TypeOf(e)] {
			return e
		}
	}
	return nil
}

func newInvoker[T, R any](fn ProcessFunc[T, R]) invoker {
	return func(ctx context.Context, payload []byte) ([]byte, *wire.Failure) {
		items, err := wire.Decode[[]T](payload)
		if err != nil {
			return nil, codecFailure("decode chunk", err)
		}

		results := make([]R, len(items))
		for i, item := range items {
			r, f := callWithRecovery(ctx, fn, item)
			if f != nil {
				f.Element = i
				return nil, f
			}
			results[i] = r
		}

		out, err := wire.Encode(results)
		if err != nil {
			return nil, codecFailure("encode results", err)
		}
		return out, nil
	}
}

// callWithRecovery runs fn, converting a returned error or a panic into a
// Failure.
func callWithRecovery[T, R any](ctx context.Context, fn ProcessFunc[T, R], item T) (result R, f *wire.Failure) {
	defer func() {
		if r := recover(); r != nil {
			f = panicFailure(r)
		}
	}()

	result, err := fn(ctx, item)
	if err != nil {
		return result, errorFailure(wire.FailFunction, err)
	}
	return result, nil
}

// runHook runs h with panic recovery.
func runHook(ctx context.Context, h HookFunc, wc *WorkerContext) (f *wire.Failure) {
	defer func() {
		if r := recover(); r != nil {
			f = panicFailure(r)
		}
	}()

	if err := h(ctx, wc); err != nil {
		return errorFailure(wire.FailHook, err)
	}
	return nil
}

func errorFailure(kind wire.FailureKind, err error) *wire.Failure {
	return &wire.Failure{
		Kind:    kind,
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", err),
		Element: -1,
		Cause:   transportable(err),
	}
}

func panicFailure(r any) *wire.Failure {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return &wire.Failure{
		Kind:    wire.FailPanic,
		Message: fmt.Sprintf("worker panic: %v", r),
		Type:    fmt.Sprintf("%T", r),
		Element: -1,
		Stack:   string(buf[:n]),
	}
}

func codecFailure(what string, err error) *wire.Failure {
	return &wire.Failure{
		Kind:    wire.FailCodec,
		Message: fmt.Sprintf("%s: %v", what, err),
		Element: -1,
	}
}
