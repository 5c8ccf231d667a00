// Package chunk splits an input stream into contiguous, ordered chunks.
package chunk

import (
	"context"
	"iter"
)

// Source is a pull-based producer of items.
//
// Next returns the next item and true, or the zero value and false once
// the source is exhausted. A non-nil error is terminal.
type Source[T any] interface {
	Next() (T, bool, error)
}

// Sized is implemented by sources that know their length up front.
type Sized interface {
	Len() int
}

// Stopper is implemented by sources that hold resources which must be
// released when the consumer stops before the source is exhausted.
type Stopper interface {
	Stop()
}

// Slicer is implemented by random-access sources. Slice returns items
// [i, j) without copying.
type Slicer[T any] interface {
	Slice(i, j int) []T
}

// sliceSource is the random-access source over an in-memory slice.
type sliceSource[T any] struct {
	items []T
	pos   int
}

// FromSlice returns a source over items. Chunks taken from it share the
// backing array of items.
func FromSlice[T any](items []T) Source[T] {
	return &sliceSource[T]{items: items}
}

func (s *sliceSource[T]) Next() (T, bool, error) {
	var zero T
	if s.pos >= len(s.items) {
		return zero, false, nil
	}
	v := s.items[s.pos]
	s.pos++
	return v, true, nil
}

func (s *sliceSource[T]) Len() int { return len(s.items) }

func (s *sliceSource[T]) Slice(i, j int) []T { return s.items[i:j:j] }

type chanSource[T any] struct {
	ctx context.Context
	ch  <-chan T
}

// FromChan returns a source that drains ch until it is closed or ctx is
// done.
func FromChan[T any](ctx context.Context, ch <-chan T) Source[T] {
	return &chanSource[T]{ctx: ctx, ch: ch}
}

func (s *chanSource[T]) Next() (T, bool, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		return v, ok, nil
	case <-s.ctx.Done():
		return zero, false, s.ctx.Err()
	}
}

type seqSource[T any] struct {
	next func() (T, bool)
	stop func()
}

// FromSeq adapts an iterator. The iterator is stopped once it is
// exhausted or Stop is called, whichever comes first.
func FromSeq[T any](seq iter.Seq[T]) Source[T] {
	next, stop := iter.Pull(seq)
	return &seqSource[T]{next: next, stop: stop}
}

func (s *seqSource[T]) Next() (T, bool, error) {
	v, ok := s.next()
	if !ok {
		s.stop()
	}
	return v, ok, nil
}

// Stop ends the iterator early. It is safe to call more than once and
// after exhaustion; Next reports exhaustion afterwards.
func (s *seqSource[T]) Stop() { s.stop() }

// Func adapts a plain function to Source.
type Func[T any] func() (T, bool, error)

// Next calls f.
func (f Func[T]) Next() (T, bool, error) { return f() }

// FromFunc returns a source backed by fn.
func FromFunc[T any](fn func() (T, bool, error)) Source[T] {
	return Func[T](fn)
}

// Len returns the length of src if it is Sized, or -1.
func Len[T any](src Source[T]) int {
	if s, ok := src.(Sized); ok {
		return s.Len()
	}
	return -1
}
