package pool

import (
	"context"
	"iter"

	"github.com/utkarsh5026/procpool/internal/chunk"
)

// Source is a pull-based producer of job input. Next returns the next
// element and true, or false once the source is exhausted; a non-nil error
// fails the job with ErrSource.
//
// Sources that also implement Len() int let the default chunk policy size
// chunks from the input length.
type Source[T any] = chunk.Source[T]

// ChunkPolicy decides the number of elements per chunk.
type ChunkPolicy = chunk.Policy

// AutoChunk is the default policy: ceil(n / (workers*4)) elements per chunk,
// or 8 when the length is unknown. Its fields override those defaults.
type AutoChunk = chunk.Auto

// FixedChunk always uses the same chunk size.
type FixedChunk = chunk.Fixed

// FromSlice returns a source over items.
func FromSlice[T any](items []T) Source[T] { return chunk.FromSlice(items) }

// FromChan returns a source draining ch until it is closed or ctx is done.
func FromChan[T any](ctx context.Context, ch <-chan T) Source[T] { return chunk.FromChan(ctx, ch) }

// FromSeq returns a source over an iterator.
func FromSeq[T any](seq iter.Seq[T]) Source[T] { return chunk.FromSeq(seq) }

// FromFunc returns a source backed by fn.
func FromFunc[T any](fn func() (T, bool, error)) Source[T] { return chunk.FromFunc(fn) }
