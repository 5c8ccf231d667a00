package chunk

// Chunk is a contiguous run of input items.
type Chunk[T any] struct {
	// Index is the chunk's position in the stream, starting at 0.
	Index int
	// Offset is the input position of Items[0].
	Offset int
	Items  []T
}

// Len returns the number of items in the chunk.
func (c Chunk[T]) Len() int { return len(c.Items) }

// Chunker lazily cuts a Source into chunks of a fixed size.
// It is not safe for concurrent use.
type Chunker[T any] struct {
	src    Source[T]
	slicer Slicer[T]
	length int
	size   int

	index  int
	offset int
	err    error
	done   bool
}

// New returns a chunker over src that emits chunks of size items (the
// last one may be shorter). Size is clamped to at least 1.
func New[T any](src Source[T], size int) *Chunker[T] {
	c := &Chunker[T]{
		src:    src,
		length: Len(src),
		size:   max(size, 1),
	}
	if s, ok := src.(Slicer[T]); ok && c.length >= 0 {
		c.slicer = s
	}
	return c
}

// Stop releases the source when it implements Stopper. The chunker
// reports exhaustion afterwards.
func (c *Chunker[T]) Stop() {
	c.done = true
	if s, ok := c.src.(Stopper); ok {
		s.Stop()
	}
}

// Size returns the configured chunk size.
func (c *Chunker[T]) Size() int { return c.size }

// Next returns the next chunk. It returns false when the source is
// exhausted. A source error is returned once and every later call returns
// it again.
func (c *Chunker[T]) Next() (Chunk[T], bool, error) {
	if c.err != nil {
		return Chunk[T]{}, false, c.err
	}
	if c.done {
		return Chunk[T]{}, false, nil
	}

	if c.slicer != nil {
		return c.nextSlice()
	}

	items := make([]T, 0, c.size)
	for len(items) < c.size {
		v, ok, err := c.src.Next()
		if err != nil {
			c.err = err
			return Chunk[T]{}, false, err
		}
		if !ok {
			c.done = true
			break
		}
		items = append(items, v)
	}

	if len(items) == 0 {
		return Chunk[T]{}, false, nil
	}
	return c.emit(items), true, nil
}

func (c *Chunker[T]) nextSlice() (Chunk[T], bool, error) {
	if c.offset >= c.length {
		c.done = true
		return Chunk[T]{}, false, nil
	}
	end := min(c.offset+c.size, c.length)
	return c.emit(c.slicer.Slice(c.offset, end)), true, nil
}

func (c *Chunker[T]) emit(items []T) Chunk[T] {
	ch := Chunk[T]{Index: c.index, Offset: c.offset, Items: items}
	c.index++
	c.offset += len(items)
	return ch
}

// Count returns how many chunks a source of n items produces at size.
// n < 0 yields -1.
func Count(n, size int) int {
	if n < 0 {
		return -1
	}
	size = max(size, 1)
	return (n + size - 1) / size
}
