package chunk

// Policy decides how many items go into one chunk.
type Policy interface {
	// Size returns the chunk size for n items spread over the given number
	// of workers. n < 0 means the length is unknown. The result is >= 1.
	Size(n, workers int) int
}

// Fixed is a policy that always returns the same chunk size.
type Fixed int

// Size returns k, or 1 when k is not positive.
func (k Fixed) Size(int, int) int {
	return max(int(k), 1)
}

// Auto sizes chunks as ceil(n / (workers*Factor)).
//
// Zero fields fall back to Factor 4, Min 1 and Unknown 8. A zero Max
// means unbounded.
type Auto struct {
	Factor  int
	Min     int
	Max     int
	Unknown int
}

// Default auto policy values.
const (
	DefaultFactor      = 4
	DefaultUnknownSize = 8
)

// Size implements Policy.
func (a Auto) Size(n, workers int) int {
	factor := a.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}
	lo := max(a.Min, 1)

	var size int
	switch {
	case n < 0:
		size = a.Unknown
		if size <= 0 {
			size = DefaultUnknownSize
		}
	case n == 0:
		size = lo
	default:
		div := max(workers, 1) * factor
		size = (n + div - 1) / div
	}

	size = max(size, lo)
	if a.Max > 0 {
		size = min(size, a.Max)
	}
	return max(size, 1)
}
