package cpu

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Set is an ordered list of CPU ids.
type Set []int

// String renders the set in list notation, collapsing runs ("0-3,6").
func (s Set) String() string {
	if len(s) == 0 {
		return ""
	}
	ids := append(Set(nil), s...)
	sort.Ints(ids)

	var parts []string
	start, prev := ids[0], ids[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, id := range ids[1:] {
		if id == prev || id == prev+1 {
			prev = id
			continue
		}
		flush()
		start, prev = id, id
	}
	flush()
	return strings.Join(parts, ",")
}

// ParseList parses list notation such as "0-3,6,8-9" into a Set.
// Duplicates are removed and order of first appearance is kept.
func ParseList(spec string) (Set, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var out Set
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("cpu list %q: empty element", spec)
		}

		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || first < 0 {
			return nil, fmt.Errorf("cpu list %q: invalid cpu %q", spec, lo)
		}
		if !isRange {
			add(first)
			continue
		}

		last, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil || last < first {
			return nil, fmt.Errorf("cpu list %q: invalid range %q", spec, part)
		}
		for id := first; id <= last; id++ {
			add(id)
		}
	}
	return out, nil
}

// Singles turns a list of CPU ids into one single-CPU set per id.
func Singles(ids ...int) []Set {
	sets := make([]Set, 0, len(ids))
	for _, id := range ids {
		sets = append(sets, Set{id})
	}
	return sets
}

// ForSlot picks the set for a worker slot, round-robin over sets.
// It returns nil when no sets are configured.
func ForSlot(slot int, sets []Set) Set {
	if len(sets) == 0 || slot < 0 {
		return nil
	}
	return sets[slot%len(sets)]
}

// GetNumCPU returns the number of logical CPUs available.
func GetNumCPU() int {
	return runtime.NumCPU()
}
