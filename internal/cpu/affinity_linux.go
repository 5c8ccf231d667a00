//go:build linux

package cpu

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// maxCPUs is the capacity of unix.CPUSet.
const maxCPUs = 1024

// SetProcessAffinity restricts the process pid to the CPUs in set.
// Ids that do not fit a kernel CPU mask are ignored. An empty set is a no-op.
//
// sched_setaffinity applies per thread, and a Go process has several
// threads before main runs, so every thread listed under /proc/<pid>/task
// is pinned. Threads created later inherit the mask from their creator.
func SetProcessAffinity(pid int, set Set) error {
	if len(set) == 0 {
		return nil
	}

	var mask unix.CPUSet
	mask.Zero()
	for _, id := range set {
		if id >= 0 && id < maxCPUs {
			mask.Set(id)
		}
	}

	if err := unix.SchedSetaffinity(pid, &mask); err != nil {
		return err
	}

	entries, err := os.ReadDir("/proc/" + strconv.Itoa(pid) + "/task")
	if err != nil {
		return nil
	}
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil || tid == pid {
			continue
		}
		// threads may exit between listing and pinning
		_ = unix.SchedSetaffinity(tid, &mask)
	}
	return nil
}

// ProcessAffinity returns the CPUs the main thread of pid may run on.
func ProcessAffinity(pid int) (Set, error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &mask); err != nil {
		return nil, err
	}

	var out Set
	want := mask.Count()
	for id := 0; id < maxCPUs && len(out) < want; id++ {
		if mask.IsSet(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Supported reports whether affinity control is available.
func Supported() bool { return true }
