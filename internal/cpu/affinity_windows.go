//go:build windows

package cpu

import (
	"syscall"
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	setProcessAffinityMask = kernel32.NewProc("SetProcessAffinityMask")
)

const processSetInformation = 0x0200

// SetProcessAffinity restricts the process pid to the CPUs in set.
// Only the first 64 CPUs can be addressed through a single mask; larger
// ids are ignored.
func SetProcessAffinity(pid int, set Set) error {
	if len(set) == 0 {
		return nil
	}

	var mask uintptr
	for _, id := range set {
		if id >= 0 && id < 64 {
			mask |= 1 << uint(id)
		}
	}

	handle, err := syscall.OpenProcess(processSetInformation, false, uint32(pid))
	if err != nil {
		return err
	}
	defer syscall.CloseHandle(handle)

	ok, _, callErr := setProcessAffinityMask.Call(uintptr(handle), mask)
	if ok == 0 {
		return callErr
	}
	return nil
}

// ProcessAffinity is not implemented on Windows.
func ProcessAffinity(pid int) (Set, error) {
	return nil, nil
}

// Supported reports whether affinity control is available.
func Supported() bool { return true }
