//go:build !linux && !windows

package cpu

// SetProcessAffinity is a no-op: CPU pinning is not available on this
// platform (macOS exposes no hard affinity).
func SetProcessAffinity(pid int, set Set) error {
	return nil
}

// ProcessAffinity is not available on this platform.
func ProcessAffinity(pid int) (Set, error) {
	return nil, nil
}

// Supported reports whether affinity control is available.
func Supported() bool { return false }
