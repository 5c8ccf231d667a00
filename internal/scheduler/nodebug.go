//go:build !debug

package scheduler

func debugLog(string, ...interface{}) {}
