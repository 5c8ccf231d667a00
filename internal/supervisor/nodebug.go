//go:build !debug

package supervisor

func debugLog(string, ...interface{}) {}
