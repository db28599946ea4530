//go:build !linux

package logger

// isTerminal reports false on non-Linux builds; the appliance target is
// Linux and color output elsewhere is cosmetic only.
func isTerminal(fd uintptr) bool {
	return false
}
