//go:build !windows

package logger

import "golang.org/x/sys/unix"

// isTerminal checks if the file descriptor is a terminal on Unix systems.
// Linux wants TCGETS, the BSDs and macOS want TIOCGETA; ioctlReadTermios
// picks the right one per platform (terminal_linux.go, terminal_bsd.go).
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	return err == nil
}
