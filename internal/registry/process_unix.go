//go:build !windows

package registry

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive sends signal 0. EPERM means the process exists under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
