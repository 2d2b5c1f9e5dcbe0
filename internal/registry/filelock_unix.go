//go:build !windows

package registry

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireFileLock takes a non-blocking exclusive flock on path.
func acquireFileLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening registry lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errWouldBlock
		}
		return nil, fmt.Errorf("locking registry: %w", err)
	}
	return f, nil
}

// releaseFileLock unlocks and closes the lock file. The file itself stays on
// disk: removing it would let a waiter lock an unlinked inode.
func releaseFileLock(f *os.File) error {
	if f == nil {
		return nil
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
