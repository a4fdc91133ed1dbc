//go:build !windows

package session

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile acquires an exclusive lock on f, returning ErrDatabaseLocked if
// another process already holds it.
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrDatabaseLocked
		}
		return err
	}
	return nil
}

// unlockFile releases the lock acquired by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
