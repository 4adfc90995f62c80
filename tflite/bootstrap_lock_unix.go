//go:build !windows

package tflite

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile blocks until the exclusive lock is acquired.
func lockFile(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_EX)
}

func unlockFile(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
