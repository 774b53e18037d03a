//go:build !windows

package transfer

import (
	"os"
	"syscall"
)

// lockFile takes a non-blocking exclusive advisory lock on f (spec.md
// §4.2 "optional locking"), grounded on the same syscall.Flock pattern
// the example corpus uses for its own on-disk exclusivity guard.
func lockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}
