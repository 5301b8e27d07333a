//go:build !windows

package fsprim

import (
	"os"
	"syscall"
)

// FlockExclusive acquires an exclusive advisory lock on f, enforcing a
// single writer per transaction directory across processes (in-process
// callers must still serialize themselves; flock only keeps out other
// processes sharing the same directory).
func FlockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// FlockUnlock releases a lock acquired with FlockExclusive.
func FlockUnlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
