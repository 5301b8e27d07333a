//go:build windows

package fsprim

import "os"

// FlockExclusive is a no-op on Windows builds: the transaction directory
// lock is advisory and Windows file locking semantics differ enough
// (mandatory, whole-file) that the engine is expected to serialize
// transaction creation itself on this platform.
func FlockExclusive(f *os.File) error {
	return nil
}

// FlockUnlock is the paired no-op for FlockExclusive.
func FlockUnlock(f *os.File) error {
	return nil
}
