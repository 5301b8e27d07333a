//go:build !windows

package fsprim

import (
	"os"
	"syscall"
)

// SameDevice reports whether two already-Stat'd paths live on the same
// filesystem device. Directory fsync guarantees are filesystem-specific;
// this check lets callers decide whether to trust the guarantee and
// surface a reduced-durability warning rather than silently assuming it
// held.
func SameDevice(a, b os.FileInfo) bool {
	sa, ok := a.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	sb, ok := b.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	return sa.Dev == sb.Dev
}
