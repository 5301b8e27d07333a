//go:build windows

package fsprim

import "os"

// SameDevice always reports true on Windows builds; cross-device
// detection there requires a different API (GetVolumeInformation) that
// this repository does not target.
func SameDevice(a, b os.FileInfo) bool {
	return true
}
