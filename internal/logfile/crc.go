package logfile

import "hash/crc32"

// runningCRC accumulates the cumulative CRC-32 over every record prefix
// appended so far: the running checksum at position i equals the CRC-32
// of the concatenation of the first i record prefixes.
type runningCRC struct {
	h uint32
}

func newRunningCRC() *runningCRC {
	return &runningCRC{h: 0}
}

// update folds prefix's bytes into the running checksum and returns the
// new cumulative value, which becomes the checksum written for that
// record.
func (r *runningCRC) update(prefix string) uint32 {
	r.h = crc32.Update(r.h, crc32.IEEETable, []byte(prefix))
	return r.h
}

// value returns the current cumulative checksum without updating it.
func (r *runningCRC) value() uint32 {
	return r.h
}
