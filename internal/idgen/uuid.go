// Package idgen generates the time-ordered unique identifier used for
// log file names, minted fresh at transaction creation. The log-file-name
// regex constrains it to [0-9a-f-], which is exactly a standard UUID's
// textual form, so a time-ordered (version 7) UUID is used rather than
// ULID's base32 alphabet, which would fall outside that character class.
package idgen

import "github.com/google/uuid"

// NewTxnUUID returns a new time-ordered UUID (RFC 9562 version 7) for the
// <uuid> component of a log file name.
func NewTxnUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the runtime's random source is broken;
		// fall back to a random (v4) UUID rather than panicking.
		id = uuid.New()
	}
	return id.String()
}
