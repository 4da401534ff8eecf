package ledger

import "github.com/google/uuid"

// NewID generates a local record identifier.
//
// Uses UUIDv7: time-ordered, so pending records sort approximately by
// creation time, with enough entropy that rapid successive calls within
// the same millisecond cannot collide. The id is assigned once at creation
// and never reassigned; it is the clientId correlation key for the remote
// authority.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
