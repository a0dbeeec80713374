package server

import "github.com/google/uuid"

// newPlayerID mints an opaque session identifier for a newly joined player.
// Ticks and command sequence numbers stay plain integers (they are ordered
// and compared, not just compared for identity); session-scoped entity IDs
// use UUIDv4 so they carry no information about join order or server
// lifetime, the way dm-vev-adamant mints its entity IDs.
func newPlayerID() string {
	return "player-" + uuid.NewString()
}
