package session

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// RoomID derives the routing room id of a session: a stable, opaque key that does not disclose the session id.
func RoomID(sessionID string) string {
	sum := blake2b.Sum256([]byte(sessionID))
	return "room-" + hex.EncodeToString(sum[:16])
}
