// Package room tracks active rooms and their membership.
//
// A room exists exactly as long as it has at least one participant: it is
// created lazily by the first join and deleted in the same critical section
// as the leave that empties it. Key material lives and dies with the room.
package room

import (
	"time"

	"github.com/QASchoolUSA/quic-rtc/internal/keys"
)

// Participant is one session's membership record inside a room, including
// its key pair. The private half must never leave the owning session.
type Participant struct {
	SessionID   string
	DisplayName string
	Creator     bool
	JoinedAt    time.Time
	Keys        keys.KeyPair
}

// Info is the public-facing view of a participant: everything a *different*
// session in the room is allowed to learn.
type Info struct {
	SessionID   string
	DisplayName string
	JoinedAt    time.Time
	PublicKey   keys.JWK
}

// Snapshot is a read-only view of a room's identity and key material.
type Snapshot struct {
	ID           string
	CreatedAt    time.Time
	Key          []byte
	Salt         []byte
	Participants int
}

// state is the registry-internal room record. Access is guarded by the
// registry mutex.
type state struct {
	id        string
	createdAt time.Time
	key       []byte
	salt      []byte

	// members in join order; the first entry is the room's creator.
	order   []string
	members map[string]*Participant
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		Key:          s.key,
		Salt:         s.salt,
		Participants: len(s.order),
	}
}
