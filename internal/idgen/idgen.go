// Package idgen mints identifiers for rooms and sessions.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRoomID returns a ULID room identifier (26 chars of Crockford base32,
// which fits the accepted room-id alphabet).
func NewRoomID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewSessionID returns an opaque session identifier, unique per connection.
func NewSessionID() string {
	return uuid.NewString()
}
