package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/QASchoolUSA/quic-rtc/internal/keys"
)

var (
	ErrRoomNotFound  = errors.New("room: not found")
	ErrAlreadyJoined = errors.New("room: session already joined")
)

// Registry is the in-memory room table. All methods are safe for concurrent
// use; a single mutex guards the table and every room's membership map, so
// create/last-leave races cannot observe an empty-but-tracked room.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*state

	// Test seams. Production uses crypto/rand-backed generators and the
	// wall clock.
	clock      func() time.Time
	newRoomKey func() ([]byte, error)
	newSalt    func() ([]byte, error)
	newKeyPair func() (keys.KeyPair, error)
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:      make(map[string]*state),
		clock:      time.Now,
		newRoomKey: keys.NewRoomKey,
		newSalt:    keys.NewSalt,
		newKeyPair: keys.NewKeyPair,
	}
}

// GetOrCreate returns the tracked room for id, creating it (and minting its
// key material exactly once) when id is unseen.
func (r *Registry) GetOrCreate(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.rooms[id]; ok {
		return s.snapshot(), nil
	}

	key, err := r.newRoomKey()
	if err != nil {
		return Snapshot{}, fmt.Errorf("room %q: %w", id, err)
	}
	salt, err := r.newSalt()
	if err != nil {
		return Snapshot{}, fmt.Errorf("room %q: %w", id, err)
	}

	s := &state{
		id:        id,
		createdAt: r.clock(),
		key:       key,
		salt:      salt,
		members:   make(map[string]*Participant),
	}
	r.rooms[id] = s
	return s.snapshot(), nil
}

// Get is a non-creating lookup.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rooms[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// AddParticipant generates a key pair for the session and inserts it into
// the room's membership. The first insertion into a room marks the creator.
//
// A key-generation failure on a still-empty room tears the room down again,
// so a retry mints fresh room keys instead of rejoining a dead record.
func (r *Registry) AddParticipant(roomID, sessionID, displayName string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	if _, dup := s.members[sessionID]; dup {
		return Participant{}, fmt.Errorf("%w: %q in %q", ErrAlreadyJoined, sessionID, roomID)
	}

	kp, err := r.newKeyPair()
	if err != nil {
		if len(s.order) == 0 {
			delete(r.rooms, roomID)
		}
		return Participant{}, fmt.Errorf("room %q: %w", roomID, err)
	}

	p := &Participant{
		SessionID:   sessionID,
		DisplayName: displayName,
		Creator:     len(s.order) == 0,
		JoinedAt:    r.clock(),
		Keys:        kp,
	}
	s.members[sessionID] = p
	s.order = append(s.order, sessionID)
	return *p, nil
}

// RemoveParticipant drops the session from the room. It reports whether a
// record was removed and whether the removal emptied (and thus deleted) the
// room. Unknown rooms and unknown sessions are defensive no-ops.
func (r *Registry) RemoveParticipant(roomID, sessionID string) (removed, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rooms[roomID]
	if !ok {
		return false, false
	}
	if _, ok := s.members[sessionID]; !ok {
		return false, false
	}

	delete(s.members, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if len(s.order) == 0 {
		delete(r.rooms, roomID)
		return true, true
	}
	return true, false
}

// ListParticipants returns the room's membership in join order, restricted
// to the public-facing subset. The second return reports room existence.
func (r *Registry) ListParticipants(roomID string) ([]Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}

	out := make([]Info, 0, len(s.order))
	for _, id := range s.order {
		p := s.members[id]
		out = append(out, Info{
			SessionID:   p.SessionID,
			DisplayName: p.DisplayName,
			JoinedAt:    p.JoinedAt,
			PublicKey:   p.Keys.PublicJWK(),
		})
	}
	return out, true
}

// Rooms reports the number of tracked rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
