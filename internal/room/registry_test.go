package room

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/QASchoolUSA/quic-rtc/internal/keys"
)

func TestGetOrCreateMintsKeysOnce(t *testing.T) {
	r := NewRegistry()

	a, err := r.GetOrCreate("abc-123")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(a.Key) != keys.RoomKeyBytes {
		t.Fatalf("key len=%d, want %d", len(a.Key), keys.RoomKeyBytes)
	}
	if len(a.Salt) != keys.SaltBytes {
		t.Fatalf("salt len=%d, want %d", len(a.Salt), keys.SaltBytes)
	}

	b, err := r.GetOrCreate("abc-123")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !bytes.Equal(a.Key, b.Key) || !bytes.Equal(a.Salt, b.Salt) {
		t.Fatalf("second GetOrCreate returned different key material")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry()

	const n = 32
	snaps := make([]Snapshot, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate("race-room")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			snaps[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if !bytes.Equal(snaps[0].Key, snaps[i].Key) {
			t.Fatalf("racing GetOrCreate constructed more than one room")
		}
	}
	if got := r.Rooms(); got != 1 {
		t.Fatalf("rooms=%d, want 1", got)
	}
}

func TestCreatorFlag(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetOrCreate("abc-123"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	first, err := r.AddParticipant("abc-123", "s1", "Alice")
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if !first.Creator {
		t.Fatalf("first participant not marked creator")
	}

	second, err := r.AddParticipant("abc-123", "s2", "Bob")
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if second.Creator {
		t.Fatalf("second participant marked creator")
	}

	// Creator leaves; the remaining participant must not inherit the flag.
	r.RemoveParticipant("abc-123", "s1")
	list, ok := r.ListParticipants("abc-123")
	if !ok || len(list) != 1 {
		t.Fatalf("list=%v ok=%v", list, ok)
	}
}

func TestDuplicateJoinRejected(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetOrCreate("abc-123"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := r.AddParticipant("abc-123", "s1", "Alice"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	if _, err := r.AddParticipant("abc-123", "s1", "Alice"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("err=%v, want ErrAlreadyJoined", err)
	}

	list, _ := r.ListParticipants("abc-123")
	if len(list) != 1 {
		t.Fatalf("duplicate join created a second record: %v", list)
	}
}

func TestAddParticipantUnknownRoom(t *testing.T) {
	r := NewRegistry()
	if _, err := r.AddParticipant("nope", "s1", "Alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want ErrRoomNotFound", err)
	}
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	r := NewRegistry()

	first, err := r.GetOrCreate("abc-123")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := r.AddParticipant("abc-123", "s1", "Alice"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	removed, emptied := r.RemoveParticipant("abc-123", "s1")
	if !removed || !emptied {
		t.Fatalf("removed=%v emptied=%v, want true/true", removed, emptied)
	}
	if _, ok := r.Get("abc-123"); ok {
		t.Fatalf("room still tracked after last leave")
	}

	// A rejoin under the old id is a brand-new room with fresh keys.
	again, err := r.GetOrCreate("abc-123")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if bytes.Equal(first.Key, again.Key) {
		t.Fatalf("recreated room reused old key material")
	}
}

func TestRemoveParticipantIdempotent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetOrCreate("abc-123"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := r.AddParticipant("abc-123", "s1", "Alice"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if _, err := r.AddParticipant("abc-123", "s2", "Bob"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	if removed, _ := r.RemoveParticipant("abc-123", "s1"); !removed {
		t.Fatalf("first remove did not remove")
	}
	if removed, _ := r.RemoveParticipant("abc-123", "s1"); removed {
		t.Fatalf("second remove removed again")
	}
	if removed, _ := r.RemoveParticipant("other", "s2"); removed {
		t.Fatalf("remove against unknown room removed something")
	}
}

func TestListParticipantsOrderAndVisibility(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetOrCreate("abc-123"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for _, join := range []struct{ sid, name string }{
		{"s1", "Alice"}, {"s2", "Bob"}, {"s3", "Cara"},
	} {
		if _, err := r.AddParticipant("abc-123", join.sid, join.name); err != nil {
			t.Fatalf("AddParticipant(%s): %v", join.sid, err)
		}
	}

	list, ok := r.ListParticipants("abc-123")
	if !ok {
		t.Fatalf("room not found")
	}
	want := []string{"s1", "s2", "s3"}
	if len(list) != len(want) {
		t.Fatalf("len=%d, want %d", len(list), len(want))
	}
	for i, info := range list {
		if info.SessionID != want[i] {
			t.Fatalf("order[%d]=%s, want %s", i, info.SessionID, want[i])
		}
		if info.PublicKey.X == "" {
			t.Fatalf("missing public key for %s", info.SessionID)
		}
		if info.PublicKey.D != "" {
			t.Fatalf("listing leaked private key material for %s", info.SessionID)
		}
	}

	if _, ok := r.ListParticipants("unknown"); ok {
		t.Fatalf("listing for unknown room reported ok")
	}
}

func TestKeyPairFailureTearsDownEmptyRoom(t *testing.T) {
	r := NewRegistry()
	r.newKeyPair = func() (keys.KeyPair, error) {
		return keys.KeyPair{}, errors.New("entropy exhausted")
	}

	if _, err := r.GetOrCreate("abc-123"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := r.AddParticipant("abc-123", "s1", "Alice"); err == nil {
		t.Fatalf("expected key generation error")
	}

	// The half-created room must not linger.
	if _, ok := r.Get("abc-123"); ok {
		t.Fatalf("empty room survived a failed first join")
	}
}
