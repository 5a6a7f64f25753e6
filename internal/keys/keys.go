// Package keys generates the cryptographic material handed out at room
// creation and join time: symmetric room keys, key-derivation salts, and
// per-participant X25519 key pairs.
//
// Nothing in this package holds state; every call draws fresh entropy from
// crypto/rand. Key material never touches durable storage.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// RoomKeyBytes is the size of a room's symmetric key (256 bits).
	RoomKeyBytes = 32
	// SaltBytes is the size of a room's key-derivation salt.
	SaltBytes = 16
	// keyPairBytes is the size of an X25519 scalar/point.
	keyPairBytes = 32
)

var (
	ErrEntropy    = errors.New("keys: entropy source failed")
	errInvalidJWK = errors.New("keys: invalid JWK")
)

// KeyPair is one participant's X25519 key pair. The public half is shared
// with every other participant in the room; the private half is returned only
// to its owner.
type KeyPair struct {
	Public  [keyPairBytes]byte
	Private [keyPairBytes]byte
}

// JWK is the single wire representation for participant keys: an RFC 8037
// OKP key. D is present only when the JWK carries the private half.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
}

// NewRoomKey returns a fresh 256-bit symmetric room key.
func NewRoomKey() ([]byte, error) {
	return randomBytes(RoomKeyBytes)
}

// NewSalt returns a fresh key-derivation salt.
func NewSalt() ([]byte, error) {
	return randomBytes(SaltBytes)
}

// NewKeyPair returns a fresh X25519 key pair. The private scalar is clamped
// per RFC 7748.
func NewKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	clamp(&kp.Private)

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("keys: scalar base mult: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// PublicJWK returns the shareable half of the key pair.
func (kp KeyPair) PublicJWK() JWK {
	return JWK{
		Kty: "OKP",
		Crv: "X25519",
		X:   base64.RawURLEncoding.EncodeToString(kp.Public[:]),
	}
}

// PrivateJWK returns the full key pair as a private JWK. Callers must send
// this only to the key pair's owner.
func (kp KeyPair) PrivateJWK() JWK {
	j := kp.PublicJWK()
	j.D = base64.RawURLEncoding.EncodeToString(kp.Private[:])
	return j
}

// ParsePublicJWK decodes the public half of an OKP/X25519 JWK.
func ParsePublicJWK(j JWK) ([keyPairBytes]byte, error) {
	var pub [keyPairBytes]byte
	if j.Kty != "OKP" || j.Crv != "X25519" {
		return pub, fmt.Errorf("%w: kty=%q crv=%q", errInvalidJWK, j.Kty, j.Crv)
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", errInvalidJWK, err)
	}
	if len(raw) != keyPairBytes {
		return pub, fmt.Errorf("%w: x is %d bytes", errInvalidJWK, len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

// SharedSecret derives the 32-byte secret two participants agree on: X25519
// Diffie-Hellman over their key pair halves, expanded with HKDF-SHA256 under
// the room's salt. Both sides derive byte-identical output.
func SharedSecret(priv, peerPub [keyPairBytes]byte, salt []byte) ([]byte, error) {
	dh, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("keys: diffie-hellman: %w", err)
	}

	out := make([]byte, RoomKeyBytes)
	r := hkdf.New(sha256.New, dh, salt, []byte("quic-rtc peer key v1"))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("keys: hkdf expand: %w", err)
	}
	return out, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return b, nil
}

func clamp(k *[keyPairBytes]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
