package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/QASchoolUSA/quic-rtc/internal/keys"
)

// Event names carried in the wire envelope.
type Event string

// Client -> server events.
const (
	EventJoinRoom           Event = "join-room"
	EventOffer              Event = "offer"
	EventAnswer             Event = "answer"
	EventICECandidate       Event = "ice-candidate"
	EventSecureOffer        Event = "secure-offer"
	EventSecureAnswer       Event = "secure-answer"
	EventSecureICECandidate Event = "secure-ice-candidate"
	EventMediaStateChange   Event = "media-state-change"
	EventEncryptedChat      Event = "encrypted-chat-message"
	EventRemoteControlVideo Event = "remote-control-video"
	EventRemoteControlAudio Event = "remote-control-audio"
)

// Server -> client events (relayed events reuse the client names).
const (
	EventRoomKeys             Event = "room-keys"
	EventExistingParticipants Event = "existing-participants"
	EventUserJoined           Event = "user-joined"
	EventUserLeft             Event = "user-left"
	EventError                Event = "error"
)

// ErrProtocol marks malformed or out-of-state-machine client input. It is
// reported to the offending session only; the connection stays open.
var ErrProtocol = errors.New("signaling: protocol error")

// roomIDPattern is the accepted room identifier shape.
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ValidRoomID reports whether id is an acceptable room identifier.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Envelope is the wire framing for inbound client messages.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound event+payload pair. The transport JSON-encodes it
// with the same envelope shape clients send.
type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// Client payload variants. Signaling payloads (offer/answer/candidate) are
// opaque to this layer and stay raw JSON.

type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type OfferPayload struct {
	TargetSessionID string          `json:"targetSessionId"`
	Offer           json.RawMessage `json:"offer"`
}

type AnswerPayload struct {
	TargetSessionID string          `json:"targetSessionId"`
	Answer          json.RawMessage `json:"answer"`
}

type CandidatePayload struct {
	TargetSessionID string          `json:"targetSessionId"`
	Candidate       json.RawMessage `json:"candidate"`
}

// SecureSignalPayload carries an end-to-end encrypted offer/answer/candidate.
// The ciphertext, IV and auth tag are opaque to the server.
type SecureSignalPayload struct {
	TargetSessionID  string `json:"targetSessionId"`
	EncryptedPayload string `json:"encryptedPayload"`
	IV               string `json:"iv"`
	Tag              string `json:"tag"`
}

type MediaStatePayload struct {
	Audio *bool `json:"audio,omitempty"`
	Video *bool `json:"video,omitempty"`
}

type ChatPayload struct {
	EncryptedMessage string `json:"encryptedMessage"`
	IV               string `json:"iv"`
	Tag              string `json:"tag"`
	Timestamp        int64  `json:"timestamp,omitempty"`
}

type RemoteControlPayload struct {
	TargetSessionID string `json:"targetSessionId"`
	Enable          bool   `json:"enable"`
}

// ClientMessage is the parsed, validated form of an inbound envelope.
// Exactly one payload field is set, matching Event.
type ClientMessage struct {
	Event Event

	Join          *JoinRoomPayload
	Offer         *OfferPayload
	Answer        *AnswerPayload
	Candidate     *CandidatePayload
	Secure        *SecureSignalPayload
	MediaState    *MediaStatePayload
	Chat          *ChatPayload
	RemoteControl *RemoteControlPayload
}

// ParseClientMessage decodes and validates one inbound frame. Anything that
// does not parse into a known variant with its required fields is rejected
// with ErrProtocol, so malformed input surfaces at the boundary instead of
// crashing a handler downstream.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	msg := ClientMessage{Event: env.Event}
	switch env.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if !ValidRoomID(p.RoomID) {
			return ClientMessage{}, fmt.Errorf("%w: invalid room id %q", ErrProtocol, p.RoomID)
		}
		if p.DisplayName == "" {
			return ClientMessage{}, fmt.Errorf("%w: join-room missing displayName", ErrProtocol)
		}
		msg.Join = &p

	case EventOffer:
		var p OfferPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.TargetSessionID == "" || len(p.Offer) == 0 {
			return ClientMessage{}, fmt.Errorf("%w: offer missing targetSessionId or offer", ErrProtocol)
		}
		msg.Offer = &p

	case EventAnswer:
		var p AnswerPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.TargetSessionID == "" || len(p.Answer) == 0 {
			return ClientMessage{}, fmt.Errorf("%w: answer missing targetSessionId or answer", ErrProtocol)
		}
		msg.Answer = &p

	case EventICECandidate:
		var p CandidatePayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.TargetSessionID == "" || len(p.Candidate) == 0 {
			return ClientMessage{}, fmt.Errorf("%w: ice-candidate missing targetSessionId or candidate", ErrProtocol)
		}
		msg.Candidate = &p

	case EventSecureOffer, EventSecureAnswer, EventSecureICECandidate:
		var p SecureSignalPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.TargetSessionID == "" || p.EncryptedPayload == "" || p.IV == "" || p.Tag == "" {
			return ClientMessage{}, fmt.Errorf("%w: %s missing required fields", ErrProtocol, env.Event)
		}
		msg.Secure = &p

	case EventMediaStateChange:
		var p MediaStatePayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.Audio == nil && p.Video == nil {
			return ClientMessage{}, fmt.Errorf("%w: media-state-change carries no flags", ErrProtocol)
		}
		msg.MediaState = &p

	case EventEncryptedChat:
		var p ChatPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.EncryptedMessage == "" || p.IV == "" || p.Tag == "" {
			return ClientMessage{}, fmt.Errorf("%w: encrypted-chat-message missing required fields", ErrProtocol)
		}
		msg.Chat = &p

	case EventRemoteControlVideo, EventRemoteControlAudio:
		var p RemoteControlPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return ClientMessage{}, err
		}
		if p.TargetSessionID == "" {
			return ClientMessage{}, fmt.Errorf("%w: %s missing targetSessionId", ErrProtocol, env.Event)
		}
		msg.RemoteControl = &p

	default:
		return ClientMessage{}, fmt.Errorf("%w: unsupported event %q", ErrProtocol, env.Event)
	}
	return msg, nil
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", ErrProtocol)
	}
	if err := strictUnmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// Server payload shapes.

type KeyPairPayload struct {
	PublicKey  keys.JWK `json:"publicKey"`
	PrivateKey keys.JWK `json:"privateKey"`
}

// RoomKeysPayload is sent once, only to the joining session. RoomKey and
// Salt marshal as base64; the key pair marshals as JWK objects, the single
// wire representation for key material.
type RoomKeysPayload struct {
	RoomKey     []byte         `json:"roomKey"`
	Salt        []byte         `json:"salt"`
	YourKeyPair KeyPairPayload `json:"yourKeyPair"`
}

type ParticipantPayload struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	JoinedAt    int64    `json:"joinedAt"`
	PublicKey   keys.JWK `json:"publicKey"`
}

type UserJoinedPayload struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

type UserLeftPayload struct {
	SessionID string `json:"sessionId"`
}

// RelayedSignalPayload tags a forwarded offer/answer/candidate with its
// sender. Exactly one of the three payload fields is set, matching the
// relayed event.
type RelayedSignalPayload struct {
	FromSessionID string          `json:"fromSessionId"`
	Offer         json.RawMessage `json:"offer,omitempty"`
	Answer        json.RawMessage `json:"answer,omitempty"`
	Candidate     json.RawMessage `json:"candidate,omitempty"`
}

type RelayedSecureSignalPayload struct {
	FromSessionID    string `json:"fromSessionId"`
	EncryptedPayload string `json:"encryptedPayload"`
	IV               string `json:"iv"`
	Tag              string `json:"tag"`
}

type MediaStateBroadcastPayload struct {
	SessionID string `json:"sessionId"`
	Audio     *bool  `json:"audio,omitempty"`
	Video     *bool  `json:"video,omitempty"`
}

type ChatBroadcastPayload struct {
	SenderID         string `json:"senderId"`
	SenderName       string `json:"senderName"`
	EncryptedMessage string `json:"encryptedMessage"`
	IV               string `json:"iv"`
	Tag              string `json:"tag"`
	Timestamp        int64  `json:"timestamp"`
}

type RemoteControlForwardPayload struct {
	FromSessionID string `json:"fromSessionId"`
	Enable        bool   `json:"enable"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
