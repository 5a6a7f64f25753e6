// Package signaling implements the room-session core: the per-session state
// machine, the offer/answer/candidate relay, and the WebSocket transport the
// browser clients speak to.
package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/QASchoolUSA/quic-rtc/internal/metrics"
	"github.com/QASchoolUSA/quic-rtc/internal/room"
)

// Sender delivers outbound messages to a session. Sends to unknown or gone
// sessions are silent no-ops; disconnection races are expected and benign.
type Sender interface {
	Send(sessionID string, msg Message)
}

// sessionState is a session's position in the connection state machine.
type sessionState int

const (
	stateConnected sessionState = iota
	stateJoining
	stateInRoom
	stateDisconnected
)

func (s sessionState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateJoining:
		return "joining"
	case stateInRoom:
		return "in-room"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type session struct {
	id          string
	state       sessionState
	roomID      string
	displayName string
	creator     bool
	connectedAt time.Time
}

// Coordinator owns the session table and drives every connection event to
// completion before the next one runs. A single mutex serializes handlers,
// which is what gives every participant in a room the same view of the
// join/leave/relay order.
type Coordinator struct {
	log      *slog.Logger
	registry *room.Registry
	sender   Sender
	metrics  *metrics.Metrics
	clock    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewCoordinator(logger *slog.Logger, registry *room.Registry, sender Sender, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		log:      logger,
		registry: registry,
		sender:   sender,
		metrics:  m,
		clock:    time.Now,
		sessions: make(map[string]*session),
	}
}

// Connect registers a freshly accepted transport connection. No broadcast.
func (c *Coordinator) Connect(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sessionID] = &session{
		id:          sessionID,
		state:       stateConnected,
		connectedAt: c.clock(),
	}
	c.metrics.Inc(metrics.SessionsConnected)
	c.log.Debug("session connected", "session_id", sessionID)
}

// Disconnect tears a session down. It is idempotent: transport failures may
// fire it multiple times, but cleanup and the user-left broadcast happen at
// most once.
func (c *Coordinator) Disconnect(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.state == stateDisconnected {
		return
	}

	if sess.state == stateInRoom {
		removed, emptied := c.registry.RemoveParticipant(sess.roomID, sess.id)
		if removed {
			if emptied {
				c.metrics.Inc(metrics.RoomsDestroyed)
				c.log.Info("room destroyed", "room_id", sess.roomID)
			} else {
				c.broadcastLocked(sess.roomID, sess.id, Message{
					Event: EventUserLeft,
					Data:  UserLeftPayload{SessionID: sess.id},
				})
			}
		}
	}

	sess.state = stateDisconnected
	delete(c.sessions, sessionID)
	c.metrics.Inc(metrics.SessionsDisconnected)
	c.log.Debug("session disconnected", "session_id", sessionID)
}

// HandleMessage parses and dispatches one inbound frame from a session.
// Malformed input costs the sender an error event, never the process.
func (c *Coordinator) HandleMessage(sessionID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return
	}

	msg, err := ParseClientMessage(data)
	if err != nil {
		c.metrics.Inc(metrics.ProtocolErrors)
		c.sendErrorLocked(sessionID, err)
		return
	}

	switch msg.Event {
	case EventJoinRoom:
		c.handleJoinLocked(sess, msg.Join)
	case EventOffer:
		c.relaySignalLocked(sess, msg.Event, msg.Offer.TargetSessionID, RelayedSignalPayload{
			FromSessionID: sess.id,
			Offer:         msg.Offer.Offer,
		})
	case EventAnswer:
		c.relaySignalLocked(sess, msg.Event, msg.Answer.TargetSessionID, RelayedSignalPayload{
			FromSessionID: sess.id,
			Answer:        msg.Answer.Answer,
		})
	case EventICECandidate:
		c.relaySignalLocked(sess, msg.Event, msg.Candidate.TargetSessionID, RelayedSignalPayload{
			FromSessionID: sess.id,
			Candidate:     msg.Candidate.Candidate,
		})
	case EventSecureOffer, EventSecureAnswer, EventSecureICECandidate:
		c.relaySignalLocked(sess, msg.Event, msg.Secure.TargetSessionID, RelayedSecureSignalPayload{
			FromSessionID:    sess.id,
			EncryptedPayload: msg.Secure.EncryptedPayload,
			IV:               msg.Secure.IV,
			Tag:              msg.Secure.Tag,
		})
	case EventMediaStateChange:
		c.handleMediaStateLocked(sess, msg.MediaState)
	case EventEncryptedChat:
		c.handleChatLocked(sess, msg.Chat)
	case EventRemoteControlVideo, EventRemoteControlAudio:
		c.handleRemoteControlLocked(sess, msg.Event, msg.RemoteControl)
	}
}

// handleJoinLocked runs the join-room transition. Both the key-material
// message and the existing-participants listing are sent before control
// returns to the event loop, so no later relay can reference a participant
// the joiner has not been told about.
func (c *Coordinator) handleJoinLocked(sess *session, p *JoinRoomPayload) {
	if sess.state != stateConnected {
		c.metrics.Inc(metrics.JoinsRejected)
		c.sendErrorLocked(sess.id, errors.New("already joined a room"))
		return
	}
	sess.state = stateJoining

	snap, err := c.registry.GetOrCreate(p.RoomID)
	if err != nil {
		sess.state = stateConnected
		c.metrics.Inc(metrics.JoinsRejected)
		c.log.Error("room creation failed", "room_id", p.RoomID, "err", err)
		c.sendErrorLocked(sess.id, errors.New("failed to create room"))
		return
	}
	created := snap.Participants == 0

	participant, err := c.registry.AddParticipant(p.RoomID, sess.id, p.DisplayName)
	if err != nil {
		sess.state = stateConnected
		c.metrics.Inc(metrics.JoinsRejected)
		c.log.Error("join failed", "room_id", p.RoomID, "session_id", sess.id, "err", err)
		c.sendErrorLocked(sess.id, errors.New("failed to join room"))
		return
	}

	if created {
		c.metrics.Inc(metrics.RoomsCreated)
		c.log.Info("room created", "room_id", p.RoomID, "creator", sess.id)
	}

	listing, _ := c.registry.ListParticipants(p.RoomID)
	existing := make([]ParticipantPayload, 0, len(listing))
	for _, info := range listing {
		if info.SessionID == sess.id {
			continue
		}
		existing = append(existing, ParticipantPayload{
			ID:          info.SessionID,
			DisplayName: info.DisplayName,
			JoinedAt:    info.JoinedAt.UnixMilli(),
			PublicKey:   info.PublicKey,
		})
	}

	sess.state = stateInRoom
	sess.roomID = p.RoomID
	sess.displayName = p.DisplayName
	sess.creator = participant.Creator

	// The private key is delivered here, once, to its owner, and nowhere
	// else.
	c.sender.Send(sess.id, Message{
		Event: EventRoomKeys,
		Data: RoomKeysPayload{
			RoomKey: snap.Key,
			Salt:    snap.Salt,
			YourKeyPair: KeyPairPayload{
				PublicKey:  participant.Keys.PublicJWK(),
				PrivateKey: participant.Keys.PrivateJWK(),
			},
		},
	})
	c.sender.Send(sess.id, Message{
		Event: EventExistingParticipants,
		Data:  existing,
	})

	for _, info := range existing {
		c.sender.Send(info.ID, Message{
			Event: EventUserJoined,
			Data:  UserJoinedPayload{SessionID: sess.id, DisplayName: p.DisplayName},
		})
	}

	c.metrics.Inc(metrics.JoinsAccepted)
	c.log.Info("participant joined",
		"room_id", p.RoomID,
		"session_id", sess.id,
		"participants", len(existing)+1,
	)
}

// relaySignalLocked forwards a signaling payload to one target in the
// sender's room. A missing target is not an error: it may have disconnected
// a moment ago, so the message is simply undeliverable.
func (c *Coordinator) relaySignalLocked(sess *session, event Event, targetID string, payload any) {
	if sess.state != stateInRoom {
		c.metrics.Inc(metrics.ProtocolErrors)
		c.sendErrorLocked(sess.id, errors.New("not in a room"))
		return
	}

	target, ok := c.sessions[targetID]
	if !ok || target.state != stateInRoom || target.roomID != sess.roomID {
		c.metrics.Inc(metrics.SignalsUndeliverable)
		return
	}

	c.sender.Send(targetID, Message{Event: event, Data: payload})
	c.metrics.Inc(metrics.SignalsRelayed)
}

func (c *Coordinator) handleMediaStateLocked(sess *session, p *MediaStatePayload) {
	if sess.state != stateInRoom {
		c.metrics.Inc(metrics.ProtocolErrors)
		c.sendErrorLocked(sess.id, errors.New("not in a room"))
		return
	}

	// The server keeps no media state; late joiners learn it client-side.
	c.broadcastLocked(sess.roomID, sess.id, Message{
		Event: EventMediaStateChange,
		Data: MediaStateBroadcastPayload{
			SessionID: sess.id,
			Audio:     p.Audio,
			Video:     p.Video,
		},
	})
}

func (c *Coordinator) handleChatLocked(sess *session, p *ChatPayload) {
	if sess.state != stateInRoom {
		c.metrics.Inc(metrics.ProtocolErrors)
		c.sendErrorLocked(sess.id, errors.New("not in a room"))
		return
	}

	ts := p.Timestamp
	if ts == 0 {
		ts = c.clock().UnixMilli()
	}

	c.broadcastLocked(sess.roomID, sess.id, Message{
		Event: EventEncryptedChat,
		Data: ChatBroadcastPayload{
			SenderID:         sess.id,
			SenderName:       sess.displayName,
			EncryptedMessage: p.EncryptedMessage,
			IV:               p.IV,
			Tag:              p.Tag,
			Timestamp:        ts,
		},
	})
	c.metrics.Inc(metrics.ChatMessagesRelayed)
}

// handleRemoteControlLocked forwards a mute/camera request to its target.
// Only the room's creator may issue these; the check is enforced here rather
// than trusted to the UI.
func (c *Coordinator) handleRemoteControlLocked(sess *session, event Event, p *RemoteControlPayload) {
	if sess.state != stateInRoom {
		c.metrics.Inc(metrics.ProtocolErrors)
		c.sendErrorLocked(sess.id, errors.New("not in a room"))
		return
	}
	if !sess.creator {
		c.metrics.Inc(metrics.ProtocolErrors)
		c.sendErrorLocked(sess.id, errors.New("only the room creator may control other participants"))
		return
	}

	target, ok := c.sessions[p.TargetSessionID]
	if !ok || target.state != stateInRoom || target.roomID != sess.roomID {
		c.metrics.Inc(metrics.SignalsUndeliverable)
		return
	}

	c.sender.Send(p.TargetSessionID, Message{
		Event: event,
		Data:  RemoteControlForwardPayload{FromSessionID: sess.id, Enable: p.Enable},
	})
}

// broadcastLocked sends msg to every participant in the room except exclude.
func (c *Coordinator) broadcastLocked(roomID, exclude string, msg Message) {
	listing, ok := c.registry.ListParticipants(roomID)
	if !ok {
		return
	}
	for _, info := range listing {
		if info.SessionID == exclude {
			continue
		}
		c.sender.Send(info.SessionID, msg)
	}
}

func (c *Coordinator) sendErrorLocked(sessionID string, err error) {
	c.sender.Send(sessionID, Message{
		Event: EventError,
		Data:  ErrorPayload{Message: err.Error()},
	})
}

// Sessions reports the number of live sessions.
func (c *Coordinator) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
