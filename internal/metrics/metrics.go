// Package metrics keeps the server's internal event counters and exposes
// them in Prometheus' text format.
package metrics

import "sync"

// Counter names.
const (
	SessionsConnected    = "sessions_connected"
	SessionsDisconnected = "sessions_disconnected"
	RoomsCreated         = "rooms_created"
	RoomsDestroyed       = "rooms_destroyed"
	JoinsAccepted        = "joins_accepted"
	JoinsRejected        = "joins_rejected"
	SignalsRelayed       = "signals_relayed"
	SignalsUndeliverable = "signals_undeliverable"
	ChatMessagesRelayed  = "chat_messages_relayed"
	ProtocolErrors       = "protocol_errors"
	MessagesRateLimited  = "messages_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry. It exists so
// coordinator and transport behavior stays observable without dragging a
// metrics backend into the core.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
