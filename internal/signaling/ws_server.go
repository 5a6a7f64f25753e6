package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QASchoolUSA/quic-rtc/internal/config"
	"github.com/QASchoolUSA/quic-rtc/internal/idgen"
	"github.com/QASchoolUSA/quic-rtc/internal/metrics"
	"github.com/QASchoolUSA/quic-rtc/internal/ratelimit"
	"github.com/QASchoolUSA/quic-rtc/internal/room"
)

const wsWriteWait = 10 * time.Second

// WebSocketServer is the connection transport: it accepts duplex client
// streams, assigns each a stable session identity, and shuttles frames
// between the socket and the Coordinator. WebSocket is the reliable ordered
// path; clients preferring a low-latency channel still signal through here.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	coord    *Coordinator
	clock    ratelimit.Clock
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// client is one accepted connection. Outbound messages go through a buffered
// channel drained by a single write pump, which keeps per-recipient ordering
// and means a dead peer never blocks a coordinator handler.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocketServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, registry *room.Registry) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebSocketServer{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		clock:   ratelimit.RealClock{},
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.coord = NewCoordinator(logger, registry, s, m)
	return s
}

// Coordinator exposes the session coordinator, mainly for tests and metrics.
func (s *WebSocketServer) Coordinator() *Coordinator { return s.coord }

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sessionID := idgen.NewSessionID()
	cl := &client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan Message, s.cfg.SendQueueSize),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[sessionID] = cl
	s.mu.Unlock()

	s.coord.Connect(sessionID)
	go s.writePump(cl)
	s.readLoop(cl)
	s.teardown(cl)
}

// teardown runs exactly once per connection no matter how many transport
// errors fire on the way down.
func (s *WebSocketServer) teardown(cl *client) {
	cl.closeOnce.Do(func() {
		close(cl.done)

		s.mu.Lock()
		delete(s.clients, cl.sessionID)
		s.mu.Unlock()

		s.coord.Disconnect(cl.sessionID)
		_ = cl.conn.Close()
	})
}

func (s *WebSocketServer) readLoop(cl *client) {
	conn := cl.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	bucket := ratelimit.NewBucket(s.clock, s.cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", "session_id", cl.sessionID, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.closeWith(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !bucket.Take() {
			s.metrics.Inc(metrics.MessagesRateLimited)
			s.closeWith(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.coord.HandleMessage(cl.sessionID, data)
	}
}

func (s *WebSocketServer) writePump(cl *client) {
	var ticker *time.Ticker
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker = time.NewTicker(s.cfg.PingInterval)
		ping = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case msg := <-cl.send:
			payload, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("encode failed", "session_id", cl.sessionID, "event", msg.Event, "err", err)
				continue
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = cl.conn.Close()
				return
			}
		case <-ping:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cl.conn.Close()
				return
			}
		case <-cl.done:
			return
		}
	}
}

// Send queues msg for sessionID. Unknown sessions and full queues drop the
// message: a receiver that cannot drain its queue is as good as gone, and
// its read side will fail shortly and clean the session up.
func (s *WebSocketServer) Send(sessionID string, msg Message) {
	s.mu.Lock()
	cl, ok := s.clients[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case cl.send <- msg:
	case <-cl.done:
	default:
		s.log.Warn("send queue full, dropping message",
			"session_id", sessionID, "event", msg.Event)
	}
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser client; browsers always send Origin on WS upgrades.
		return true
	}
	origin = strings.ToLower(strings.TrimSuffix(origin, "/"))
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == strings.ToLower(strings.TrimSuffix(allowed, "/")) {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
