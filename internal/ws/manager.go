package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/pkg/models"
)

// ErrNoConnection is returned when a session has no live, registered
// duplex connection.
var ErrNoConnection = errors.New("no live connection for session")

// ResultSink receives command results and connection-loss events. The
// dispatcher implements it; the narrow interface keeps this package from
// importing the dispatcher.
type ResultSink interface {
	ResolveResult(commandID string, success bool, result map[string]interface{}, errMsg string)
	FailSession(sessionID string, cause error)
}

// conn is one live duplex connection bound to a session.
type conn struct {
	ws          *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	// mu serializes writes and guards sessionID, confirmed, and closed.
	// sessionID is cleared remotely on eviction and termination while the
	// owning read loop still reads it, so every access must hold mu.
	mu        sync.Mutex
	sessionID string
	// confirmed is cleared when a ping is sent and set again by any pong
	// or inbound ping. A connection still unconfirmed at the next
	// heartbeat tick is forcibly closed.
	confirmed bool
	closed    bool
}

func (c *conn) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *conn) bindSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *conn) send(msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNoConnection
	}
	return c.ws.WriteJSON(msg)
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection replaced or terminated"))
	c.ws.Close()
}

// Manager owns duplex client connections: admission, registration,
// heartbeat, and routing of the wire protocol.
type Manager struct {
	registry *session.Registry
	sink     ResultSink
	upgrader websocket.Upgrader
	interval time.Duration
	logger   *logrus.Entry

	mu    sync.RWMutex
	conns map[string]*conn // keyed by session id
}

// NewManager creates the connection manager. The result sink is attached
// later via SetSink because the dispatcher is constructed after this.
func NewManager(registry *session.Registry, allowedOrigins []string, heartbeat time.Duration, logger *logrus.Entry) *Manager {
	return &Manager{
		registry: registry,
		interval: heartbeat,
		logger:   logger,
		conns:    make(map[string]*conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return allowOrigin(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// SetSink attaches the dispatcher's result sink.
func (m *Manager) SetSink(sink ResultSink) {
	m.sink = sink
}

// HandleConnection upgrades the HTTP request and runs the read loop
// until the socket dies. The first accepted frame must be a register
// message binding the connection to an existing session.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sock, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &conn{
		ws:          sock,
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
		confirmed:   true,
	}

	m.readLoop(c)
}

func (m *Manager) readLoop(c *conn) {
	defer m.dropConn(c)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed frames get an error reply and are dropped;
			// they never affect other connections.
			c.send(models.Message{Type: models.MsgError, Error: "malformed message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case models.MsgRegister:
			m.handleRegister(c, msg)

		case models.MsgCommandResult:
			sid := c.session()
			if sid == "" {
				c.send(models.Message{Type: models.MsgError, Error: "not registered"})
				continue
			}
			m.markConfirmed(c)
			m.registry.Touch(sid)
			success := msg.Success != nil && *msg.Success
			if m.sink != nil {
				m.sink.ResolveResult(msg.CommandID, success, msg.Result, msg.Error)
			}

		case models.MsgPing:
			m.markConfirmed(c)
			c.send(models.Message{Type: models.MsgPong})

		case models.MsgPong:
			m.markConfirmed(c)

		case models.MsgStatusUpdate:
			m.logger.WithFields(logrus.Fields{
				"session_id": c.session(),
				"status":     msg.Status,
			}).Debug("client status update")

		default:
			c.send(models.Message{Type: models.MsgError, Error: "unknown message type: " + msg.Type})
		}
	}
}

func (m *Manager) handleRegister(c *conn, msg models.Message) {
	if msg.SessionID == "" {
		c.send(models.Message{Type: models.MsgError, Error: "register requires sessionId"})
		return
	}
	if _, err := m.registry.Get(msg.SessionID); err != nil {
		c.send(models.Message{Type: models.MsgError, Error: "unknown session: " + msg.SessionID})
		return
	}

	c.bindSession(msg.SessionID)
	m.mu.Lock()
	old := m.conns[msg.SessionID]
	m.conns[msg.SessionID] = c
	m.mu.Unlock()

	// At most one connection per session: the newcomer evicts the old.
	// Unbinding first keeps the evicted read loop from treating its own
	// teardown as a live disconnect.
	if old != nil && old != c {
		old.bindSession("")
		old.close()
	}

	now := time.Now()
	m.registry.SetConnected(msg.SessionID, &models.ConnectionInfo{
		RemoteAddr:    c.remoteAddr,
		ConnectedAt:   c.connectedAt,
		LastHeartbeat: now,
	})

	c.send(models.Message{Type: models.MsgRegistered, SessionID: msg.SessionID})
	m.logger.WithFields(logrus.Fields{
		"session_id": msg.SessionID,
		"remote":     c.remoteAddr,
	}).Info("client registered")
}

// dropConn removes a dead connection and fails its in-flight commands.
func (m *Manager) dropConn(c *conn) {
	c.close()
	sid := c.session()
	if sid == "" {
		return
	}

	m.mu.Lock()
	current, ok := m.conns[sid]
	if ok && current == c {
		delete(m.conns, sid)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return // already replaced by a newer registration
	}

	m.registry.SetDisconnected(sid)
	if m.sink != nil {
		m.sink.FailSession(sid, ErrNoConnection)
	}
	m.logger.WithField("session_id", sid).Info("client disconnected")
}

// IsConnected reports whether the session has a live, registered
// connection.
func (m *Manager) IsConnected(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[sessionID]
	return ok
}

// SendCommand pushes a command frame to the session's client.
func (m *Manager) SendCommand(sessionID, commandID string, cmdType models.CommandType, payload map[string]interface{}, timeout time.Duration) error {
	m.mu.RLock()
	c, ok := m.conns[sessionID]
	m.mu.RUnlock()
	if !ok {
		return ErrNoConnection
	}
	return c.send(models.Message{
		Type:        models.MsgCommand,
		SessionID:   sessionID,
		CommandID:   commandID,
		CommandType: cmdType,
		Payload:     payload,
		TimeoutMs:   timeout.Milliseconds(),
	})
}

// CancelCommand sends a best-effort cancellation notice.
func (m *Manager) CancelCommand(sessionID, commandID string) {
	m.mu.RLock()
	c, ok := m.conns[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.send(models.Message{Type: models.MsgCancelCommand, SessionID: sessionID, CommandID: commandID})
}

// Disconnect forcibly terminates the session's connection, if any.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	c, ok := m.conns[sessionID]
	if ok {
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	c.bindSession("")
	c.close()
	m.registry.SetDisconnected(sessionID)
}

// ReleaseSession implements session.Releaser: session deletion closes
// the attached connection.
func (m *Manager) ReleaseSession(sessionID string) {
	m.mu.Lock()
	c, ok := m.conns[sessionID]
	if ok {
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()
	if ok {
		c.bindSession("")
		c.close()
	}
}

func (m *Manager) markConfirmed(c *conn) {
	c.mu.Lock()
	c.confirmed = true
	sid := c.sessionID
	c.mu.Unlock()
	if sid != "" {
		m.registry.SetConnected(sid, &models.ConnectionInfo{
			RemoteAddr:    c.remoteAddr,
			ConnectedAt:   c.connectedAt,
			LastHeartbeat: time.Now(),
		})
	}
}

// StartHeartbeat pings every connection on a fixed interval. A
// connection that has not confirmed liveness since the previous tick is
// forcibly closed and its in-flight commands failed fast.
func (m *Manager) StartHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeatTick()
		}
	}
}

func (m *Manager) heartbeatTick() {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.mu.Lock()
		alive := c.confirmed
		c.confirmed = false
		sid := c.sessionID
		c.mu.Unlock()

		if !alive {
			m.logger.WithField("session_id", sid).Warn("heartbeat missed, terminating connection")
			c.bindSession("")
			if sid != "" {
				m.mu.Lock()
				delete(m.conns, sid)
				m.mu.Unlock()
			}
			c.close()
			if sid != "" {
				m.registry.SetDisconnected(sid)
				if m.sink != nil {
					m.sink.FailSession(sid, ErrNoConnection)
				}
			}
			continue
		}

		if err := c.send(models.Message{Type: models.MsgPing}); err != nil {
			m.logger.WithField("session_id", sid).WithError(err).Debug("ping write failed")
		}
	}
}
