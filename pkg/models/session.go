package models

import "time"

// SessionStatus represents the current state of a browsing session
type SessionStatus string

const (
	StatusCreated      SessionStatus = "created"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusExpired      SessionStatus = "expired"
)

// ExecutionMode controls how commands for a session are routed.
type ExecutionMode string

const (
	ModeAuto      ExecutionMode = "auto"
	ModeExtension ExecutionMode = "extension"
	ModeServer    ExecutionMode = "server"
)

// HistoryEntry is one role-tagged entry in a session's conversation log.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionInfo describes the duplex connection currently bound to a
// session, if any.
type ConnectionInfo struct {
	RemoteAddr    string    `json:"remoteAddr"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Session represents one logical browsing context
type Session struct {
	ID            string                 `json:"id"`
	Status        SessionStatus          `json:"status"`
	ExecutionMode ExecutionMode          `json:"executionMode"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastActivity  time.Time              `json:"lastActivity"`
	Connected     bool                   `json:"connected"`
	Connection    *ConnectionInfo        `json:"connection,omitempty"`
	Commands      []CommandRecord        `json:"commands,omitempty"`
	History       []HistoryEntry         `json:"history,omitempty"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ExecutionMode ExecutionMode          `json:"executionMode,omitempty"`
}

// SessionSummary is the list() view of a session.
type SessionSummary struct {
	ID            string        `json:"id"`
	Status        SessionStatus `json:"status"`
	ExecutionMode ExecutionMode `json:"executionMode"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastActivity  time.Time     `json:"lastActivity"`
	Connected     bool          `json:"connected"`
	CommandCount  int           `json:"commandCount"`
	HistoryLength int           `json:"historyLength"`
}
