package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity is returned when the maximum number of concurrent
	// sessions has been reached.
	ErrCapacity = errors.New("maximum concurrent sessions reached")
)

// Releaser frees downstream resources owned by a session. The connection
// manager and the browser pool both register one so that deleting a
// session closes its duplex connection and disposes its browser.
type Releaser interface {
	ReleaseSession(sessionID string)
}

// Config holds the registry's capacity and expiry settings.
type Config struct {
	MaxSessions         int
	SweepInterval       time.Duration
	ConnectedIdleTTL    time.Duration
	DisconnectedIdleTTL time.Duration
}

// Registry owns all session records and their expiry policy.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	slots     *semaphore.Weighted
	cfg       Config
	releasers []Releaser
	logger    *logrus.Entry
}

// NewRegistry creates a session registry.
func NewRegistry(cfg Config, logger *logrus.Entry) *Registry {
	return &Registry{
		sessions: make(map[string]*models.Session),
		slots:    semaphore.NewWeighted(int64(cfg.MaxSessions)),
		cfg:      cfg,
		logger:   logger,
	}
}

// AddReleaser registers a resource releaser invoked on session deletion.
func (r *Registry) AddReleaser(rel Releaser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releasers = append(r.releasers, rel)
}

// Create registers a new session. It fails with ErrCapacity once the
// configured maximum number of concurrent sessions is reached.
func (r *Registry) Create(req models.CreateSessionRequest) (*models.Session, error) {
	mode := req.ExecutionMode
	if mode == "" {
		mode = models.ModeAuto
	}
	switch mode {
	case models.ModeAuto, models.ModeExtension, models.ModeServer:
	default:
		return nil, fmt.Errorf("invalid execution mode %q", mode)
	}

	if !r.slots.TryAcquire(1) {
		return nil, ErrCapacity
	}

	now := time.Now()
	sess := &models.Session{
		ID:            uuid.New().String(),
		Status:        models.StatusCreated,
		ExecutionMode: mode,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		LastActivity:  now,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"mode":       string(mode),
	}).Info("session created")

	return snapshot(sess), nil
}

// Get returns a point-in-time copy of the session.
func (r *Registry) Get(id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(sess), nil
}

// List returns a summary snapshot of all sessions.
func (r *Registry) List() []models.SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, models.SessionSummary{
			ID:            s.ID,
			Status:        s.Status,
			ExecutionMode: s.ExecutionMode,
			CreatedAt:     s.CreatedAt,
			LastActivity:  s.LastActivity,
			Connected:     s.Connected,
			CommandCount:  len(s.Commands),
			HistoryLength: len(s.History),
		})
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UpdateStatus sets a session's status.
func (r *Registry) UpdateStatus(id string, status models.SessionStatus) error {
	return r.update(id, func(s *models.Session) {
		s.Status = status
	})
}

// SetConnected attaches a connection descriptor. A prior descriptor is
// overwritten; the connection manager severs the old socket first.
func (r *Registry) SetConnected(id string, info *models.ConnectionInfo) error {
	return r.update(id, func(s *models.Session) {
		s.Connected = true
		s.Connection = info
		s.Status = models.StatusConnected
	})
}

// SetDisconnected clears the connection descriptor.
func (r *Registry) SetDisconnected(id string) error {
	return r.update(id, func(s *models.Session) {
		s.Connected = false
		s.Connection = nil
		s.Status = models.StatusDisconnected
	})
}

// Touch refreshes the session's last-activity time. LastActivity only
// ever moves forward.
func (r *Registry) Touch(id string) error {
	return r.update(id, func(s *models.Session) {})
}

// AppendHistory adds a role-tagged entry to the conversation log.
func (r *Registry) AppendHistory(id, role, content string) error {
	return r.update(id, func(s *models.Session) {
		s.History = append(s.History, models.HistoryEntry{
			Role:      role,
			Content:   content,
			Timestamp: time.Now(),
		})
	})
}

// History returns a copy of the session's conversation log.
func (r *Registry) History(id string) ([]models.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.HistoryEntry, len(sess.History))
	copy(out, sess.History)
	return out, nil
}

// AppendCommand records a submitted command on the session.
func (r *Registry) AppendCommand(id string, rec models.CommandRecord) error {
	return r.update(id, func(s *models.Session) {
		s.Commands = append(s.Commands, rec)
	})
}

// SetCommandStatus updates a command's non-terminal status. Records
// that already hold a result are left untouched.
func (r *Registry) SetCommandStatus(id, commandID string, status models.CommandStatus) error {
	return r.update(id, func(s *models.Session) {
		for i := range s.Commands {
			if s.Commands[i].ID == commandID && s.Commands[i].Result == nil {
				s.Commands[i].Status = status
				return
			}
		}
	})
}

// ResolveCommand stores the terminal outcome of a command on its audit
// record. A record that already holds a result is left untouched.
func (r *Registry) ResolveCommand(id, commandID string, status models.CommandStatus, result *models.CommandResult) error {
	return r.update(id, func(s *models.Session) {
		for i := range s.Commands {
			if s.Commands[i].ID != commandID {
				continue
			}
			if s.Commands[i].Result != nil {
				return
			}
			s.Commands[i].Status = status
			s.Commands[i].Result = result
			s.Commands[i].ResolvedAt = time.Now()
			return
		}
	})
}

// Delete removes a session and releases its downstream resources.
// Deleting an unknown session is a no-op.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, id)
	releasers := make([]Releaser, len(r.releasers))
	copy(releasers, r.releasers)
	r.mu.Unlock()

	r.slots.Release(1)

	// Release outside the lock: releasers may call back into the registry.
	for _, rel := range releasers {
		rel.ReleaseSession(id)
	}

	r.logger.WithField("session_id", id).Info("session deleted")
	return nil
}

// StartSweeper runs the expiry sweep until ctx is cancelled. Connected
// sessions get a longer grace period than disconnected ones.
func (r *Registry) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		ttl := r.cfg.DisconnectedIdleTTL
		if s.Connected {
			ttl = r.cfg.ConnectedIdleTTL
		}
		if now.Sub(s.LastActivity) > ttl {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.logger.WithField("session_id", id).Info("session expired, sweeping")
		if err := r.UpdateStatus(id, models.StatusExpired); err != nil {
			continue
		}
		if err := r.Delete(id); err != nil {
			r.logger.WithField("session_id", id).WithError(err).Warn("sweep delete failed")
		}
	}
}

// update applies fn to the live record under the lock and advances
// LastActivity.
func (r *Registry) update(id string, fn func(*models.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(sess)
	if now := time.Now(); now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
	return nil
}

// snapshot deep-copies the mutable parts of a session so callers never
// observe concurrent mutation.
func snapshot(s *models.Session) *models.Session {
	cp := *s
	if s.Connection != nil {
		conn := *s.Connection
		cp.Connection = &conn
	}
	cp.Commands = make([]models.CommandRecord, len(s.Commands))
	copy(cp.Commands, s.Commands)
	cp.History = make([]models.HistoryEntry, len(s.History))
	copy(cp.History, s.History)
	return &cp
}
