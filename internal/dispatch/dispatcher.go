package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/pkg/models"
)

var (
	// ErrNoConnection is returned when extension routing is required but
	// no live connection exists.
	ErrNoConnection = errors.New("no live extension connection for session")
	// ErrTimeout is returned when a command exceeds its budget.
	ErrTimeout = errors.New("command timed out")
	// ErrQueueFull is returned when a session's command backlog is at
	// capacity.
	ErrQueueFull = errors.New("command queue full for session")
	// ErrConnectionLost is the terminal outcome for commands in flight
	// when their connection drops.
	ErrConnectionLost = errors.New("connection lost while command in flight")
)

// ConnectionManager is the slice of the ws manager the dispatcher needs.
type ConnectionManager interface {
	IsConnected(sessionID string) bool
	SendCommand(sessionID, commandID string, cmdType models.CommandType, payload map[string]interface{}, timeout time.Duration) error
	CancelCommand(sessionID, commandID string)
}

// BrowserExecutor is the slice of the browser pool the dispatcher needs.
type BrowserExecutor interface {
	Execute(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error)
}

// Config holds dispatch settings.
type Config struct {
	DefaultTimeout    time.Duration
	MaxQueuedCommands int
}

// pending is one in-flight extension-routed command. resolve fires at
// most once; whichever of {result, timeout, connection-loss} gets there
// first wins and the losers are dropped.
type pending struct {
	id        string
	sessionID string
	once      sync.Once
	done      chan struct{}
	result    *models.CommandResult
	err       error
}

func (p *pending) resolve(res *models.CommandResult, err error) bool {
	won := false
	p.once.Do(func() {
		p.result = res
		p.err = err
		close(p.done)
		won = true
	})
	return won
}

// Dispatcher validates inbound commands, routes them to the extension
// or the browser pool, and correlates asynchronous results back to the
// caller.
type Dispatcher struct {
	registry *session.Registry
	conns    ConnectionManager
	pool     BrowserExecutor
	cfg      Config
	logger   *logrus.Entry

	mu       sync.Mutex
	pending  map[string]*pending // keyed by command id
	inflight map[string]int      // per-session backlog count
}

// NewDispatcher creates the command dispatcher.
func NewDispatcher(registry *session.Registry, conns ConnectionManager, pool BrowserExecutor, cfg Config, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		conns:    conns,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]*pending),
		inflight: make(map[string]int),
	}
}

// Execute validates, routes, and runs one command for a session,
// returning its single definitive outcome.
func (d *Dispatcher) Execute(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	sess, err := d.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if spec.Timeout <= 0 {
		spec.Timeout = d.cfg.DefaultTimeout
	}

	if err := d.admit(sessionID); err != nil {
		return nil, err
	}
	defer d.release(sessionID)

	commandID := uuid.New().String()
	d.registry.AppendCommand(sessionID, models.CommandRecord{
		ID:        commandID,
		SessionID: sessionID,
		Type:      spec.Type,
		Payload:   spec.Payload,
		Status:    models.CommandPending,
		CreatedAt: time.Now(),
	})

	live := d.conns.IsConnected(sessionID)
	useExtension := false
	switch sess.ExecutionMode {
	case models.ModeExtension:
		if !live {
			d.registry.ResolveCommand(sessionID, commandID, models.CommandFailed,
				&models.CommandResult{Success: false, Error: ErrNoConnection.Error()})
			return nil, ErrNoConnection
		}
		useExtension = true
	case models.ModeServer:
		useExtension = false
	default: // auto
		useExtension = live
	}

	if useExtension {
		return d.executeExtension(ctx, sessionID, commandID, spec)
	}
	return d.executeServer(ctx, sessionID, commandID, spec)
}

// executeServer runs the command synchronously on the browser pool. No
// timeout race is needed; the pool bounds each action itself.
func (d *Dispatcher) executeServer(ctx context.Context, sessionID, commandID string, spec models.CommandSpec) (*models.CommandResult, error) {
	d.registry.SetCommandStatus(sessionID, commandID, models.CommandExecuting)

	res, err := d.pool.Execute(ctx, sessionID, spec)
	if err != nil {
		// Launch failures are retryable on the next command.
		d.registry.ResolveCommand(sessionID, commandID, models.CommandFailed,
			&models.CommandResult{Success: false, Error: err.Error()})
		return nil, fmt.Errorf("browser execution failed: %w", err)
	}

	status := models.CommandCompleted
	if !res.Success {
		status = models.CommandFailed
	}
	d.registry.ResolveCommand(sessionID, commandID, status, res)
	d.registry.Touch(sessionID)
	return res, nil
}

// executeExtension sends the command over the duplex connection and
// awaits exactly one of {result, timeout, connection-loss}.
func (d *Dispatcher) executeExtension(ctx context.Context, sessionID, commandID string, spec models.CommandSpec) (*models.CommandResult, error) {
	p := &pending{
		id:        commandID,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	d.pending[commandID] = p
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, commandID)
		d.mu.Unlock()
	}()

	if err := d.conns.SendCommand(sessionID, commandID, spec.Type, spec.Payload, spec.Timeout); err != nil {
		d.registry.ResolveCommand(sessionID, commandID, models.CommandFailed,
			&models.CommandResult{Success: false, Error: err.Error()})
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, err)
	}
	d.registry.SetCommandStatus(sessionID, commandID, models.CommandSent)

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		if p.resolve(nil, ErrTimeout) {
			d.conns.CancelCommand(sessionID, commandID)
		}
	case <-ctx.Done():
		if p.resolve(nil, ctx.Err()) {
			d.conns.CancelCommand(sessionID, commandID)
		}
	}
	<-p.done

	switch {
	case p.err == nil:
		status := models.CommandCompleted
		if !p.result.Success {
			status = models.CommandFailed
		}
		d.registry.ResolveCommand(sessionID, commandID, status, p.result)
		d.registry.Touch(sessionID)
		return p.result, nil
	case errors.Is(p.err, ErrTimeout):
		d.registry.ResolveCommand(sessionID, commandID, models.CommandFailed,
			&models.CommandResult{Success: false, Error: ErrTimeout.Error()})
		return nil, ErrTimeout
	case errors.Is(p.err, context.Canceled), errors.Is(p.err, context.DeadlineExceeded):
		d.registry.ResolveCommand(sessionID, commandID, models.CommandCancelled,
			&models.CommandResult{Success: false, Error: p.err.Error()})
		return nil, p.err
	default:
		d.registry.ResolveCommand(sessionID, commandID, models.CommandFailed,
			&models.CommandResult{Success: false, Error: p.err.Error()})
		return nil, p.err
	}
}

// ResolveResult is called by the connection manager when a
// command_result frame arrives. Results for unknown or already-resolved
// commands are logged and dropped, never double-applied.
func (d *Dispatcher) ResolveResult(commandID string, success bool, result map[string]interface{}, errMsg string) {
	d.mu.Lock()
	p, ok := d.pending[commandID]
	d.mu.Unlock()

	if !ok {
		d.logger.WithField("command_id", commandID).Debug("late result for unknown command dropped")
		return
	}

	res := &models.CommandResult{Success: success, Data: result, Error: errMsg}
	if !p.resolve(res, nil) {
		d.logger.WithField("command_id", commandID).Debug("late result for resolved command dropped")
	}
}

// FailSession fails every in-flight command for the session so callers
// do not sit out their full timeout after a connection drop.
func (d *Dispatcher) FailSession(sessionID string, cause error) {
	d.mu.Lock()
	var toFail []*pending
	for _, p := range d.pending {
		if p.sessionID == sessionID {
			toFail = append(toFail, p)
		}
	}
	d.mu.Unlock()

	for _, p := range toFail {
		p.resolve(nil, fmt.Errorf("%w: %s", ErrConnectionLost, cause))
	}
	if len(toFail) > 0 {
		d.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"commands":   len(toFail),
		}).Info("failed in-flight commands after connection loss")
	}
}

// PendingCount reports the number of in-flight extension commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) admit(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[sessionID] >= d.cfg.MaxQueuedCommands {
		return ErrQueueFull
	}
	d.inflight[sessionID]++
	return nil
}

func (d *Dispatcher) release(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[sessionID] > 0 {
		d.inflight[sessionID]--
	}
	if d.inflight[sessionID] == 0 {
		delete(d.inflight, sessionID)
	}
}
