package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/pkg/models"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

type fakeConns struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []string
	cancelled []string
	onSend    func(commandID string)
}

func (f *fakeConns) IsConnected(string) bool { return f.connected }

func (f *fakeConns) SendCommand(sessionID, commandID string, cmdType models.CommandType, payload map[string]interface{}, timeout time.Duration) error {
	f.mu.Lock()
	f.sent = append(f.sent, commandID)
	onSend := f.onSend
	f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if onSend != nil {
		go onSend(commandID)
	}
	return nil
}

func (f *fakeConns) CancelCommand(sessionID, commandID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, commandID)
}

func (f *fakeConns) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeConns) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type fakePool struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error)
}

func (f *fakePool) Execute(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, sessionID, spec)
	}
	return &models.CommandResult{Success: true, Data: map[string]interface{}{}}, nil
}

func (f *fakePool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDispatcher(t *testing.T, conns *fakeConns, pool *fakePool, mode models.ExecutionMode) (*Dispatcher, string) {
	t.Helper()
	registry := session.NewRegistry(session.Config{
		MaxSessions:         10,
		SweepInterval:       time.Minute,
		ConnectedIdleTTL:    time.Minute,
		DisconnectedIdleTTL: time.Minute,
	}, testLogger())
	sess, err := registry.Create(models.CreateSessionRequest{ExecutionMode: mode})
	require.NoError(t, err)

	d := NewDispatcher(registry, conns, pool, Config{
		DefaultTimeout:    time.Second,
		MaxQueuedCommands: 10,
	}, testLogger())
	return d, sess.ID
}

func navigateSpec() models.CommandSpec {
	return models.CommandSpec{
		Type:    models.CmdNavigate,
		Payload: map[string]interface{}{"url": "https://example.com"},
	}
}

func TestExecuteRejectsInvalidCommand(t *testing.T) {
	pool := &fakePool{}
	d, id := newTestDispatcher(t, &fakeConns{}, pool, models.ModeServer)

	_, err := d.Execute(context.Background(), id, models.CommandSpec{Type: "teleport"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, pool.callCount())
}

func TestExecuteUnknownSession(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeConns{}, &fakePool{}, models.ModeServer)

	_, err := d.Execute(context.Background(), "missing", navigateSpec())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestServerModeRoutesToPool(t *testing.T) {
	pool := &fakePool{fn: func(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error) {
		return &models.CommandResult{Success: true, Data: map[string]interface{}{"url": "https://example.com"}}, nil
	}}
	d, id := newTestDispatcher(t, &fakeConns{connected: true}, pool, models.ModeServer)

	res, err := d.Execute(context.Background(), id, navigateSpec())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, pool.callCount())
}

func TestAutoModePrefersLiveConnection(t *testing.T) {
	pool := &fakePool{}
	conns := &fakeConns{connected: true}
	d, id := newTestDispatcher(t, conns, pool, models.ModeAuto)
	conns.onSend = func(commandID string) {
		d.ResolveResult(commandID, true, map[string]interface{}{"title": "Example"}, "")
	}

	res, err := d.Execute(context.Background(), id, navigateSpec())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Example", res.Data["title"])
	assert.Equal(t, 0, pool.callCount())
}

func TestAutoModeFallsBackToPool(t *testing.T) {
	pool := &fakePool{}
	d, id := newTestDispatcher(t, &fakeConns{connected: false}, pool, models.ModeAuto)

	res, err := d.Execute(context.Background(), id, navigateSpec())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, pool.callCount())
}

func TestExtensionModeWithoutConnection(t *testing.T) {
	pool := &fakePool{}
	conns := &fakeConns{connected: false}
	d, id := newTestDispatcher(t, conns, pool, models.ModeExtension)

	_, err := d.Execute(context.Background(), id, navigateSpec())
	assert.ErrorIs(t, err, ErrNoConnection)
	assert.Equal(t, 0, pool.callCount())
	assert.Empty(t, conns.sentIDs())
}

func TestExtensionTimeoutCancels(t *testing.T) {
	conns := &fakeConns{connected: true} // never responds
	d, id := newTestDispatcher(t, conns, &fakePool{}, models.ModeExtension)

	spec := navigateSpec()
	spec.Timeout = 20 * time.Millisecond
	_, err := d.Execute(context.Background(), id, spec)
	assert.ErrorIs(t, err, ErrTimeout)

	sent := conns.sentIDs()
	require.Len(t, sent, 1)
	assert.Equal(t, sent, conns.cancelledIDs())
	assert.Equal(t, 0, d.PendingCount())
}

func TestLateResultIsDropped(t *testing.T) {
	conns := &fakeConns{connected: true}
	d, id := newTestDispatcher(t, conns, &fakePool{}, models.ModeExtension)

	spec := navigateSpec()
	spec.Timeout = 20 * time.Millisecond
	_, err := d.Execute(context.Background(), id, spec)
	require.ErrorIs(t, err, ErrTimeout)

	// A result arriving after the timeout must not panic or resurrect
	// the command.
	sent := conns.sentIDs()
	require.Len(t, sent, 1)
	d.ResolveResult(sent[0], true, map[string]interface{}{}, "")
	assert.Equal(t, 0, d.PendingCount())
}

func TestContextCancellation(t *testing.T) {
	conns := &fakeConns{connected: true}
	d, id := newTestDispatcher(t, conns, &fakePool{}, models.ModeExtension)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := d.Execute(ctx, id, navigateSpec())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := &fakePool{fn: func(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error) {
		<-block
		return &models.CommandResult{Success: true}, nil
	}}
	d, id := newTestDispatcher(t, &fakeConns{}, pool, models.ModeServer)
	d.cfg.MaxQueuedCommands = 1

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), id, navigateSpec())
		errCh <- err
	}()

	// Wait for the first command to occupy the slot
	require.Eventually(t, func() bool { return pool.callCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := d.Execute(context.Background(), id, navigateSpec())
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	assert.NoError(t, <-errCh)
}

func TestFailSessionUnblocksInFlight(t *testing.T) {
	conns := &fakeConns{connected: true}
	d, id := newTestDispatcher(t, conns, &fakePool{}, models.ModeExtension)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), id, navigateSpec())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return d.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	d.FailSession(id, errors.New("socket closed"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("command did not fail after connection loss")
	}
}
