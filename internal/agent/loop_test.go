package agent

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/internal/planner"
	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/pkg/models"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

// scriptedPlanner replays a fixed sequence of decisions, repeating the
// last one once the script runs out.
type scriptedPlanner struct {
	mu        sync.Mutex
	decisions []*planner.Decision
	calls     int
}

func (p *scriptedPlanner) Plan(ctx context.Context, req planner.Request) (*planner.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.decisions) {
		i = len(p.decisions) - 1
	}
	return p.decisions[i], nil
}

func (p *scriptedPlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubExec records every dispatched command and returns canned results.
type stubExec struct {
	mu       sync.Mutex
	commands []models.CommandSpec
	fail     func(spec models.CommandSpec) string // non-empty return fails the command
}

func (e *stubExec) Execute(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error) {
	e.mu.Lock()
	e.commands = append(e.commands, spec)
	e.mu.Unlock()

	if e.fail != nil {
		if msg := e.fail(spec); msg != "" {
			return &models.CommandResult{Success: false, Error: msg}, nil
		}
	}

	switch spec.Type {
	case models.CmdScreenshot:
		return &models.CommandResult{Success: true, Data: map[string]interface{}{"data": "aGVsbG8="}}, nil
	case models.CmdGetPageElements:
		return &models.CommandResult{Success: true, Data: map[string]interface{}{
			"elements": []map[string]interface{}{
				{"index": 0, "tag": "button", "text": "Submit", "selector": "#submit"},
			},
		}}, nil
	default:
		return &models.CommandResult{Success: true, Data: map[string]interface{}{}}, nil
	}
}

func (e *stubExec) byType(t models.CommandType) []models.CommandSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.CommandSpec
	for _, c := range e.commands {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func newTestLoop(t *testing.T, exec *stubExec, pl planner.Planner, maxIterations int) (*Loop, string) {
	t.Helper()
	registry := session.NewRegistry(session.Config{
		MaxSessions:         10,
		SweepInterval:       time.Minute,
		ConnectedIdleTTL:    time.Minute,
		DisconnectedIdleTTL: time.Minute,
	}, testLogger())
	sess, err := registry.Create(models.CreateSessionRequest{})
	require.NoError(t, err)

	loop := NewLoop(exec, pl, registry, Config{MaxIterations: maxIterations}, testLogger())
	return loop, sess.ID
}

func TestRunUnknownSession(t *testing.T) {
	loop, _ := newTestLoop(t, &stubExec{}, &scriptedPlanner{decisions: []*planner.Decision{{}}}, 3)
	_, err := loop.Run(context.Background(), "ghost", "do something")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRunNavigatesThenCompletes(t *testing.T) {
	exec := &stubExec{}
	pl := &scriptedPlanner{decisions: []*planner.Decision{
		{NavigateURL: "https://example.com", RequiresAction: true},
		{Complete: true, Response: "The page title is Example Domain."},
	}}
	loop, id := newTestLoop(t, exec, pl, 5)

	result, err := loop.Run(context.Background(), id, "what is the title of example.com?")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "The page title is Example Domain.", result.Narrative)
	assert.Equal(t, 1, result.Iterations)
	assert.NotEmpty(t, result.BeforeScreenshot)
	assert.NotEmpty(t, result.AfterScreenshot)

	navs := exec.byType(models.CmdNavigate)
	require.Len(t, navs, 1)
	assert.Equal(t, "https://example.com", navs[0].Payload["url"])
}

func TestRunRecordsActions(t *testing.T) {
	exec := &stubExec{}
	pl := &scriptedPlanner{decisions: []*planner.Decision{
		{RequiresAction: true}, // probe, no initial navigation
		{RequiresAction: true, Actions: []models.CommandSpec{
			{Type: models.CmdClick, Payload: map[string]interface{}{"selector": "#submit"}},
		}},
		{Complete: true, Response: "Submitted."},
	}}
	loop, id := newTestLoop(t, exec, pl, 5)

	result, err := loop.Run(context.Background(), id, "submit the form")
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, exec.byType(models.CmdClick), 1)
	require.Len(t, result.Actions, 1)
	assert.True(t, result.Actions[0].Success)
	assert.Equal(t, models.CmdClick, result.Actions[0].Command.Type)
}

func TestRunStopsAtIterationCap(t *testing.T) {
	exec := &stubExec{}
	pl := &scriptedPlanner{decisions: []*planner.Decision{
		{RequiresAction: true, Actions: []models.CommandSpec{
			{Type: models.CmdScroll, Payload: map[string]interface{}{}},
		}},
	}}
	loop, id := newTestLoop(t, exec, pl, 3)

	result, err := loop.Run(context.Background(), id, "scroll forever")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Iterations)
	assert.Contains(t, result.Narrative, "iteration cap")
	assert.Len(t, exec.byType(models.CmdScroll), 3)
}

func TestSelectorMissTriggersReplan(t *testing.T) {
	var failures int
	exec := &stubExec{}
	exec.fail = func(spec models.CommandSpec) string {
		if spec.Type == models.CmdClick && failures == 0 {
			failures++
			return "timeout waiting for selector #submit"
		}
		return ""
	}
	pl := &scriptedPlanner{decisions: []*planner.Decision{
		{RequiresAction: true},
		{RequiresAction: true, Actions: []models.CommandSpec{
			{Type: models.CmdClick, Payload: map[string]interface{}{"selector": "#submit"}},
		}},
		{RequiresAction: true, Actions: []models.CommandSpec{
			{Type: models.CmdClick, Payload: map[string]interface{}{"selector": "button"}},
		}},
		{Complete: true, Response: "Clicked."},
	}}
	loop, id := newTestLoop(t, exec, pl, 5)

	result, err := loop.Run(context.Background(), id, "click submit")
	require.NoError(t, err)

	// The failed click did not abort the task; the planner got another
	// look and succeeded.
	assert.True(t, result.Success)
	assert.Len(t, exec.byType(models.CmdClick), 2)
	require.Len(t, result.Actions, 2)
	assert.False(t, result.Actions[0].Success)
	assert.True(t, result.Actions[1].Success)
}

func TestHardFailureAborts(t *testing.T) {
	exec := &stubExec{}
	exec.fail = func(spec models.CommandSpec) string {
		if spec.Type == models.CmdEvaluate {
			return "browser crashed"
		}
		return ""
	}
	pl := &scriptedPlanner{decisions: []*planner.Decision{
		{RequiresAction: true},
		{RequiresAction: true, Actions: []models.CommandSpec{
			{Type: models.CmdEvaluate, Payload: map[string]interface{}{"script": "1+1"}},
		}},
	}}
	loop, id := newTestLoop(t, exec, pl, 5)

	result, err := loop.Run(context.Background(), id, "run a script")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Narrative, "Action failed")
}

func TestRunAppendsHistory(t *testing.T) {
	exec := &stubExec{}
	pl := &scriptedPlanner{decisions: []*planner.Decision{
		{Complete: true, Response: "Nothing to do."},
	}}

	registry := session.NewRegistry(session.Config{
		MaxSessions:         10,
		SweepInterval:       time.Minute,
		ConnectedIdleTTL:    time.Minute,
		DisconnectedIdleTTL: time.Minute,
	}, testLogger())
	sess, err := registry.Create(models.CreateSessionRequest{})
	require.NoError(t, err)
	loop := NewLoop(exec, pl, registry, Config{MaxIterations: 3}, testLogger())

	_, err = loop.Run(context.Background(), sess.ID, "do nothing")
	require.NoError(t, err)

	history, err := registry.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "do nothing", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
}
