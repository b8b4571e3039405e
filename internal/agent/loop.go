package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/webpilot-ai/webpilot/internal/planner"
	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/pkg/models"
)

// Executor is the slice of the dispatcher the loop needs.
type Executor interface {
	Execute(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error)
}

// Config bounds the loop.
type Config struct {
	MaxIterations int
	ActionDelay   time.Duration
	SettleDelay   time.Duration
}

// Loop turns a natural-language instruction into a bounded sequence of
// browser actions: plan, act, observe, repeat.
type Loop struct {
	exec     Executor
	planner  planner.Planner
	registry *session.Registry
	cfg      Config
	logger   *logrus.Entry
}

// NewLoop creates the task agent loop.
func NewLoop(exec Executor, pl planner.Planner, registry *session.Registry, cfg Config, logger *logrus.Entry) *Loop {
	return &Loop{exec: exec, planner: pl, registry: registry, cfg: cfg, logger: logger}
}

// Run executes one instruction against a session and returns the full
// action trace. The loop never issues overlapping actions: everything
// for one task runs strictly sequentially.
func (l *Loop) Run(ctx context.Context, sessionID, instruction string) (*models.TaskResult, error) {
	if _, err := l.registry.Get(sessionID); err != nil {
		return nil, err
	}

	task := &models.TaskResult{
		TaskID:      uuid.New().String(),
		SessionID:   sessionID,
		Instruction: instruction,
		StartedAt:   time.Now(),
	}

	l.registry.AppendHistory(sessionID, "user", instruction)
	l.logger.WithFields(logrus.Fields{
		"task_id":    task.TaskID,
		"session_id": sessionID,
	}).Info("task started")

	narrative := l.run(ctx, sessionID, task)

	task.FinishedAt = time.Now()
	task.Narrative = narrative
	l.registry.AppendHistory(sessionID, "assistant", narrative)

	l.logger.WithFields(logrus.Fields{
		"task_id":    task.TaskID,
		"iterations": task.Iterations,
		"success":    task.Success,
	}).Info("task finished")

	return task, nil
}

func (l *Loop) run(ctx context.Context, sessionID string, task *models.TaskResult) string {
	history, _ := l.registry.History(sessionID)

	// Initial probe: does the instruction imply navigating somewhere
	// first? The planner sees history only, no screenshot.
	initial, err := l.planner.Plan(ctx, planner.Request{
		Instruction: task.Instruction,
		History:     history,
	})
	if err != nil {
		task.Success = false
		return "Task failed before the first action: " + err.Error()
	}
	if initial.NavigateURL != "" {
		spec := models.CommandSpec{
			Type:    models.CmdNavigate,
			Payload: map[string]interface{}{"url": initial.NavigateURL},
		}
		rec := l.execute(ctx, sessionID, spec)
		task.Actions = append(task.Actions, rec)
		if !rec.Success && !isSelectorError(rec.Error) {
			task.Success = false
			return "Initial navigation failed: " + rec.Error
		}
		l.sleep(ctx, l.cfg.SettleDelay)
	}

	shot, _ := l.capture(ctx, sessionID)
	task.BeforeScreenshot = shot
	elements := l.elements(ctx, sessionID)

	lastResponse := initial.Response

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		task.Iterations = iter + 1
		history, _ = l.registry.History(sessionID)

		decision, err := l.planner.Plan(ctx, planner.Request{
			Instruction: task.Instruction,
			History:     history,
			Screenshot:  shot,
			Elements:    elements,
		})
		if err != nil {
			task.Success = false
			task.AfterScreenshot, _ = l.capture(ctx, sessionID)
			return "Task failed while planning: " + err.Error()
		}
		if decision.Response != "" {
			lastResponse = decision.Response
		}

		if decision.Complete || !decision.RequiresAction {
			task.Success = true
			task.AfterScreenshot, _ = l.capture(ctx, sessionID)
			if lastResponse != "" {
				return lastResponse
			}
			return "Task completed."
		}

		// ACTING: run the proposed actions in order, letting the page
		// settle between each.
		for _, spec := range decision.Actions {
			select {
			case <-ctx.Done():
				task.Success = false
				return "Task cancelled: " + ctx.Err().Error()
			default:
			}

			rec := l.execute(ctx, sessionID, spec)
			task.Actions = append(task.Actions, rec)

			if !rec.Success {
				if isSelectorError(rec.Error) {
					// Self-correction for brittle selectors: abandon the
					// rest of this batch and re-plan from a fresh look.
					l.logger.WithField("error", rec.Error).Debug("selector miss, re-planning")
					break
				}
				task.Success = false
				task.AfterScreenshot, _ = l.capture(ctx, sessionID)
				return "Action failed: " + rec.Error
			}
			l.sleep(ctx, l.cfg.ActionDelay)
		}

		// OBSERVING: fresh screenshot and element list for the next
		// planning round.
		l.sleep(ctx, l.cfg.SettleDelay)
		shot, _ = l.capture(ctx, sessionID)
		elements = l.elements(ctx, sessionID)
	}

	task.Success = false
	task.AfterScreenshot = shot
	return fmt.Sprintf("Stopped after reaching the iteration cap (%d). Last status: %s",
		l.cfg.MaxIterations, lastResponse)
}

// execute runs one action through the dispatcher, folding transport
// errors into the record.
func (l *Loop) execute(ctx context.Context, sessionID string, spec models.CommandSpec) models.ActionRecord {
	rec := models.ActionRecord{Command: spec, Timestamp: time.Now()}

	res, err := l.exec.Execute(ctx, sessionID, spec)
	if err != nil {
		rec.Success = false
		rec.Error = err.Error()
		return rec
	}
	rec.Result = res
	rec.Success = res.Success
	rec.Error = res.Error
	return rec
}

// capture fetches a screenshot through the dispatcher.
func (l *Loop) capture(ctx context.Context, sessionID string) (string, error) {
	res, err := l.exec.Execute(ctx, sessionID, models.CommandSpec{
		Type:    models.CmdScreenshot,
		Payload: map[string]interface{}{},
	})
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("screenshot failed: %s", res.Error)
	}
	data, _ := res.Data["data"].(string)
	return data, nil
}

// elements fetches the page's interactive-element list. The result may
// arrive typed (server path) or as decoded JSON (extension path), so it
// goes through a marshal round-trip.
func (l *Loop) elements(ctx context.Context, sessionID string) []models.PageElement {
	res, err := l.exec.Execute(ctx, sessionID, models.CommandSpec{
		Type:    models.CmdGetPageElements,
		Payload: map[string]interface{}{},
	})
	if err != nil || !res.Success {
		return nil
	}
	raw, err := json.Marshal(res.Data["elements"])
	if err != nil {
		return nil
	}
	var elements []models.PageElement
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}
	return elements
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// isSelectorError recognizes failures caused by a missing or
// unresolvable selector, which the loop treats as recoverable.
func isSelectorError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "selector") ||
		strings.Contains(lower, "no element") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "timeout waiting")
}
