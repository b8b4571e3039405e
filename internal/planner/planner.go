// Package planner wraps the external vision/language model that decides
// the next browser actions for a natural-language task. The model is a
// black box returning loosely structured text; every consumer goes
// through ParseDecision, which tolerates malformed output by falling
// back to a deterministic heuristic.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// Request carries everything the planner may consider: conversation
// history, an optional screenshot, and the page's interactive elements.
type Request struct {
	Instruction string
	History     []models.HistoryEntry
	Screenshot  string // base64 PNG, empty on the initial probe
	Elements    []models.PageElement
}

// Decision is the planner's structured answer.
type Decision struct {
	Rationale      string               `json:"rationale"`
	Response       string               `json:"response"`
	RequiresAction bool                 `json:"requiresAction"`
	Complete       bool                 `json:"complete"`
	NavigateURL    string               `json:"navigateUrl,omitempty"`
	Actions        []models.CommandSpec `json:"actions,omitempty"`
}

// Planner is the interface the task loop depends on.
type Planner interface {
	Plan(ctx context.Context, req Request) (*Decision, error)
}

// ErrUnparseable marks planner output that did not contain a decision.
var ErrUnparseable = errors.New("unparseable planner response")

// ParseDecision extracts a Decision from raw model output. Models wrap
// JSON in prose and code fences, so it scans for the outermost object.
func ParseDecision(content string) (*Decision, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, ErrUnparseable
	}

	var d Decision
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &d); err != nil {
		return nil, ErrUnparseable
	}
	return &d, nil
}

// HeuristicDecision is the keyword-based fallback used when the model's
// output cannot be parsed. It is deliberately conservative: it never
// proposes actions, only guesses whether the task looks finished.
func HeuristicDecision(instruction, content string) *Decision {
	lower := strings.ToLower(content)
	done := strings.Contains(lower, "complete") ||
		strings.Contains(lower, "finished") ||
		strings.Contains(lower, "done")

	response := strings.TrimSpace(content)
	if len(response) > 500 {
		response = response[:500]
	}
	if response == "" {
		response = "The planner returned no usable response for: " + instruction
	}

	return &Decision{
		Response:       response,
		RequiresAction: false,
		Complete:       done,
	}
}
