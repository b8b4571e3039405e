package dispatch

import (
	"fmt"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// ValidationError describes a command rejected before any execution
// attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid command: %s (%s)", e.Reason, e.Field)
	}
	return "invalid command: " + e.Reason
}

// requiredFields lists, per command type, the payload fields that must
// be present. A type missing from this table is unknown.
var requiredFields = map[models.CommandType][]string{
	models.CmdNavigate:        {"url"},
	models.CmdClick:           {"selector"},
	models.CmdType:            {"selector", "text"},
	models.CmdScreenshot:      {},
	models.CmdGetTitle:        {},
	models.CmdGetURL:          {},
	models.CmdGetText:         {"selector"},
	models.CmdGetAttribute:    {"selector", "attribute"},
	models.CmdWaitForElement:  {"selector"},
	models.CmdEvaluate:        {"script"},
	models.CmdScroll:          {},
	models.CmdClickCoordinate: {"x", "y"},
	models.CmdHoverCoordinate: {"x", "y"},
	models.CmdGetPageElements: {},
	models.CmdGetPageText:     {},
	models.CmdKeyPress:        {"key"},
	models.CmdTypeText:        {"text"},
	models.CmdKeyboardInput:   {"input"},
}

// Validate checks the command type and its required payload fields.
func Validate(spec models.CommandSpec) error {
	fields, ok := requiredFields[spec.Type]
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown command type %q", spec.Type)}
	}
	for _, f := range fields {
		v, present := spec.Payload[f]
		if !present || v == nil {
			return &ValidationError{Field: f, Reason: "missing required payload field"}
		}
		if s, isStr := v.(string); isStr && s == "" {
			return &ValidationError{Field: f, Reason: "empty required payload field"}
		}
	}
	return nil
}
