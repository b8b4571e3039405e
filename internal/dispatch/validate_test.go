package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    models.CommandSpec
		wantErr string
	}{
		{
			name: "navigate ok",
			spec: models.CommandSpec{Type: models.CmdNavigate, Payload: map[string]interface{}{"url": "https://example.com"}},
		},
		{
			name:    "unknown type",
			spec:    models.CommandSpec{Type: "teleport"},
			wantErr: "unknown command type",
		},
		{
			name:    "navigate missing url",
			spec:    models.CommandSpec{Type: models.CmdNavigate, Payload: map[string]interface{}{}},
			wantErr: "missing required payload field",
		},
		{
			name:    "click empty selector",
			spec:    models.CommandSpec{Type: models.CmdClick, Payload: map[string]interface{}{"selector": ""}},
			wantErr: "empty required payload field",
		},
		{
			name: "type requires selector and text",
			spec: models.CommandSpec{Type: models.CmdType, Payload: map[string]interface{}{
				"selector": "#q", "text": "hello",
			}},
		},
		{
			name:    "coordinate click missing y",
			spec:    models.CommandSpec{Type: models.CmdClickCoordinate, Payload: map[string]interface{}{"x": 10.0}},
			wantErr: "missing required payload field",
		},
		{
			name: "screenshot needs nothing",
			spec: models.CommandSpec{Type: models.CmdScreenshot, Payload: map[string]interface{}{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
