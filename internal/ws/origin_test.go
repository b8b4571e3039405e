package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"empty list admits all", "https://anywhere.example", nil, true},
		{"exact match", "https://app.example.com", []string{"https://app.example.com"}, true},
		{"exact mismatch", "https://evil.example.net", []string{"https://app.example.com"}, false},
		{"global wildcard", "https://anywhere.example", []string{"*"}, true},
		{"scheme prefix wildcard", "chrome-extension://abcdef", []string{"chrome-extension://*"}, true},
		{"scheme prefix mismatch", "moz-extension://abcdef", []string{"chrome-extension://*"}, false},
		{"subdomain wildcard", "https://staging.example.com", []string{"*.example.com"}, true},
		{"subdomain wildcard mismatch", "https://example.org", []string{"*.example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allowOrigin(tt.origin, tt.allowed))
		})
	}
}
