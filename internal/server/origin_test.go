package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestOriginPolicy(t *testing.T) {
	logger := zaptest.NewLogger(t)
	policy := newOriginPolicy([]string{"HTTP://Localhost:8765", " ", "not a url"}, logger)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8765", true},
		{"http://LOCALHOST:8765", true},
		{"http://localhost:9999", false},
		{"https://evil.example", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		r, _ := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, policy.checkOrigin(r), tt.origin)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, zaptest.NewLogger(t))

	r, _ := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
	r.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, policy.isAllowed(r))
}
