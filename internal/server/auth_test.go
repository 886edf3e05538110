package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordVerifierPlain(t *testing.T) {
	v, err := newPasswordVerifier(Config{Password: "letmein"})
	require.NoError(t, err)

	assert.True(t, v.verify("letmein"))
	assert.False(t, v.verify("letmein "))
	assert.False(t, v.verify(""))
}

func TestPasswordVerifierHash(t *testing.T) {
	hash, err := HashPassword("letmein", bcrypt.MinCost)
	require.NoError(t, err)

	v, err := newPasswordVerifier(Config{Password: "ignored", PasswordHash: hash})
	require.NoError(t, err)

	assert.True(t, v.verify("letmein"))
	assert.False(t, v.verify("ignored"))
}

func TestPasswordVerifierRejectsBadConfig(t *testing.T) {
	_, err := newPasswordVerifier(Config{PasswordHash: "not-a-bcrypt-hash"})
	assert.Error(t, err)

	_, err = newPasswordVerifier(Config{})
	assert.Error(t, err)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword("", 0)
	assert.Error(t, err)
}

func TestAuthFailReason(t *testing.T) {
	tests := []struct {
		err    error
		reason string
		notify bool
	}{
		{ErrAuthTimeout, "No auth received", true},
		{ErrMalformedAuth, "Malformed auth", true},
		{ErrAuthRequired, "Auth required", true},
		{ErrWrongPassword, "Wrong password", true},
		{ErrUsernameTaken, "Username already taken", true},
		{ErrUsernameTooLong, "Username too long", true},
		{errHandshakeAborted, "", false},
	}
	for _, tt := range tests {
		reason, notify := authFailReason(tt.err)
		assert.Equal(t, tt.reason, reason, tt.err.Error())
		assert.Equal(t, tt.notify, notify, tt.err.Error())
	}
}
