package server

import (
	"errors"
	"strings"
)

// Handshake failures. Each one ends the session after a single auth_fail.
var (
	ErrAuthTimeout      = errors.New("no auth received")
	ErrMalformedAuth    = errors.New("malformed auth")
	ErrAuthRequired     = errors.New("auth required")
	ErrWrongPassword    = errors.New("wrong password")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrUsernameTooLong  = errors.New("username too long")
	errHandshakeAborted = errors.New("connection closed during handshake")
)

// Recoverable errors. The client is told and the session continues.
var (
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrCommandUsage      = errors.New("command usage")
	ErrTargetNotFound    = errors.New("target not found")
)

// Delivery errors returned by Client.Send.
var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrClientClosed  = errors.New("client closed")
)

// ErrHubClosed is returned by Hub.Join once the hub has been shut down.
var ErrHubClosed = errors.New("hub closed")

// authFailReason maps a handshake error to the reason sent in auth_fail.
// It returns false when no notification should be attempted.
func authFailReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrAuthTimeout):
		return "No auth received", true
	case errors.Is(err, ErrMalformedAuth):
		return "Malformed auth", true
	case errors.Is(err, ErrAuthRequired):
		return "Auth required", true
	case errors.Is(err, ErrWrongPassword):
		return "Wrong password", true
	case errors.Is(err, ErrUsernameTaken):
		return "Username already taken", true
	case errors.Is(err, ErrUsernameTooLong):
		return "Username too long", true
	case errors.Is(err, errHandshakeAborted), errors.Is(err, ErrHubClosed):
		return "", false
	default:
		return "Auth required", true
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
