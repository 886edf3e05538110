// Package testhelpers provides common utilities for testing the roomchat server.
//
// It wraps the gorilla WebSocket dialer with helpers that speak the chat
// protocol (auth, chat, reading typed server messages) so that tests can
// describe conversations instead of frame handling.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every read performed by the helpers.
const DefaultTimeout = 2 * time.Second

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL converts an httptest server URL into the chat endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// DialWithOrigin opens a WebSocket connection, setting the Origin header
// when origin is not empty.
func DialWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Dial connects to url without an Origin header and closes the connection
// when the test ends.
func Dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := DialWithOrigin(url, "")
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// WriteJSON sends v as a single text frame.
func WriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
}

// SendAuth sends the auth handshake message.
func SendAuth(t *testing.T, conn *websocket.Conn, username, password string) {
	t.Helper()
	WriteJSON(t, conn, protocol.Auth{Username: username, Password: password})
}

// SendChat sends one chat line.
func SendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	WriteJSON(t, conn, protocol.Chat{Text: text})
}

// ReadMessage reads the next server message, failing the test if none
// arrives within DefaultTimeout.
func ReadMessage(t *testing.T, conn *websocket.Conn) protocol.Outbound {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg protocol.Outbound
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode message %q: %v", data, err)
	}
	return msg
}

// ExpectMessage reads the next message and checks its type.
func ExpectMessage(t *testing.T, conn *websocket.Conn, want protocol.Type) protocol.Outbound {
	t.Helper()
	msg := ReadMessage(t, conn)
	if msg.Type != want {
		t.Fatalf("Expected %q message, got %+v", want, msg)
	}
	return msg
}

// ExpectSystem reads the next message and checks it is the given notice.
func ExpectSystem(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	msg := ExpectMessage(t, conn, protocol.TypeSystem)
	if msg.Message != want {
		t.Fatalf("Expected system message %q, got %q", want, msg.Message)
	}
}

// Login dials url, authenticates and consumes the auth_ok and users messages
// every joiner receives. It returns the connection and the user list.
func Login(t *testing.T, url, username, password string) (*websocket.Conn, []string) {
	t.Helper()
	conn := Dial(t, url)
	SendAuth(t, conn, username, password)
	ExpectMessage(t, conn, protocol.TypeAuthOK)
	users := ExpectMessage(t, conn, protocol.TypeUsers)
	return conn, users.Users
}

// ExpectNoMessage asserts that nothing arrives within timeout. A read that
// times out leaves the connection unusable, so call this last.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", data)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// ExpectClosed asserts that the server closes the connection.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected connection to close, but received %s", data)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("Connection was not closed within %v", DefaultTimeout)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
