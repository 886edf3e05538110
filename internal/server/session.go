package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the lifecycle position of a session.
type State int

// Session states, in order.
const (
	StateConnected State = iota
	StateAwaitingAuth
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session drives one connection from handshake to teardown. It owns all
// reads from the socket; writes go through client.
type session struct {
	conn       *websocket.Conn
	client     *Client
	hub        *Hub
	dispatcher *Dispatcher
	verifier   passwordVerifier
	cfg        Config
	state      State
	log        *zap.Logger
}

// run executes the session to completion. It returns once the connection
// is closed and the write pump has exited.
func (s *session) run() {
	go s.client.writePump()

	s.transition(StateAwaitingAuth)
	if err := s.handshake(); err != nil {
		s.rejectAuth(err)
		return
	}
	s.transition(StateAuthenticated)

	s.readLoop()
	s.teardown()
}

func (s *session) transition(next State) {
	s.log.Debug("Session state change",
		zap.Stringer("from", s.state),
		zap.Stringer("to", next))
	s.state = next
}

// handshake reads exactly one frame within the auth timeout and, when it is
// valid, joins the hub.
func (s *session) handshake() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout)); err != nil {
		return fmt.Errorf("%w: %v", errHandshakeAborted, err)
	}

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		switch {
		case isTimeout(err):
			return ErrAuthTimeout
		case errors.Is(err, websocket.ErrReadLimit):
			// The peer has already been sent a 1009 close frame.
			return fmt.Errorf("%w: %v", errHandshakeAborted, err)
		default:
			return fmt.Errorf("%w: %v", errHandshakeAborted, err)
		}
	}

	in, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			return fmt.Errorf("%w: %v", ErrMalformedAuth, err)
		}
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}

	auth, ok := in.(protocol.Auth)
	if !ok {
		return fmt.Errorf("%w: first message was not auth", ErrAuthRequired)
	}

	username := strings.TrimSpace(auth.Username)
	if username == "" || auth.Password == "" {
		return fmt.Errorf("%w: missing username or password", ErrAuthRequired)
	}
	if utf8.RuneCountInString(username) > s.cfg.MaxUsernameLength {
		return fmt.Errorf("%w: %d runes", ErrUsernameTooLong, utf8.RuneCountInString(username))
	}
	if !s.verifier.verify(auth.Password) {
		return fmt.Errorf("%w for %q", ErrWrongPassword, username)
	}

	s.client.username = username
	s.log = s.log.With(zap.String("user", username))
	if err := s.hub.Join(s.client); err != nil {
		return err
	}

	s.setupReadConnection()
	return nil
}

// rejectAuth sends a single auth_fail when the peer can still receive it and
// closes the connection.
func (s *session) rejectAuth(err error) {
	s.log.Info("Authentication failed", zap.Error(err))

	if reason, notify := authFailReason(err); notify {
		if sendErr := s.client.Send(protocol.AuthFail(reason)); sendErr != nil {
			s.log.Debug("Could not send auth_fail", zap.Error(sendErr))
		}
	}
	s.close()
}

// setupReadConnection configures read deadlines and pong handler for the
// authenticated part of the session.
func (s *session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Debug("Error setting read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (s *session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		text, err := s.decodeChat(raw)
		if err != nil {
			s.log.Debug("Rejected packet", zap.Error(err))
			notice := "Unknown packet type."
			if errors.Is(err, ErrMalformedPacket) {
				notice = "Malformed packet (expecting JSON)."
			}
			if sendErr := s.client.Send(protocol.System(notice)); sendErr != nil {
				s.log.Debug("Could not send packet error", zap.Error(sendErr))
			}
			continue
		}

		if s.dispatcher.Dispatch(s.client, text) == OutcomeQuit {
			return
		}
	}
}

func (s *session) decodeChat(raw []byte) (string, error) {
	in, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			return "", fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnknownPacketType, err)
	}

	chat, ok := in.(protocol.Chat)
	if !ok {
		return "", fmt.Errorf("%w: %T after authentication", ErrUnknownPacketType, in)
	}
	return protocol.Truncate(chat.Text, s.cfg.MaxMessageLength), nil
}

// logReadError records why the read loop ended.
func (s *session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Info("Message exceeded maximum frame size", zap.Int64("limit", s.cfg.MaxFrameSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Info("Client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		s.log.Info("Client connection closed", zap.Error(err))
	case isTimeout(err):
		s.log.Info("Client timed out", zap.Error(err))
	default:
		s.log.Warn("WebSocket read error", zap.Error(err))
	}
}

// teardown runs when an authenticated session ends.
func (s *session) teardown() {
	s.hub.Leave(s.client)
	s.close()
}

func (s *session) close() {
	s.client.Close()
	if !s.client.waitDone(writeWait + time.Second) {
		s.log.Warn("Write pump did not exit in time; closing socket")
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug("Error closing connection", zap.Error(err))
		}
	}
	s.transition(StateClosed)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
