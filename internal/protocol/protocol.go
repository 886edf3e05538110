// Package protocol defines the JSON message shapes exchanged between chat
// clients and the relay, and the helpers that encode and decode them.
//
// Every WebSocket text frame carries exactly one message object. Inbound
// messages (client to server) are a tagged union of Auth and Chat; outbound
// messages (server to client) are represented by Outbound, whose Type selects
// which fields appear on the wire.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Type is the value of the "type" discriminator field.
type Type string

// Inbound message types.
const (
	TypeAuth Type = "auth"
	TypeChat Type = "chat"
)

// Outbound message types. TypeChat is shared with the inbound direction.
const (
	TypeAuthOK   Type = "auth_ok"
	TypeAuthFail Type = "auth_fail"
	TypePrivate  Type = "private"
	TypeSystem   Type = "system"
	TypeUsers    Type = "users"
)

// TimestampLayout renders chat timestamps in local time, e.g. "2025-10-07 03:45:12 PM".
const TimestampLayout = "2006-01-02 03:04:05 PM"

var (
	// ErrMalformed reports a frame that is not a JSON object of the expected shape.
	ErrMalformed = errors.New("protocol: malformed payload")
	// ErrUnknownType reports a well-formed object whose type is not recognized
	// or which lacks the fields its type requires.
	ErrUnknownType = errors.New("protocol: unknown packet type")
)

// Inbound is a decoded client-to-server message: either Auth or Chat.
type Inbound interface {
	inboundType() Type
}

// Auth is the first message a client sends.
type Auth struct {
	Username string
	Password string
}

func (Auth) inboundType() Type { return TypeAuth }

// MarshalJSON encodes the auth message with its type tag.
func (a Auth) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     Type   `json:"type"`
		Username string `json:"username"`
		Password string `json:"password"`
	}{TypeAuth, a.Username, a.Password})
}

// Chat carries one line of user input, which may be a slash command.
type Chat struct {
	Text string
}

func (Chat) inboundType() Type { return TypeChat }

// MarshalJSON encodes the chat message with its type tag.
func (c Chat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Type   `json:"type"`
		Text string `json:"text"`
	}{TypeChat, c.Text})
}

type inboundEnvelope struct {
	Type     Type    `json:"type"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Text     *string `json:"text"`
}

// Decode parses one inbound frame. It returns an error wrapping ErrMalformed
// when the frame is not a JSON object, and ErrUnknownType when the object's
// type is not auth or chat, or a chat object has no text field.
func Decode(data []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeAuth:
		return Auth{Username: env.Username, Password: env.Password}, nil
	case TypeChat:
		if env.Text == nil {
			return nil, fmt.Errorf("%w: chat without text", ErrUnknownType)
		}
		return Chat{Text: *env.Text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Outbound is a server-to-client message. Only the fields relevant to Type
// are written by MarshalJSON; all fields are read back by the default
// decoder, which lets clients and tests unmarshal any outbound frame into it.
type Outbound struct {
	Type      Type     `json:"type"`
	Reason    string   `json:"reason,omitempty"`
	From      string   `json:"from,omitempty"`
	Text      string   `json:"text,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Message   string   `json:"message,omitempty"`
	Users     []string `json:"users,omitempty"`
}

// AuthOK acknowledges a successful handshake.
func AuthOK() Outbound {
	return Outbound{Type: TypeAuthOK}
}

// AuthFail rejects a handshake with a human readable reason.
func AuthFail(reason string) Outbound {
	return Outbound{Type: TypeAuthFail, Reason: reason}
}

// ChatFrom is a public chat line.
func ChatFrom(from, text string, at time.Time) Outbound {
	return Outbound{Type: TypeChat, From: from, Text: text, Timestamp: FormatTimestamp(at)}
}

// PrivateFrom is a direct message delivered to a single recipient.
func PrivateFrom(from, text string, at time.Time) Outbound {
	return Outbound{Type: TypePrivate, From: from, Text: text, Timestamp: FormatTimestamp(at)}
}

// System is a server notice.
func System(message string) Outbound {
	return Outbound{Type: TypeSystem, Message: message}
}

// Users lists the online usernames. The slice is copied.
func Users(usernames []string) Outbound {
	users := make([]string, len(usernames))
	copy(users, usernames)
	return Outbound{Type: TypeUsers, Users: users}
}

// MarshalJSON writes exactly the fields defined for the message type.
func (o Outbound) MarshalJSON() ([]byte, error) {
	switch o.Type {
	case TypeAuthOK:
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{o.Type})
	case TypeAuthFail:
		return json.Marshal(struct {
			Type   Type   `json:"type"`
			Reason string `json:"reason"`
		}{o.Type, o.Reason})
	case TypeChat, TypePrivate:
		return json.Marshal(struct {
			Type      Type   `json:"type"`
			From      string `json:"from"`
			Text      string `json:"text"`
			Timestamp string `json:"timestamp"`
		}{o.Type, o.From, o.Text, o.Timestamp})
	case TypeSystem:
		return json.Marshal(struct {
			Type    Type   `json:"type"`
			Message string `json:"message"`
		}{o.Type, o.Message})
	case TypeUsers:
		users := o.Users
		if users == nil {
			users = []string{}
		}
		return json.Marshal(struct {
			Type  Type     `json:"type"`
			Users []string `json:"users"`
		}{o.Type, users})
	default:
		return nil, fmt.Errorf("protocol: cannot encode outbound type %q", o.Type)
	}
}

// Encode serializes an outbound message into a single frame payload.
func Encode(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}

// FormatTimestamp renders t in local time using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// Truncate returns text cut to at most limit runes. A non-positive limit
// leaves the text untouched.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}
