package server

import (
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{"users", "/users", Command{Kind: CommandUsers}},
		{"users with whitespace", "  /users \n", Command{Kind: CommandUsers}},
		{"quit", "/quit", Command{Kind: CommandQuit}},
		{"msg", "/msg bob hi", Command{Kind: CommandMsg, Target: "bob", Body: "hi"}},
		{"msg keeps inner spacing", "/msg bob  hello   there ", Command{Kind: CommandMsg, Target: "bob", Body: "hello   there"}},
		{"msg with tab", "/msg\tbob\thi", Command{Kind: CommandMsg, Target: "bob", Body: "hi"}},
		{"msg without body", "/msg bob", Command{Kind: CommandMsg, Target: "bob"}},
		{"bare msg", "/msg", Command{Kind: CommandMsg}},
		{"chat", "hello", Command{Kind: CommandNone}},
		{"command not alone", "hello /users", Command{Kind: CommandNone}},
		{"users suffix", "/users please", Command{Kind: CommandNone}},
		{"msg prefix word", "/msgbob hi", Command{Kind: CommandNone}},
		{"case sensitive", "/QUIT", Command{Kind: CommandNone}},
		{"unknown slash", "/delay 5 hi", Command{Kind: CommandNone}},
		{"empty", "", Command{Kind: CommandNone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.text))
		})
	}
}

type dispatchFixture struct {
	hub        *Hub
	dispatcher *Dispatcher
	clients    map[string]*Client
}

func newDispatchFixture(t *testing.T, refresh bool, names ...string) *dispatchFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hub := NewHub(logger)
	d := NewDispatcher(hub, refresh, logger)
	d.now = func() time.Time { return time.Date(2025, 10, 7, 15, 45, 12, 0, time.Local) }

	f := &dispatchFixture{hub: hub, dispatcher: d, clients: map[string]*Client{}}
	for _, name := range names {
		c := newTestClient(t, name, 16)
		require.NoError(t, hub.Register(name, c))
		f.clients[name] = c
	}
	return f
}

func (f *dispatchFixture) assertQuiet(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		assertNoQueued(t, f.clients[name])
	}
}

func TestDispatchChatBroadcastsToEveryone(t *testing.T) {
	f := newDispatchFixture(t, false, "alice", "bob")

	outcome := f.dispatcher.Dispatch(f.clients["alice"], "hello /users")
	assert.Equal(t, OutcomeBroadcast, outcome)

	for _, name := range []string{"alice", "bob"} {
		msg := recv(t, f.clients[name])
		assert.Equal(t, protocol.TypeChat, msg.Type)
		assert.Equal(t, "alice", msg.From)
		assert.Equal(t, "hello /users", msg.Text)
		assert.Equal(t, "2025-10-07 03:45:12 PM", msg.Timestamp)
	}
	f.assertQuiet(t, "alice", "bob")
}

func TestDispatchUsersRepliesToSenderOnly(t *testing.T) {
	f := newDispatchFixture(t, false, "alice", "bob", "carol")

	outcome := f.dispatcher.Dispatch(f.clients["bob"], "/users")
	assert.Equal(t, OutcomeHandled, outcome)

	msg := recv(t, f.clients["bob"])
	assert.Equal(t, protocol.TypeUsers, msg.Type)
	assert.Equal(t, []string{"alice", "bob", "carol"}, msg.Users)
	f.assertQuiet(t, "alice", "bob", "carol")
}

func TestDispatchRefreshUsersAfterCommand(t *testing.T) {
	f := newDispatchFixture(t, true, "alice", "bob")

	f.dispatcher.Dispatch(f.clients["alice"], "/users")

	direct := recv(t, f.clients["alice"])
	assert.Equal(t, protocol.TypeUsers, direct.Type)
	refresh := recv(t, f.clients["alice"])
	assert.Equal(t, protocol.TypeUsers, refresh.Type)

	other := recv(t, f.clients["bob"])
	assert.Equal(t, protocol.TypeUsers, other.Type)
	assert.Equal(t, []string{"alice", "bob"}, other.Users)
	f.assertQuiet(t, "alice", "bob")
}

func TestDispatchRefreshSkipsPlainChat(t *testing.T) {
	f := newDispatchFixture(t, true, "alice", "bob")

	f.dispatcher.Dispatch(f.clients["alice"], "hi")

	assert.Equal(t, protocol.TypeChat, recv(t, f.clients["alice"]).Type)
	assert.Equal(t, protocol.TypeChat, recv(t, f.clients["bob"]).Type)
	f.assertQuiet(t, "alice", "bob")
}

func TestDispatchPrivateMessage(t *testing.T) {
	f := newDispatchFixture(t, false, "alice", "bob", "carol")

	outcome := f.dispatcher.Dispatch(f.clients["bob"], "/msg alice hi there")
	assert.Equal(t, OutcomeHandled, outcome)

	private := recv(t, f.clients["alice"])
	assert.Equal(t, protocol.TypePrivate, private.Type)
	assert.Equal(t, "bob", private.From)
	assert.Equal(t, "hi there", private.Text)
	assert.Equal(t, "2025-10-07 03:45:12 PM", private.Timestamp)

	ack := recv(t, f.clients["bob"])
	assert.Equal(t, protocol.System("Private message sent."), ack)

	f.assertQuiet(t, "alice", "bob", "carol")
}

func TestDispatchPrivateMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"missing body", "/msg alice", "Usage: /msg <user> <message>"},
		{"missing target", "/msg", "Usage: /msg <user> <message>"},
		{"unknown target", "/msg dave hello", "User 'dave' not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t, false, "alice", "bob")

			outcome := f.dispatcher.Dispatch(f.clients["bob"], tt.text)
			assert.Equal(t, OutcomeHandled, outcome)
			assert.Equal(t, protocol.System(tt.want), recv(t, f.clients["bob"]))
			f.assertQuiet(t, "alice", "bob")
		})
	}
}

func TestDispatchPrivateMessageToFullQueueEvictsTarget(t *testing.T) {
	logger := zaptest.NewLogger(t)
	hub := NewHub(logger)
	d := NewDispatcher(hub, false, logger)

	sender := newTestClient(t, "bob", 4)
	stuck := newTestClient(t, "alice", 1)
	require.NoError(t, hub.Register("bob", sender))
	require.NoError(t, hub.Register("alice", stuck))
	require.NoError(t, stuck.Send(protocol.System("backlog")))

	d.Dispatch(sender, "/msg alice hi")

	assert.Equal(t, protocol.System("User 'alice' not found."), recv(t, sender))
	assert.True(t, stuck.IsClosed())
	assert.Equal(t, []string{"bob"}, hub.Snapshot())
}

func TestDispatchQuit(t *testing.T) {
	f := newDispatchFixture(t, false, "alice", "bob")

	outcome := f.dispatcher.Dispatch(f.clients["alice"], "/quit")
	assert.Equal(t, OutcomeQuit, outcome)

	assert.Equal(t, protocol.System("Goodbye."), recv(t, f.clients["alice"]))
	assert.True(t, f.clients["alice"].IsClosed())
	f.assertQuiet(t, "bob")
}
