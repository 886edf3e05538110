package server

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"go.uber.org/zap"
)

// CommandKind identifies what a line of chat text asks the server to do.
type CommandKind int

// Recognized command kinds. CommandNone is ordinary chat.
const (
	CommandNone CommandKind = iota
	CommandUsers
	CommandMsg
	CommandQuit
)

func (k CommandKind) String() string {
	switch k {
	case CommandUsers:
		return "/users"
	case CommandMsg:
		return "/msg"
	case CommandQuit:
		return "/quit"
	default:
		return "chat"
	}
}

// Command is chat text parsed once into its intent. Target and Body are only
// set for CommandMsg; either may be empty when the command is incomplete.
type Command struct {
	Kind   CommandKind
	Target string
	Body   string
}

const msgPrefix = "/msg"

// ParseCommand classifies text. Commands must make up the whole line apart
// from surrounding whitespace, so "hello /users" is plain chat.
func ParseCommand(text string) Command {
	line := strings.TrimSpace(text)

	switch {
	case line == "/users":
		return Command{Kind: CommandUsers}
	case line == "/quit":
		return Command{Kind: CommandQuit}
	case isMsgCommand(line):
		rest := strings.TrimLeftFunc(line[len(msgPrefix):], unicode.IsSpace)
		target, body := rest, ""
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			target = rest[:i]
			body = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
		}
		return Command{Kind: CommandMsg, Target: target, Body: body}
	default:
		return Command{Kind: CommandNone}
	}
}

func isMsgCommand(line string) bool {
	if !strings.HasPrefix(line, msgPrefix) {
		return false
	}
	if len(line) == len(msgPrefix) {
		return true
	}
	next := []rune(line[len(msgPrefix):])[0]
	return unicode.IsSpace(next)
}

// Outcome tells the session what happened to a chat line.
type Outcome int

// Dispatch outcomes.
const (
	// OutcomeBroadcast means the text was ordinary chat and went to everyone.
	OutcomeBroadcast Outcome = iota
	// OutcomeHandled means a command was answered privately.
	OutcomeHandled
	// OutcomeQuit means the sender asked to leave; its client is closed.
	OutcomeQuit
)

// Dispatcher executes chat lines on behalf of authenticated clients.
type Dispatcher struct {
	hub          *Hub
	refreshUsers bool
	now          func() time.Time
	log          *zap.Logger
}

// NewDispatcher returns a Dispatcher routing through hub. With refreshUsers
// set, every handled command is followed by a user list broadcast.
func NewDispatcher(hub *Hub, refreshUsers bool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		hub:          hub,
		refreshUsers: refreshUsers,
		now:          time.Now,
		log:          logger,
	}
}

// Dispatch runs text for sender. Commands are answered to the sender only;
// anything else is broadcast as chat to all members, sender included.
func (d *Dispatcher) Dispatch(sender *Client, text string) Outcome {
	cmd := ParseCommand(text)
	log := d.log.With(zap.String("user", sender.Username()), zap.Stringer("command", cmd.Kind))

	var outcome Outcome
	switch cmd.Kind {
	case CommandNone:
		d.hub.Broadcast(protocol.ChatFrom(sender.Username(), text, d.now()), "")
		return OutcomeBroadcast

	case CommandUsers:
		d.reply(sender, protocol.Users(d.hub.Snapshot()))
		outcome = OutcomeHandled

	case CommandMsg:
		if err := d.sendPrivate(sender, cmd); err != nil {
			log.Debug("Private message not delivered", zap.Error(err))
		}
		outcome = OutcomeHandled

	case CommandQuit:
		d.reply(sender, protocol.System("Goodbye."))
		sender.Close()
		log.Info("Client quit")
		outcome = OutcomeQuit
	}

	if d.refreshUsers {
		d.hub.BroadcastUsers()
	}
	return outcome
}

func (d *Dispatcher) sendPrivate(sender *Client, cmd Command) error {
	if cmd.Target == "" || cmd.Body == "" {
		d.reply(sender, protocol.System("Usage: /msg <user> <message>"))
		return ErrCommandUsage
	}

	target, ok := d.hub.Lookup(cmd.Target)
	if !ok {
		d.reply(sender, protocol.System(fmt.Sprintf("User '%s' not found.", cmd.Target)))
		return fmt.Errorf("%w: %q", ErrTargetNotFound, cmd.Target)
	}

	if err := target.Send(protocol.PrivateFrom(sender.Username(), cmd.Body, d.now())); err != nil {
		d.hub.Evict(cmd.Target, target)
		d.reply(sender, protocol.System(fmt.Sprintf("User '%s' not found.", cmd.Target)))
		return fmt.Errorf("deliver to %q: %w", cmd.Target, err)
	}

	d.reply(sender, protocol.System("Private message sent."))
	return nil
}

// reply is best effort: a failed direct reply is logged and not retried.
func (d *Dispatcher) reply(client *Client, msg protocol.Outbound) {
	if err := client.Send(msg); err != nil {
		d.log.Debug("Dropped reply",
			zap.String("user", client.Username()),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}
