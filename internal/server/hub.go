// Package server coordinates client registration, message broadcast, and
// connection cleanup for the chat room via the Hub type.
package server

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"go.uber.org/zap"
)

// Hub is the registry of authenticated clients, keyed by username. A single
// mutex guards the mapping; every operation, including broadcast fan-out,
// runs inside it. Sends are non-blocking enqueues so the lock is never held
// across network I/O.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	order   []string
	closed  bool
	log     *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		log:     logger,
	}
}

// Register inserts client under username unless the name is in use.
func (h *Hub) Register(username string, client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registerLocked(username, client)
}

func (h *Hub) registerLocked(username string, client *Client) error {
	if _, exists := h.clients[username]; exists {
		return fmt.Errorf("%w: %q", ErrUsernameTaken, username)
	}
	h.clients[username] = client
	h.order = append(h.order, username)
	return nil
}

// Deregister removes username only if it still maps to client. It reports
// whether an entry was removed.
func (h *Hub) Deregister(username string, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deregisterLocked(username, client)
}

func (h *Hub) deregisterLocked(username string, client *Client) bool {
	current, ok := h.clients[username]
	if !ok || current != client {
		return false
	}
	delete(h.clients, username)
	if i := slices.Index(h.order, username); i >= 0 {
		h.order = slices.Delete(h.order, i, i+1)
	}
	return true
}

// Snapshot returns the online usernames in join order.
func (h *Hub) Snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []string {
	return slices.Clone(h.order)
}

// Lookup returns the client registered under username.
func (h *Hub) Lookup(username string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[username]
	return client, ok
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast delivers msg to every registered client except exclude and
// returns the number of clients it was queued for. Clients whose queue
// rejects the message are removed and closed in the same pass.
func (h *Hub) Broadcast(msg protocol.Outbound, exclude string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(msg, exclude)
}

// BroadcastUsers sends the current user list to everyone.
func (h *Hub) BroadcastUsers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(protocol.Users(h.snapshotLocked()), "")
}

func (h *Hub) broadcastLocked(msg protocol.Outbound, exclude string) int {
	payload, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error("Failed to encode broadcast", zap.String("type", string(msg.Type)), zap.Error(err))
		return 0
	}

	var failed []string
	delivered := 0
	for _, username := range h.order {
		if username == exclude {
			continue
		}
		if err := h.clients[username].enqueue(payload); err != nil {
			h.log.Warn("Dropping client after failed delivery",
				zap.String("user", username), zap.Error(err))
			failed = append(failed, username)
			continue
		}
		delivered++
	}

	for _, username := range failed {
		client := h.clients[username]
		h.deregisterLocked(username, client)
		client.Close()
	}

	h.log.Debug("Broadcast message",
		zap.String("type", string(msg.Type)),
		zap.Int("delivered", delivered),
		zap.Int("pruned", len(failed)))
	return delivered
}

// Evict removes username if it still maps to client and closes the client.
// It is used when a direct send fails, which is treated as a disconnect.
func (h *Hub) Evict(username string, client *Client) bool {
	h.mu.Lock()
	removed := h.deregisterLocked(username, client)
	h.mu.Unlock()

	client.Close()
	h.log.Info("Client evicted",
		zap.String("user", username),
		zap.String("session", client.ID()),
		zap.Bool("registered", removed))
	return removed
}

// Join registers an authenticated client and announces it. Inside one
// critical section the joiner is sent auth_ok, every other member is sent the
// join notice, and then everyone, joiner included, gets the new user list.
func (h *Hub) Join(client *Client) error {
	username := client.Username()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("%w: %q not admitted", ErrHubClosed, username)
	}
	if err := h.registerLocked(username, client); err != nil {
		return err
	}

	if err := client.Send(protocol.AuthOK()); err != nil {
		h.deregisterLocked(username, client)
		return fmt.Errorf("acknowledge %q: %w", username, err)
	}

	h.broadcastLocked(protocol.System(joinNotice(username)), username)
	h.broadcastLocked(protocol.Users(h.snapshotLocked()), "")

	h.log.Info("Client joined", zap.String("user", username), zap.Int("online", len(h.clients)))
	return nil
}

// Leave deregisters client and announces its departure to the remaining
// members along with the new user list. Nothing is announced when another
// session has since taken over the username. It reports whether the
// departure was announced.
func (h *Hub) Leave(client *Client) bool {
	username := client.Username()

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.deregisterLocked(username, client) {
		if _, replaced := h.clients[username]; replaced {
			return false
		}
	}

	h.broadcastLocked(protocol.System(leaveNotice(username)), "")
	h.broadcastLocked(protocol.Users(h.snapshotLocked()), "")

	h.log.Info("Client left", zap.String("user", username), zap.Int("online", len(h.clients)))
	return true
}

// CloseAll closes every registered client and returns how many there were.
// Their sessions tear down on their own as the sockets close. Join fails with
// ErrHubClosed afterwards.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, username := range h.order {
		clients = append(clients, h.clients[username])
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	return len(clients)
}

func joinNotice(username string) string {
	return fmt.Sprintf("*** %s joined the chat ***", username)
}

func leaveNotice(username string) string {
	return fmt.Sprintf("*** %s left the chat ***", username)
}
