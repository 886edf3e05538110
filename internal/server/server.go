// Package server implements the roomchat relay: a single password-gated chat
// room served over WebSocket.
//
// The implementation is organized into specialized files for configuration,
// the client registry (Hub), per-connection clients and sessions, command
// dispatch, routing, and HTTP handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrServerClosed is returned by Shutdown when called more than once.
var ErrServerClosed = errors.New("server: already shut down")

// Server owns the hub and accepts chat connections.
type Server struct {
	cfg        Config
	hub        *Hub
	dispatcher *Dispatcher
	verifier   passwordVerifier
	origins    originPolicy
	upgrader   websocket.Upgrader
	log        *zap.Logger

	mu       sync.Mutex
	closing  bool
	live     map[string]*Client
	sessions sync.WaitGroup
}

// New validates cfg and returns a Server ready to be mounted with Routes.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	verifier, err := newPasswordVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	hub := NewHub(logger.Named("hub"))
	s := &Server{
		cfg:        cfg,
		hub:        hub,
		dispatcher: NewDispatcher(hub, cfg.RefreshUsersAfterCommand, logger.Named("dispatch")),
		verifier:   verifier,
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		log:        logger,
		live:       make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s, nil
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the client registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// serveConn starts a session for an upgraded connection. It reports false
// when the server is shutting down and the connection was refused.
func (s *Server) serveConn(conn *websocket.Conn, addr string) bool {
	id := uuid.NewString()
	logger := s.log.With(zap.String("session", id), zap.String("remote", addr))
	client := NewClient(conn, id, addr, s.cfg.SendQueueSize, logger)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.live[client.ID()] = client
	s.sessions.Add(1)
	s.mu.Unlock()

	conn.SetReadLimit(s.cfg.MaxFrameSize)

	sess := &session{
		conn:       conn,
		client:     client,
		hub:        s.hub,
		dispatcher: s.dispatcher,
		verifier:   s.verifier,
		cfg:        s.cfg,
		state:      StateConnected,
		log:        logger,
	}

	logger.Debug("Connection accepted")
	go func() {
		defer s.sessions.Done()
		defer s.untrack(client)
		sess.run()
	}()
	return true
}

func (s *Server) untrack(client *Client) {
	s.mu.Lock()
	delete(s.live, client.ID())
	s.mu.Unlock()
}

// Shutdown stops accepting sessions, closes every live connection, whether
// authenticated or still in its handshake, and waits for all sessions to
// finish or ctx to expire. The hub refuses joins from then on.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closing = true
	live := make([]*Client, 0, len(s.live))
	for _, client := range s.live {
		live = append(live, client)
	}
	s.mu.Unlock()

	s.log.Info("Shutting down all client connections...")
	members := s.hub.CloseAll()
	for _, client := range live {
		client.Close()
	}
	s.log.Info("Closed client connections",
		zap.Int("members", members),
		zap.Int("connections", len(live)))

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Hub shutdown completed successfully")
		return nil
	case <-ctx.Done():
		s.log.Warn("Hub shutdown timeout reached, some sessions may still be running")
		return ctx.Err()
	}
}
