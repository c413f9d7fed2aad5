// Package session owns the MCP sessions served over HTTP. The Registry
// maps session ids to go-sdk streamable transports and their per-session
// auth state; the Router in front of it demultiplexes /mcp requests onto
// those transports.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexjbarnes/plink-mcp/internal/auth"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is one live MCP connection.
type Session struct {
	ID        string
	transport *mcp.StreamableServerTransport
	server    *mcp.ServerSession
	auth      auth.Cell
}

// Auth returns the session's current credential.
func (s *Session) Auth() auth.State {
	return s.auth.Get()
}

// Registry is the only owner of the session map. Removal happens when the
// underlying server session ends, whatever the cause.
type Registry struct {
	server *mcp.Server
	logger *slog.Logger

	// base outlives individual requests; sessions are connected under it
	// and torn down when it is cancelled.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

var (
	_ auth.Source = (*Registry)(nil)
	_ auth.Sink   = (*Registry)(nil)
)

// ErrClosed is returned by Create after Close.
var ErrClosed = errors.New("session registry closed")

// NewRegistry creates a Registry that connects new sessions to server.
func NewRegistry(server *mcp.Server, logger *slog.Logger) *Registry {
	base, cancel := context.WithCancel(context.Background())

	return &Registry{
		server:   server,
		logger:   logger,
		base:     base,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session under a fresh random id and registers it.
func (r *Registry) Create() (*Session, error) {
	id := uuid.NewString()
	t := &mcp.StreamableServerTransport{SessionID: id}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	ss, err := r.server.Connect(r.base, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting session: %w", err)
	}

	s := &Session{ID: id, transport: t, server: ss}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ss.Close()

		return nil, ErrClosed
	}
	r.sessions[id] = s
	r.wg.Add(1)
	r.mu.Unlock()

	go r.watch(s)

	r.logger.Info("session opened", slog.String("session_id", id))

	return s, nil
}

// watch removes s from the map once its server session has ended.
func (r *Registry) watch(s *Session) {
	defer r.wg.Done()

	err := s.server.Wait()

	r.mu.Lock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("session ended", slog.String("session_id", s.ID), slog.String("error", err.Error()))
	}

	r.logger.Info("session closed", slog.String("session_id", s.ID))
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]

	return s, ok
}

// CloseSession ends the session registered under id. It reports false if
// no such session exists. The mapping is removed by the session watcher.
func (r *Registry) CloseSession(id string) bool {
	s, ok := r.Lookup(id)
	if !ok {
		return false
	}

	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if err := s.server.Close(); err != nil {
		r.logger.Debug("closing session", slog.String("session_id", id), slog.String("error", err.Error()))
	}

	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// AuthState returns the credential established on a session. Unknown ids
// yield the zero State.
func (r *Registry) AuthState(sessionID string) auth.State {
	s, ok := r.Lookup(sessionID)
	if !ok {
		return auth.State{}
	}

	return s.auth.Get()
}

// SetAuthState replaces the credential of a live session. Unknown ids are
// ignored.
func (r *Registry) SetAuthState(sessionID string, st auth.State) {
	if s, ok := r.Lookup(sessionID); ok {
		s.auth.Set(st)
	}
}

// Close ends every session and waits for their watchers to finish.
// Later calls to Create fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}

	r.closed = true
	open := make([]*Session, 0, len(r.sessions))

	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	var errs []error

	for _, s := range open {
		if err := s.server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", s.ID, err))
		}
	}

	r.cancel()
	r.wg.Wait()

	r.logger.Info("session registry closed", slog.Int("sessions", len(open)))

	return errors.Join(errs...)
}
