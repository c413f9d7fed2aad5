package auth

import (
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
)

// Scopes understood by the server.
const (
	ScopeInvoke = "mcp:invoke"
	ScopeAll    = "*"
)

// State is the credential a caller established on its connection.
type State struct {
	OK     bool
	APIKey string
	Scopes []string
}

// HasScope reports whether s grants scope. ScopeAll grants everything.
func (s State) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope || sc == ScopeAll {
			return true
		}
	}

	return false
}

// Cell holds one State behind a mutex. The last successful Set wins.
type Cell struct {
	mu sync.RWMutex
	st State
}

// Set replaces the state.
func (c *Cell) Set(st State) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
}

// Get returns a copy of the state.
func (c *Cell) Get() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.st
}

// AuthState returns the cell's state for any session id. A bare Cell is
// the process-wide credential of the stdio transport, where exactly one
// caller exists per process. It must not back a multi-client listener.
func (c *Cell) AuthState(string) State {
	return c.Get()
}

// SetAuthState replaces the cell's state for any session id.
func (c *Cell) SetAuthState(_ string, st State) {
	c.Set(st)
}

// Source yields the auth state for an MCP session.
type Source interface {
	AuthState(sessionID string) State
}

// Sink lets a tool establish credentials for its own session.
type Sink interface {
	Source
	SetAuthState(sessionID string, st State)
}

// ResolveAPIKey picks the API key a tool call runs with: an explicit key
// first, then the session's established credential, then the configured
// fallback. With none available it returns ErrMissingCredentials.
func ResolveAPIKey(explicit string, st State, fallback string) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}

	if st.OK && st.APIKey != "" {
		return st.APIKey, nil
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", apperrors.ErrMissingCredentials
}
