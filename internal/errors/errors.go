package errors

import "errors"

// Client errors.
var (
	ErrBadCredentials     = errors.New("bad credentials")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInsufficientScope  = errors.New("insufficient scope")
	ErrMissingCredentials = errors.New("missing credentials: no API key in session or environment")
)

// Server/transport errors.
var (
	ErrBackendRequest  = errors.New("backend request failed")
	ErrBackendResponse = errors.New("unexpected backend response")
	ErrNoSigningKey    = errors.New("no signing key configured")
)
