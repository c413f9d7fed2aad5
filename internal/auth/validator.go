package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

var bearerRe = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// KeySource resolves a token's kid to a verification key.
type KeySource interface {
	PublicKey(kid string) (*rsa.PublicKey, error)
}

// Identity is what a verified bearer token proves.
type Identity struct {
	APIKey  string
	Subject string
	Scopes  []string
}

// Validator verifies access tokens against the published key set and the
// configured issuer and audience.
type Validator struct {
	keys   KeySource
	parser *jwt.Parser
}

// NewValidator creates a Validator. Only RS256 is accepted.
func NewValidator(keys KeySource, issuer, audience string) *Validator {
	return &Validator{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Validate checks an Authorization header value. It fails with
// ErrMissingToken when there is no bearer token, ErrInvalidToken on any
// signature or claim failure and ErrInsufficientScope when the token
// lacks mcp:invoke.
func (v *Validator) Validate(header string) (*Identity, error) {
	m := bearerRe.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return nil, apperrors.ErrMissingToken
	}

	var claims Claims

	_, err := v.parser.ParseWithClaims(strings.TrimSpace(m[1]), &claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}

	if claims.API.Key == "" {
		return nil, fmt.Errorf("%w: no api key claim", apperrors.ErrInvalidToken)
	}

	scopes := tokenScopes(claims.Scope)

	if !containsScope(scopes, ScopeInvoke) {
		return nil, apperrors.ErrInsufficientScope
	}

	return &Identity{
		APIKey:  claims.API.Key,
		Subject: claims.Subject,
		Scopes:  scopes,
	}, nil
}

// tokenScopes splits a scope claim. The wildcard is reserved for raw API
// key callers and is never honoured from a token.
func tokenScopes(claim string) []string {
	fields := strings.Fields(claim)
	out := fields[:0]

	for _, s := range fields {
		if s != ScopeAll {
			out = append(out, s)
		}
	}

	return out
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}

	return false
}

func (v *Validator) keyFunc(tok *jwt.Token) (any, error) {
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid header")
	}

	return v.keys.PublicKey(kid)
}
