package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of an issued access token (300 days).
const TokenTTL = 60 * 60 * 24 * 30 * 10 * time.Second

// APIClaim carries the backend API key inside the token.
type APIClaim struct {
	Key string `json:"key"`
}

// Claims is the access token payload.
type Claims struct {
	API   APIClaim `json:"api"`
	Scope string   `json:"scope"`
	jwt.RegisteredClaims
}

// Signer produces a signed compact JWT.
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
}

// Issuer mints access tokens for a fixed issuer and audience.
type Issuer struct {
	signer   Signer
	issuer   string
	audience string
	now      func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(signer Signer, issuer, audience string) *Issuer {
	return &Issuer{
		signer:   signer,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// Issue signs a token for login carrying apiKey and scope.
func (i *Issuer) Issue(login, apiKey, scope string) (string, error) {
	now := i.now()

	claims := Claims{
		API:   APIClaim{Key: apiKey},
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   login,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	tok, err := i.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}

	return tok, nil
}
