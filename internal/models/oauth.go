// Package models defines types shared across internal packages.
package models

import "time"

// OAuthClient is a registered public OAuth client. Clients never carry a
// secret and have no expiry.
type OAuthClient struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientName   string   `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris" yaml:"redirect_uris"`
	Public       bool     `json:"public" yaml:"-"`
}

// AllowsRedirect reports whether uri is one of the client's registered
// redirect URIs. Matching is exact.
func (c *OAuthClient) AllowsRedirect(uri string) bool {
	if uri == "" {
		return false
	}

	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}

	return false
}

// PendingCode is the server-side record behind an authorization code. It
// binds the PKCE challenge and the backend-issued API key to the code
// until the token exchange consumes it.
type PendingCode struct {
	ClientID      string `json:"client_id"`
	RedirectURI   string `json:"redirect_uri"`
	CodeChallenge string `json:"code_challenge"`
	Login         string `json:"login"`
	APIKey        string `json:"apiKey"`
	Scope         string `json:"scope"`
	Exp           int64  `json:"exp"`
}

// Expired reports whether the code's exp timestamp has passed.
func (p *PendingCode) Expired(now time.Time) bool {
	return now.Unix() >= p.Exp
}
