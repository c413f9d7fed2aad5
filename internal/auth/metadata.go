package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// Paths of the OAuth endpoints, relative to the issuer.
const (
	PathAuthorize          = "/oauth/authorize"
	PathToken              = "/oauth/token"
	PathJWKS               = "/oauth/jwks.json"
	PathRegister           = "/oauth/register"
	PathProtectedResource  = "/.well-known/oauth-protected-resource"
	PathOpenIDConfig       = "/.well-known/openid-configuration"
	PathAuthServerMetadata = "/.well-known/oauth-authorization-server"
)

// SupportedScopes is advertised by the protected resource document.
var SupportedScopes = []string{ScopeInvoke, "shop:read"}

// ProtectedResourceMetadata is the RFC 9728 response.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// ServerMetadata is the RFC 8414 / OIDC discovery response.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

func endpoint(issuer, path string) string {
	return strings.TrimRight(issuer, "/") + path
}

// ResourceMetadataURL is where the protected resource document lives.
func ResourceMetadataURL(issuer string) string {
	return endpoint(issuer, PathProtectedResource)
}

// Challenge builds a WWW-Authenticate value pointing clients at the
// resource metadata. invalid marks a presented but rejected token.
func Challenge(issuer string, invalid bool) string {
	if invalid {
		return fmt.Sprintf(`Bearer error="invalid_token", resource_metadata=%q`, ResourceMetadataURL(issuer))
	}

	return fmt.Sprintf(`Bearer resource_metadata=%q`, ResourceMetadataURL(issuer))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleProtectedResourceMetadata returns the /.well-known/oauth-protected-resource handler.
func HandleProtectedResourceMetadata(issuer, audience string) http.HandlerFunc {
	meta := ProtectedResourceMetadata{
		Resource:               audience,
		AuthorizationServers:   []string{issuer},
		ScopesSupported:        SupportedScopes,
		BearerMethodsSupported: []string{"header"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, meta)
	}
}

// HandleServerMetadata returns the discovery handler served at both
// /.well-known/openid-configuration and /.well-known/oauth-authorization-server.
func HandleServerMetadata(issuer string) http.HandlerFunc {
	meta := ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             endpoint(issuer, PathAuthorize),
		TokenEndpoint:                     endpoint(issuer, PathToken),
		JWKSURI:                           endpoint(issuer, PathJWKS),
		RegistrationEndpoint:              endpoint(issuer, PathRegister),
		ScopesSupported:                   SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, meta)
	}
}

// JWKSProvider exposes the published key set.
type JWKSProvider interface {
	JWKS() (jose.JSONWebKeySet, error)
}

// HandleJWKS returns the /oauth/jwks.json handler. Only public keys are
// ever served.
func HandleJWKS(keys JWKSProvider, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		jwks, err := keys.JWKS()
		if err != nil {
			logger.Error("jwks unavailable", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "jwks_error"})

			return
		}

		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, jwks)
	}
}
