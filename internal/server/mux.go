// Package server provides HTTP server construction for plink-mcp.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/plink-mcp/internal/auth"
	"github.com/alexjbarnes/plink-mcp/internal/keys"
	"github.com/alexjbarnes/plink-mcp/internal/store"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Clients    *store.Clients
	Codes      *store.Codes
	Keys       *keys.Manager
	Exchanger  auth.Exchanger
	MCPHandler http.Handler
	Logger     *slog.Logger

	Issuer   string
	Audience string
	HomeURL  string
}

// NewMux builds the HTTP handler with OAuth discovery, registration,
// authorization, token and MCP endpoints, wrapped in CORS.
func NewMux(cfg MuxConfig) http.Handler {
	issuer := auth.NewIssuer(cfg.Keys, cfg.Issuer, cfg.Audience)
	serverMeta := auth.HandleServerMetadata(cfg.Issuer)

	mux := http.NewServeMux()
	mux.HandleFunc(auth.PathProtectedResource, auth.HandleProtectedResourceMetadata(cfg.Issuer, cfg.Audience))
	mux.HandleFunc(auth.PathOpenIDConfig, serverMeta)
	mux.HandleFunc(auth.PathAuthServerMetadata, serverMeta)
	mux.HandleFunc(auth.PathJWKS, auth.HandleJWKS(cfg.Keys, cfg.Logger))
	mux.HandleFunc(auth.PathRegister, auth.HandleRegistration(cfg.Clients, cfg.Logger))
	mux.Handle(auth.PathAuthorize, auth.HandleAuthorize(cfg.Clients, cfg.Codes, cfg.Exchanger, cfg.Logger))
	mux.HandleFunc(auth.PathToken, auth.HandleToken(cfg.Codes, issuer, cfg.Logger))
	mux.Handle("/mcp", cfg.MCPHandler)
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, cfg.HomeURL, http.StatusFound)
	})

	return withCORS(mux)
}

// withCORS allows any origin and answers preflight requests directly.
// Mcp-Session-Id must be exposed or browser clients cannot resume.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id, WWW-Authenticate")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID, X-Api-Key, X-Apikey")
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}
