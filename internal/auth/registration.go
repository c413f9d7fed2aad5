package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/google/uuid"
)

// maxRequestBody caps OAuth request bodies.
const maxRequestBody = 64 << 10

// registrationRequest is the DCR POST body (RFC 7591). Only public
// clients exist, so any requested auth method is ignored.
type registrationRequest struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}

// registrationResponse is the DCR response.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

func writeOAuthError(w http.ResponseWriter, status int, errCode, description string) {
	body := map[string]string{"error": errCode}
	if description != "" {
		body["error_description"] = description
	}

	writeJSON(w, status, body)
}

func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return u.IsAbs() && u.Host != "" && u.Fragment == ""
}

// HandleRegistration returns the /oauth/register handler. A client id is
// generated as pub-<uuid> unless the caller supplies one; a supplied id
// that is already registered is refused.
func HandleRegistration(clients *store.Clients, logger *slog.Logger) http.HandlerFunc {
	limiter := newRegistrationLimiter()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "invalid request body")
			return
		}

		if len(req.RedirectURIs) == 0 {
			writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
			return
		}

		for _, u := range req.RedirectURIs {
			if !validRedirectURI(u) {
				writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris must be absolute URLs")
				return
			}
		}

		if !limiter.Allow() {
			logger.Warn("registration rate limited", slog.String("ip", remoteIP(r)))
			writeOAuthError(w, http.StatusTooManyRequests, "too_many_requests", "registration rate limit exceeded")

			return
		}

		clientID := req.ClientID
		if clientID == "" {
			clientID = "pub-" + uuid.NewString()
		} else {
			_, err := clients.Get(r.Context(), clientID)
			switch {
			case err == nil:
				writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "client_id already registered")
				return
			case !errors.Is(err, store.ErrNotFound):
				logger.Error("registration lookup failed", slog.String("error", err.Error()))
				writeOAuthError(w, http.StatusInternalServerError, "server_error", "")

				return
			}
		}

		client := &models.OAuthClient{
			ClientID:     clientID,
			ClientName:   req.ClientName,
			RedirectURIs: req.RedirectURIs,
		}

		if err := clients.Save(r.Context(), client); err != nil {
			logger.Error("registration save failed", slog.String("error", err.Error()))
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "")

			return
		}

		logger.Info("client registered",
			slog.String("client_id", clientID),
			slog.Any("redirect_uris", req.RedirectURIs),
		)

		writeJSON(w, http.StatusCreated, registrationResponse{
			ClientID:                clientID,
			ClientName:              req.ClientName,
			RedirectURIs:            req.RedirectURIs,
			GrantTypes:              []string{"authorization_code"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: "none",
		})
	}
}
