package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/alexjbarnes/plink-mcp/internal/logging"
	"github.com/alexjbarnes/plink-mcp/internal/store"
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

func readTokenRequest(r *http.Request) (tokenRequest, error) {
	var req tokenRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}

	return tokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		ClientID:     r.PostForm.Get("client_id"),
	}, nil
}

// HandleToken returns the /oauth/token handler. The pending code is
// deleted by the same call that loads it, so every outcome after lookup
// leaves the code spent.
func HandleToken(codes *store.Codes, issuer *Issuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		req, err := readTokenRequest(r)
		if err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}

		logger.Debug("token: request",
			slog.String("grant_type", req.GrantType),
			slog.String("client_id", req.ClientID),
			slog.String("code", logging.Mask(req.Code, 4)),
			slog.Int("verifier_len", len(req.CodeVerifier)),
		)

		if req.GrantType != "authorization_code" {
			writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
			return
		}

		if req.Code == "" || req.CodeVerifier == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code and code_verifier are required")
			return
		}

		pc, err := codes.Consume(r.Context(), req.Code)
		if errors.Is(err, store.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or already used code")
			return
		}

		if err != nil {
			logger.Error("token: consuming code failed", slog.String("error", err.Error()))
			writeOAuthError(w, http.StatusInternalServerError, "token_error", "")

			return
		}

		if pc.Expired(time.Now()) {
			writeOAuthError(w, http.StatusBadRequest, "expired_code", "authorization code expired")
			return
		}

		if req.ClientID != pc.ClientID || req.RedirectURI != pc.RedirectURI {
			logger.Warn("token: client or redirect mismatch",
				slog.String("client_id", req.ClientID),
				slog.String("expected_client_id", pc.ClientID),
			)
			writeOAuthError(w, http.StatusBadRequest, "invalid_client", "client_id or redirect_uri mismatch")

			return
		}

		if !verifyPKCE(req.CodeVerifier, pc.CodeChallenge) {
			logger.Warn("token: PKCE mismatch", slog.String("code", logging.Mask(req.Code, 4)))
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")

			return
		}

		accessToken, err := issuer.Issue(pc.Login, pc.APIKey, pc.Scope)
		if err != nil {
			logger.Error("token: signing failed", slog.String("error", err.Error()))
			writeOAuthError(w, http.StatusInternalServerError, "token_error", "")

			return
		}

		logger.Info("token: issued", slog.String("sub", pc.Login), slog.String("client_id", pc.ClientID))

		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: accessToken,
			TokenType:   "Bearer",
			ExpiresIn:   int64(TokenTTL.Seconds()),
			Scope:       pc.Scope,
		})
	}
}

// verifyPKCE checks that BASE64URL(SHA256(verifier)) matches the challenge.
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
