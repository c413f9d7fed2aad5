package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/alexjbarnes/plink-mcp/internal/logging"
	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"golang.org/x/text/unicode/norm"
)

// codeBytes is the number of random bytes in an authorization code.
const codeBytes = 24

// Exchanger trades a login password for the backend API key.
type Exchanger interface {
	Exchange(ctx context.Context, password string) (string, error)
}

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Connect your P-Link account</title>
<style>
  * { box-sizing: border-box; }
  body {
    margin: 0;
    min-height: 100vh;
    display: grid;
    place-items: center;
    font-family: ui-sans-serif, system-ui, -apple-system, "Segoe UI", Roboto, Arial, sans-serif;
    color: #1e3a8a;
    background: linear-gradient(135deg, #e0f2fe 0%, #bfdbfe 100%);
  }
  main {
    width: min(420px, 94vw);
    background: rgba(255,255,255,0.95);
    border: 1px solid rgba(0,0,0,0.08);
    border-radius: 16px;
    box-shadow: 0 8px 20px rgba(59,130,246,0.15);
    padding: 1.75rem 1.5rem;
  }
  h1 { font-size: 1.15rem; margin: 0 0 0.3rem; }
  .hint { color: #475569; font-size: 0.9rem; margin: 0 0 1.2rem; }
  .client { color: #475569; font-size: 0.8rem; word-break: break-all; margin-bottom: 1rem; }
  .error {
    color: #b91c1c;
    background: #fef2f2;
    border: 1px solid #fecaca;
    border-radius: 10px;
    padding: 0.55rem 0.7rem;
    font-size: 0.85rem;
    margin-bottom: 1rem;
  }
  label { display: block; font-size: 0.85rem; margin-bottom: 0.3rem; }
  input[type="text"], input[type="password"] {
    width: 100%;
    padding: 0.7rem 0.8rem;
    margin-bottom: 1rem;
    border: 1px solid rgba(0,0,0,0.12);
    border-radius: 12px;
    font-size: 0.95rem;
  }
  input:focus { outline: none; border-color: #3b82f6; box-shadow: 0 0 0 3px rgba(59,130,246,0.2); }
  button {
    width: 100%;
    padding: 0.75rem;
    border: 0;
    border-radius: 12px;
    background: #3b82f6;
    color: #fff;
    font-size: 0.95rem;
    font-weight: 600;
    cursor: pointer;
  }
  button:hover { background: #2563eb; }
</style>
</head>
<body>
<main>
  <h1>Connect your P-Link account</h1>
  <p class="hint">Sign in to let <strong>{{if .ClientName}}{{.ClientName}}{{else}}{{.ClientID}}{{end}}</strong> use your wallet through MCP.</p>
  <p class="client">Redirects to {{.RedirectURI}}</p>
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  <form method="POST" action="/oauth/authorize">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="state" value="{{.State}}">
    <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
    <input type="hidden" name="code_challenge_method" value="S256">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <label for="login">Login</label>
    <input type="text" id="login" name="login" value="{{.Login}}" autocomplete="username" required autofocus>
    <label for="password">API password</label>
    <input type="password" id="password" name="password" autocomplete="current-password" required>
    <button type="submit">Connect</button>
  </form>
</main>
</body>
</html>`))

type loginData struct {
	ClientID      string
	ClientName    string
	RedirectURI   string
	State         string
	CodeChallenge string
	Scope         string
	Login         string
	Error         string
}

// authorizeParams are the OAuth parameters carried by both the GET query
// and the POST form.
type authorizeParams struct {
	ClientID      string
	RedirectURI   string
	State         string
	CodeChallenge string
	Method        string
	Scope         string
}

func readAuthorizeParams(v url.Values) authorizeParams {
	p := authorizeParams{
		ClientID:      v.Get("client_id"),
		RedirectURI:   v.Get("redirect_uri"),
		State:         v.Get("state"),
		CodeChallenge: v.Get("code_challenge"),
		Method:        v.Get("code_challenge_method"),
		Scope:         strings.TrimSpace(v.Get("scope")),
	}

	if p.Scope == "" {
		p.Scope = ScopeInvoke
	}

	return p
}

func (p authorizeParams) loginData(client *models.OAuthClient) loginData {
	return loginData{
		ClientID:      p.ClientID,
		ClientName:    client.ClientName,
		RedirectURI:   p.RedirectURI,
		State:         p.State,
		CodeChallenge: p.CodeChallenge,
		Scope:         p.Scope,
	}
}

func renderLogin(w http.ResponseWriter, status int, data loginData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(status)
	_ = loginPage.Execute(w, data)
}

// NewCode returns a fresh opaque authorization code.
func NewCode() string {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return base64.RawURLEncoding.EncodeToString(b)
}

// normalizeLogin folds compatibility characters so visually identical
// logins compare equal.
func normalizeLogin(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

// AuthorizeHandler serves GET and POST /oauth/authorize.
type AuthorizeHandler struct {
	clients   *store.Clients
	codes     *store.Codes
	exchanger Exchanger
	logger    *slog.Logger
	limiter   *loginLimiter
	now       func() time.Time
}

// HandleAuthorize returns the /oauth/authorize handler.
func HandleAuthorize(clients *store.Clients, codes *store.Codes, exchanger Exchanger, logger *slog.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{
		clients:   clients,
		codes:     codes,
		exchanger: exchanger,
		logger:    logger,
		limiter:   newLoginLimiter(),
		now:       time.Now,
	}
}

func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPost:
		h.post(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// lookupClient validates client_id and redirect_uri. On failure it has
// already answered 400 (or 500) and returns nil. It never redirects, so
// an unregistered URI cannot receive anything.
func (h *AuthorizeHandler) lookupClient(w http.ResponseWriter, r *http.Request, p authorizeParams, phase string) *models.OAuthClient {
	client, err := h.clients.Get(r.Context(), p.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("authorize: unknown client",
			slog.String("phase", phase),
			slog.String("client_id", p.ClientID),
		)
		http.Error(w, "invalid_client or redirect_uri", http.StatusBadRequest)

		return nil
	}

	if err != nil {
		h.logger.Error("authorize: client lookup failed", slog.String("error", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "authorize_error", "")

		return nil
	}

	if !client.AllowsRedirect(p.RedirectURI) {
		h.logger.Warn("authorize: redirect mismatch",
			slog.String("phase", phase),
			slog.String("client_id", p.ClientID),
			slog.String("redirect_uri", p.RedirectURI),
		)
		http.Error(w, "invalid_client or redirect_uri", http.StatusBadRequest)

		return nil
	}

	return client
}

func (h *AuthorizeHandler) get(w http.ResponseWriter, r *http.Request) {
	p := readAuthorizeParams(r.URL.Query())

	client := h.lookupClient(w, r, p, "GET")
	if client == nil {
		return
	}

	if p.Method != "" && p.Method != "S256" {
		http.Error(w, "only S256 code_challenge_method is supported", http.StatusBadRequest)
		return
	}

	h.logger.Debug("authorize: rendering login",
		slog.String("client_id", p.ClientID),
		slog.String("scope", p.Scope),
	)

	renderLogin(w, http.StatusOK, p.loginData(client))
}

func (h *AuthorizeHandler) post(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	p := readAuthorizeParams(r.PostForm)

	client := h.lookupClient(w, r, p, "POST")
	if client == nil {
		return
	}

	if p.CodeChallenge == "" {
		http.Error(w, "missing PKCE code_challenge", http.StatusBadRequest)
		return
	}

	if p.Method != "" && p.Method != "S256" {
		http.Error(w, "only S256 code_challenge_method is supported", http.StatusBadRequest)
		return
	}

	ip := remoteIP(r)
	if h.limiter.limited(ip) {
		h.logger.Warn("authorize: login rate limited", slog.String("ip", ip))
		http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)

		return
	}

	login := normalizeLogin(r.PostForm.Get("login"))
	password := r.PostForm.Get("password")

	apiKey, err := h.exchanger.Exchange(r.Context(), password)
	if errors.Is(err, apperrors.ErrBadCredentials) {
		h.limiter.record(ip)
		h.logger.Warn("authorize: bad credentials",
			slog.String("login", login),
			slog.String("ip", ip),
		)

		data := p.loginData(client)
		data.Login = login
		data.Error = "Bad credentials"
		renderLogin(w, http.StatusUnauthorized, data)

		return
	}

	if err != nil {
		h.logger.Error("authorize: credential exchange failed", slog.String("error", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "authorize_error", "")

		return
	}

	code := NewCode()

	err = h.codes.Save(r.Context(), code, &models.PendingCode{
		ClientID:      p.ClientID,
		RedirectURI:   p.RedirectURI,
		CodeChallenge: p.CodeChallenge,
		Login:         login,
		APIKey:        apiKey,
		Scope:         p.Scope,
		Exp:           h.now().Add(store.CodeTTL).Unix(),
	})
	if err != nil {
		h.logger.Error("authorize: saving code failed", slog.String("error", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "authorize_error", "")

		return
	}

	target, err := url.Parse(p.RedirectURI)
	if err != nil {
		h.logger.Error("authorize: registered redirect does not parse", slog.String("redirect_uri", p.RedirectURI))
		writeOAuthError(w, http.StatusInternalServerError, "authorize_error", "")

		return
	}

	q := target.Query()
	q.Set("code", code)

	if p.State != "" {
		q.Set("state", p.State)
	}

	target.RawQuery = q.Encode()

	h.logger.Info("authorize: code issued",
		slog.String("client_id", p.ClientID),
		slog.String("login", login),
		slog.String("code", logging.Mask(code, 4)),
	)

	http.Redirect(w, r, target.String(), http.StatusFound)
}
