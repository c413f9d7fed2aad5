package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alexjbarnes/plink-mcp/internal/keys"
	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://mcp.example.com"
	testAudience = "https://mcp.example.com"
	testClientID = "mcp-client"
	testRedirect = "http://localhost:1234/callback"
	testNS       = "mcp:oauth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	sharedKeysOnce sync.Once
	sharedKeys     *keys.Manager
)

// testKeys returns one ephemeral key manager for the whole package, since
// generating RSA keys per test is slow.
func testKeys(t *testing.T) *keys.Manager {
	t.Helper()
	sharedKeysOnce.Do(func() {
		sharedKeys = keys.NewManager(keys.Config{AllowEphemeral: true})
	})
	require.NoError(t, sharedKeys.EnsureKeyPair())

	return sharedKeys
}

func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

type fakeExchanger struct {
	mu    sync.Mutex
	key   string
	err   error
	calls []string
}

func (f *fakeExchanger) Exchange(_ context.Context, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, password)

	return f.key, f.err
}

// env bundles a fully wired OAuth server over an in-memory store.
type env struct {
	store     *store.Memory
	clients   *store.Clients
	codes     *store.Codes
	exchanger *fakeExchanger
	authorize *AuthorizeHandler
	token     http.HandlerFunc
	register  http.HandlerFunc
	validator *Validator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	t.Cleanup(func() { mem.Close() })

	e := &env{
		store:     mem,
		clients:   store.NewClients(mem, testNS),
		codes:     store.NewCodes(mem, testNS),
		exchanger: &fakeExchanger{key: "backend-api-key"},
	}

	require.NoError(t, e.clients.Save(context.Background(), &models.OAuthClient{
		ClientID:     testClientID,
		RedirectURIs: []string{testRedirect},
	}))

	k := testKeys(t)
	e.authorize = HandleAuthorize(e.clients, e.codes, e.exchanger, testLogger())
	e.token = HandleToken(e.codes, NewIssuer(k, testIssuer, testAudience), testLogger())
	e.register = HandleRegistration(e.clients, testLogger())
	e.validator = NewValidator(k, testIssuer, testAudience)

	return e
}

func loginForm(challenge, state, scope string) url.Values {
	v := url.Values{
		"client_id":      {testClientID},
		"redirect_uri":   {testRedirect},
		"code_challenge": {challenge},
		"login":          {"alice"},
		"password":       {"correct"},
	}
	if state != "" {
		v.Set("state", state)
	}
	if scope != "" {
		v.Set("scope", scope)
	}

	return v
}

func postForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

// obtainCode runs the login POST and returns the issued code.
func (e *env) obtainCode(t *testing.T, verifier, state string) string {
	t.Helper()
	rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge(verifier), state, ""))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	return code
}

func tokenForm(code, verifier string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirect},
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())

	return m
}
