package server

import (
	"bytes"
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
	"testing"

	"github.com/alexjbarnes/plink-mcp/internal/auth"
	"github.com/alexjbarnes/plink-mcp/internal/backend"
	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/alexjbarnes/plink-mcp/internal/keys"
	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/alexjbarnes/plink-mcp/internal/session"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/alexjbarnes/plink-mcp/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testIssuer   = "https://mcp.example.com"
	testRedirect = "http://localhost:1234/callback"
	testHome     = "https://home.example.com"
	backendKey   = "backend-api-key"
)

type stubExchanger struct{}

func (stubExchanger) Exchange(_ context.Context, password string) (string, error) {
	if password != "hunter2" {
		return "", apperrors.ErrBadCredentials
	}

	return backendKey, nil
}

type fixture struct {
	srv     *httptest.Server
	clients *store.Clients
	api     *backend.MockAPI
	reg     *session.Registry
}

func newFixture(t *testing.T, requireAuth bool) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := store.NewMemory()
	clients := store.NewClients(mem, "test")
	codes := store.NewCodes(mem, "test")

	km := keys.NewManager(keys.Config{AllowEphemeral: true})
	require.NoError(t, km.EnsureKeyPair())

	api := backend.NewMockAPI(gomock.NewController(t))

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "plink-mcp", Version: "test"}, nil)
	reg := session.NewRegistry(mcpServer, logger)
	tools.Register(mcpServer, tools.Deps{API: api, Auth: reg, Logger: logger})

	router := session.NewRouter(session.RouterConfig{
		Registry:    reg,
		Validator:   auth.NewValidator(km, testIssuer, testIssuer),
		Logger:      logger,
		Issuer:      testIssuer,
		RequireAuth: requireAuth,
	})

	srv := httptest.NewServer(NewMux(MuxConfig{
		Clients:    clients,
		Codes:      codes,
		Keys:       km,
		Exchanger:  stubExchanger{},
		MCPHandler: router,
		Logger:     logger,
		Issuer:     testIssuer,
		Audience:   testIssuer,
		HomeURL:    testHome,
	}))

	t.Cleanup(func() {
		reg.Close()
		srv.Close()
		mem.Close()
	})

	return &fixture{srv: srv, clients: clients, api: api, reg: reg}
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func TestRoutes_Metadata(t *testing.T) {
	f := newFixture(t, false)

	for _, path := range []string{
		auth.PathOpenIDConfig,
		auth.PathAuthServerMetadata,
		auth.PathProtectedResource,
		auth.PathJWKS,
	} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(f.srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRoutes_DiscoveryAliasesMatch(t *testing.T) {
	f := newFixture(t, false)

	read := func(path string) string {
		resp, err := http.Get(f.srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return string(b)
	}

	assert.JSONEq(t, read(auth.PathOpenIDConfig), read(auth.PathAuthServerMetadata))
}

func TestRoot_RedirectsHome(t *testing.T) {
	f := newFixture(t, false)

	resp, err := noRedirect().Get(f.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, testHome, resp.Header.Get("Location"))
}

func TestUnknownPath_NotFound(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, false)

	for _, path := range []string{"/mcp", auth.PathToken, auth.PathRegister} {
		req, err := http.NewRequest(http.MethodOptions, f.srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Mcp-Session-Id")
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")
	}
}

func TestCORS_ExposesSessionHeader(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Post(f.srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Mcp-Session-Id")
}

func TestMCP_RequireAuthChallenge(t *testing.T) {
	f := newFixture(t, true)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.HeaderSessionID, "whatever")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), auth.ResourceMetadataURL(testIssuer))
}

// oauthToken walks registration, login and code exchange and returns the
// access token.
func oauthToken(t *testing.T, f *fixture) string {
	t.Helper()

	regBody, err := json.Marshal(map[string]any{
		"client_name":   "e2e",
		"redirect_uris": []string{testRedirect},
	})
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+auth.PathRegister, "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)

	var registered models.OAuthClient
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registered))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, registered.ClientID)

	verifier := strings.Repeat("v", 50)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	resp, err = noRedirect().PostForm(f.srv.URL+auth.PathAuthorize, url.Values{
		"client_id":      {registered.ClientID},
		"redirect_uri":   {testRedirect},
		"code_challenge": {challenge},
		"state":          {"xyz"},
		"login":          {"alice@example.com"},
		"password":       {"hunter2"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	resp, err = http.PostForm(f.srv.URL+auth.PathToken, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {registered.ClientID},
		"redirect_uri":  {testRedirect},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	assert.Equal(t, "Bearer", tok.TokenType)

	return tok.AccessToken
}

type bearerTransport struct{ token string }

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)

	return http.DefaultTransport.RoundTrip(req)
}

func TestEndToEnd_OAuthThenTool(t *testing.T) {
	f := newFixture(t, true)
	token := oauthToken(t, f)

	f.api.EXPECT().GetUser(gomock.Any(), backendKey).Return(&backend.User{
		APIKey: backendKey,
		Email:  "alice@example.com",
		Raw:    backend.Result{"email": "alice@example.com", "myKey": backendKey},
	}, nil)

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e", Version: "test"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint:   f.srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearerTransport{token: token}},
	}, nil)
	require.NoError(t, err)
	defer cs.Close()

	assert.Equal(t, 1, f.reg.Len())

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_wallet"})
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "alice@example.com")
	assert.NotContains(t, text, backendKey)
}

func TestEndToEnd_ToolWithoutCredential(t *testing.T) {
	f := newFixture(t, false)

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e", Version: "test"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint: f.srv.URL + "/mcp",
	}, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_wallet"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
