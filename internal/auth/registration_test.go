package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestRegistration_GeneratesID(t *testing.T) {
	e := newEnv(t)
	rec := postJSON(e.register, "/oauth/register",
		`{"client_name":"Inspector","redirect_uris":["http://127.0.0.1:6274/oauth/callback"]}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)

	id, _ := body["client_id"].(string)
	assert.True(t, strings.HasPrefix(id, "pub-"), id)
	assert.Equal(t, "Inspector", body["client_name"])
	assert.Equal(t, "none", body["token_endpoint_auth_method"])
	assert.Equal(t, []any{"authorization_code"}, body["grant_types"])

	client, err := e.clients.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, client.Public)
	assert.True(t, client.AllowsRedirect("http://127.0.0.1:6274/oauth/callback"))
}

func TestRegistration_ThenAuthorize(t *testing.T) {
	e := newEnv(t)
	rec := postJSON(e.register, "/oauth/register", `{"redirect_uris":["https://app.example/cb"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeJSON(t, rec)["client_id"].(string)

	form := loginForm(pkceChallenge("v"), "", "")
	form.Set("client_id", id)
	form.Set("redirect_uri", "https://app.example/cb")

	rec = postForm(e.authorize, "/oauth/authorize", form)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestRegistration_SuppliedID(t *testing.T) {
	e := newEnv(t)
	rec := postJSON(e.register, "/oauth/register", `{"client_id":"my-app","redirect_uris":["https://app.example/cb"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "my-app", decodeJSON(t, rec)["client_id"])

	rec = postJSON(e.register, "/oauth/register", `{"client_id":"my-app","redirect_uris":["https://evil.example/cb"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_client_metadata", decodeJSON(t, rec)["error"])

	client, err := e.clients.Get(context.Background(), "my-app")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example/cb"}, client.RedirectURIs, "existing client is not overwritten")
}

func TestRegistration_RejectsBadInput(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{`, "invalid_client_metadata"},
		{"no redirects", `{"client_name":"x"}`, "invalid_redirect_uri"},
		{"empty redirects", `{"redirect_uris":[]}`, "invalid_redirect_uri"},
		{"relative", `{"redirect_uris":["/callback"]}`, "invalid_redirect_uri"},
		{"fragment", `{"redirect_uris":["https://app.example/cb#frag"]}`, "invalid_redirect_uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(e.register, "/oauth/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeJSON(t, rec)["error"])
		})
	}
}

func TestRegistration_RateLimited(t *testing.T) {
	e := newEnv(t)

	for i := 0; i < registrationMax; i++ {
		rec := postJSON(e.register, "/oauth/register", `{"redirect_uris":["https://app.example/cb"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := postJSON(e.register, "/oauth/register", `{"redirect_uris":["https://app.example/cb"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too_many_requests", decodeJSON(t, rec)["error"])
}

func TestRegistration_MethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.register(rec, httptest.NewRequest(http.MethodGet, "/oauth/register", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
