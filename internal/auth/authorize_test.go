package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getAuthorize(h http.Handler, q url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestAuthorizeGET_RendersForm(t *testing.T) {
	e := newEnv(t)
	rec := getAuthorize(e.authorize, url.Values{
		"client_id":      {testClientID},
		"redirect_uri":   {testRedirect},
		"state":          {"xyz"},
		"code_challenge": {"chal"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="client_id" value="mcp-client"`)
	assert.Contains(t, body, `name="state" value="xyz"`)
	assert.Contains(t, body, `name="code_challenge" value="chal"`)
	assert.Contains(t, body, `name="scope" value="mcp:invoke"`, "scope defaults to mcp:invoke")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestAuthorizeGET_UnknownClient(t *testing.T) {
	e := newEnv(t)
	rec := getAuthorize(e.authorize, url.Values{
		"client_id":    {"nobody"},
		"redirect_uri": {testRedirect},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestAuthorizeGET_UnregisteredRedirect(t *testing.T) {
	e := newEnv(t)
	for _, redirect := range []string{
		"https://evil.example/cb",
		"http://localhost:1234/callback/extra",
		"http://localhost:9999/callback",
		"",
	} {
		rec := getAuthorize(e.authorize, url.Values{
			"client_id":    {testClientID},
			"redirect_uri": {redirect},
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code, redirect)
		assert.Empty(t, rec.Header().Get("Location"), "must never redirect to %q", redirect)
	}
}

func TestAuthorizeGET_RejectsPlainMethod(t *testing.T) {
	e := newEnv(t)
	rec := getAuthorize(e.authorize, url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirect},
		"code_challenge_method": {"plain"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeGET_EscapesParams(t *testing.T) {
	e := newEnv(t)
	rec := getAuthorize(e.authorize, url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirect},
		"state":        {`"><script>alert(1)</script>`},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>alert(1)</script>")
}

func TestAuthorizeMethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.authorize.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/oauth/authorize", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthorizePOST_RedirectsWithCodeAndState(t *testing.T) {
	e := newEnv(t)
	rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge("abc123"), "st-1", ""))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:1234", loc.Host)
	assert.Equal(t, "/callback", loc.Path)
	assert.Equal(t, "st-1", loc.Query().Get("state"))

	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Len(t, code, 32, "24 random bytes base64url encoded")

	assert.Equal(t, []string{"correct"}, e.exchanger.calls)

	pc, err := e.codes.Consume(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, "backend-api-key", pc.APIKey)
	assert.Equal(t, "alice", pc.Login)
	assert.Equal(t, "mcp:invoke", pc.Scope)
	assert.Equal(t, pkceChallenge("abc123"), pc.CodeChallenge)
	assert.InDelta(t, time.Now().Add(store.CodeTTL).Unix(), pc.Exp, 2)
}

func TestAuthorizePOST_NoStateOmitted(t *testing.T) {
	e := newEnv(t)
	rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge("v"), "", ""))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, _ := url.Parse(rec.Header().Get("Location"))
	_, hasState := loc.Query()["state"]
	assert.False(t, hasState)
}

func TestAuthorizePOST_KeepsExistingQuery(t *testing.T) {
	e := newEnv(t)
	redirect := "https://app.example/cb?tenant=7"
	require.NoError(t, e.clients.Save(context.Background(), &models.OAuthClient{
		ClientID:     "q-client",
		RedirectURIs: []string{redirect},
	}))

	form := loginForm(pkceChallenge("v"), "s", "")
	form.Set("client_id", "q-client")
	form.Set("redirect_uri", redirect)

	rec := postForm(e.authorize, "/oauth/authorize", form)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, _ := url.Parse(rec.Header().Get("Location"))
	assert.Equal(t, "7", loc.Query().Get("tenant"))
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "s", loc.Query().Get("state"))
}

func TestAuthorizePOST_RequiresChallenge(t *testing.T) {
	e := newEnv(t)
	rec := postForm(e.authorize, "/oauth/authorize", loginForm("", "s", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Empty(t, e.exchanger.calls, "backend must not be called without PKCE")
}

func TestAuthorizePOST_UnregisteredRedirect(t *testing.T) {
	e := newEnv(t)
	form := loginForm(pkceChallenge("v"), "s", "")
	form.Set("redirect_uri", "https://evil.example/cb")

	rec := postForm(e.authorize, "/oauth/authorize", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Empty(t, e.exchanger.calls)
}

func TestAuthorizePOST_BadCredentials(t *testing.T) {
	e := newEnv(t)
	e.exchanger.key = ""
	e.exchanger.err = apperrors.ErrBadCredentials

	rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge("v"), "s", ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"), "credentials failures never redirect")
	assert.Contains(t, rec.Body.String(), "Bad credentials")
	assert.Contains(t, rec.Body.String(), `name="code_challenge"`, "form is re-rendered")
	assert.NotContains(t, rec.Body.String(), "correct", "password is not echoed")
}

func TestAuthorizePOST_BackendFailureIs500(t *testing.T) {
	e := newEnv(t)
	e.exchanger.err = errors.New("dial tcp: connection refused")

	rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge("v"), "s", ""))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "authorize_error", decodeJSON(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestAuthorizePOST_RateLimited(t *testing.T) {
	e := newEnv(t)
	e.exchanger.key = ""
	e.exchanger.err = apperrors.ErrBadCredentials

	for i := 0; i < loginMaxFail; i++ {
		rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge("v"), "", ""))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := postForm(e.authorize, "/oauth/authorize", loginForm(pkceChallenge("v"), "", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, e.exchanger.calls, loginMaxFail)
}

func TestAuthorizePOST_NormalizesLogin(t *testing.T) {
	e := newEnv(t)
	form := loginForm(pkceChallenge("v"), "", "")
	form.Set("login", "  ａｌｉｃｅ ")

	rec := postForm(e.authorize, "/oauth/authorize", form)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, _ := url.Parse(rec.Header().Get("Location"))
	pc, err := e.codes.Consume(context.Background(), loc.Query().Get("code"))
	require.NoError(t, err)
	assert.Equal(t, "alice", pc.Login)
}

func TestNewCode_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		c := NewCode()
		assert.False(t, seen[c])
		seen[c] = true
	}
}
