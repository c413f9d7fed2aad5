package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/plink-mcp/internal/auth"
	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/alexjbarnes/plink-mcp/internal/logging"
	"github.com/tidwall/gjson"
)

// HeaderSessionID carries the session id on requests and responses.
const HeaderSessionID = "Mcp-Session-Id"

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"

	// codeBadRequest is the JSON-RPC error code used for routing failures.
	codeBadRequest = -32000

	maxRequestBody = 4 << 20
)

// Routing failure messages.
const (
	msgNoSession       = "Bad Request: No valid session ID provided"
	msgNotInitialized  = "Bad Request: Server not initialized"
	msgSessionNotFound = "Session not found"
	msgInvalidBody     = "Parse error"
)

// TokenValidator verifies an Authorization header value.
type TokenValidator interface {
	Validate(header string) (*auth.Identity, error)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Registry  *Registry
	Validator TokenValidator
	Logger    *slog.Logger

	// Issuer is used to build the WWW-Authenticate challenge.
	Issuer string

	// RequireAuth rejects non-initialize calls that carry no usable
	// credential. When false they are routed anyway and tools that need
	// a key fail on their own.
	RequireAuth bool
}

// Router serves /mcp.
type Router struct {
	cfg RouterConfig
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{cfg: cfg}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcErrorResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	Error   rpcError `json:"error"`
	ID      any      `json:"id"`
}

func writeRPCError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcErrorResponse{
		JSONRPC: "2.0",
		Error:   rpcError{Code: codeBadRequest, Message: message},
		ID:      nil,
	})
}

type authError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// rpcMethods returns the method names in a JSON-RPC message or batch.
func rpcMethods(body []byte) []string {
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		var out []string

		for _, m := range parsed.Get("#.method").Array() {
			out = append(out, m.String())
		}

		return out
	}

	if m := parsed.Get("method"); m.Exists() {
		return []string{m.String()}
	}

	return nil
}

// isInitialize reports whether the body is a single, non-batched
// initialize request.
func isInitialize(methods []string, batch bool) bool {
	return !batch && len(methods) == 1 && methods[0] == methodInitialize
}

// handshakeOnly reports whether a body may pass the auth gate without
// credentials: a lone initialize opening a new session, or the lone
// initialized notification completing the handshake on an existing one.
// Batches are never exempt.
func handshakeOnly(methods []string, batch, hasSession bool) bool {
	if batch || len(methods) != 1 {
		return false
	}

	switch methods[0] {
	case methodInitialize:
		return !hasSession
	case methodInitialized:
		return hasSession
	}

	return false
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.post(w, r)
	case http.MethodGet:
		rt.stream(w, r)
	case http.MethodDelete:
		rt.close(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil || !gjson.ValidBytes(body) {
		writeRPCError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	methods := rpcMethods(body)
	batch := gjson.ParseBytes(body).IsArray()
	initializing := isInitialize(methods, batch)
	id := r.Header.Get(HeaderSessionID)

	st, ok := rt.authenticate(w, r, handshakeOnly(methods, batch, id != ""))
	if !ok {
		return
	}

	log := rt.cfg.Logger.With(slog.Any("methods", methods))

	if id != "" {
		s, found := rt.cfg.Registry.Lookup(id)
		if !found {
			log.Debug("mcp: unknown session", slog.String("session_id", logging.Mask(id, 8)))
			writeRPCError(w, http.StatusBadRequest, msgNoSession)

			return
		}

		if st.OK {
			s.auth.Set(st)
		}

		w.Header().Set(HeaderSessionID, s.ID)
		s.transport.ServeHTTP(w, r)

		return
	}

	if !initializing {
		writeRPCError(w, http.StatusBadRequest, msgNotInitialized)
		return
	}

	s, err := rt.cfg.Registry.Create()
	if err != nil {
		log.Error("mcp: creating session failed", slog.String("error", err.Error()))
		writeRPCError(w, http.StatusServiceUnavailable, "Service unavailable")

		return
	}

	if st.OK {
		s.auth.Set(st)
	}

	w.Header().Set(HeaderSessionID, s.ID)
	s.transport.ServeHTTP(w, r)
}

// authenticate runs the credential gate. It returns the established state
// (zero when none) and false when it has already answered the request.
func (rt *Router) authenticate(w http.ResponseWriter, r *http.Request, exempt bool) (auth.State, bool) {
	st, err := rt.credentials(r)
	if err == nil {
		return st, true
	}

	if exempt || !rt.cfg.RequireAuth {
		if !errors.Is(err, apperrors.ErrMissingToken) {
			rt.cfg.Logger.Debug("mcp: credentials ignored", slog.String("error", err.Error()))
		}

		return auth.State{}, true
	}

	code := "unauthorized"
	invalid := !errors.Is(err, apperrors.ErrMissingToken)

	if invalid {
		code = "invalid_token"
	}

	rt.cfg.Logger.Warn("mcp: unauthenticated call rejected", slog.String("error", err.Error()))

	w.Header().Set("WWW-Authenticate", auth.Challenge(rt.cfg.Issuer, invalid))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(authError{Error: code, Detail: err.Error()})

	return auth.State{}, false
}

// credentials tries a Bearer token first, then a raw API key header. The
// returned error describes the bearer failure when a token was presented,
// and ErrMissingToken when nothing usable was sent.
func (rt *Router) credentials(r *http.Request) (auth.State, error) {
	var bearerErr error

	if h := r.Header.Get("Authorization"); h != "" {
		id, err := rt.cfg.Validator.Validate(h)
		if err == nil {
			return auth.State{OK: true, APIKey: id.APIKey, Scopes: id.Scopes}, nil
		}

		bearerErr = err
	}

	for _, name := range []string{"X-Api-Key", "X-Apikey"} {
		if key := strings.TrimSpace(r.Header.Get(name)); key != "" {
			return auth.State{OK: true, APIKey: key, Scopes: []string{auth.ScopeAll}}, nil
		}
	}

	if bearerErr != nil {
		return auth.State{}, bearerErr
	}

	return auth.State{}, apperrors.ErrMissingToken
}

// sessionFor resolves the session named by the request header, answering
// 400 when the header is missing and 404 when the id is unknown.
func (rt *Router) sessionFor(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := r.Header.Get(HeaderSessionID)
	if id == "" {
		writeRPCError(w, http.StatusBadRequest, msgNoSession)
		return nil, false
	}

	s, ok := rt.cfg.Registry.Lookup(id)
	if !ok {
		writeRPCError(w, http.StatusNotFound, msgSessionNotFound)
		return nil, false
	}

	return s, true
}

func (rt *Router) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.sessionFor(w, r)
	if !ok {
		return
	}

	w.Header().Set(HeaderSessionID, s.ID)
	s.transport.ServeHTTP(w, r)
}

func (rt *Router) close(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.sessionFor(w, r)
	if !ok {
		return
	}

	rt.cfg.Registry.CloseSession(s.ID)
	w.WriteHeader(http.StatusNoContent)
}
