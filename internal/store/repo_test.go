package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNS = "mcp:oauth"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClients_SaveGet(t *testing.T) {
	ctx := context.Background()
	for _, b := range allBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			clients := NewClients(b.store, testNS)

			_, err := clients.Get(ctx, "mcp-client")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, clients.Save(ctx, &models.OAuthClient{
				ClientID:     "mcp-client",
				RedirectURIs: []string{"http://localhost:1234/callback"},
			}))

			cl, err := clients.Get(ctx, "mcp-client")
			require.NoError(t, err)
			assert.Equal(t, "mcp-client", cl.ClientID)
			assert.True(t, cl.Public)
			assert.True(t, cl.AllowsRedirect("http://localhost:1234/callback"))

			raw, ok, err := b.store.Get(ctx, "mcp:oauth:clients:mcp-client")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Contains(t, raw, `"public":true`)

			members, err := b.store.SMembers(ctx, "mcp:oauth:clients:index")
			require.NoError(t, err)
			assert.Equal(t, []string{"mcp-client"}, members)
		})
	}
}

func TestClients_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	for _, b := range allBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			clients := NewClients(b.store, testNS)
			for _, id := range []string{"b", "a", "c"} {
				require.NoError(t, clients.Save(ctx, &models.OAuthClient{ClientID: id, RedirectURIs: []string{"https://x/cb"}}))
			}

			require.NoError(t, clients.Delete(ctx, "b"))

			list, err := clients.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ClientID)
			assert.Equal(t, "c", list[1].ClientID)

			ok, err := clients.Exists(ctx, "b")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestClients_ListSkipsDanglingIndex(t *testing.T) {
	ctx := context.Background()
	m := testMemory(t)
	clients := NewClients(m.store, testNS)

	require.NoError(t, m.store.SAdd(ctx, "mcp:oauth:clients:index", "ghost"))

	list, err := clients.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClients_GetEmptyID(t *testing.T) {
	clients := NewClients(testMemory(t).store, testNS)
	_, err := clients.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func pendingCode() *models.PendingCode {
	return &models.PendingCode{
		ClientID:      "mcp-client",
		RedirectURI:   "http://localhost:1234/callback",
		CodeChallenge: "challenge",
		Login:         "alice",
		APIKey:        "key-123",
		Scope:         "mcp:invoke",
		Exp:           time.Now().Add(CodeTTL).Unix(),
	}
}

func TestCodes_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	for _, b := range allBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			codes := NewCodes(b.store, testNS)
			require.NoError(t, codes.Save(ctx, "abc", pendingCode()))

			pc, err := codes.Consume(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, "key-123", pc.APIKey)
			assert.Equal(t, "challenge", pc.CodeChallenge)

			_, err = codes.Consume(ctx, "abc")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCodes_StoreTTL(t *testing.T) {
	ctx := context.Background()
	for _, b := range allBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			codes := NewCodes(b.store, testNS)
			require.NoError(t, codes.Save(ctx, "abc", pendingCode()))

			b.advance(CodeTTL + time.Second)

			_, err := codes.Consume(ctx, "abc")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCodes_KeyLayout(t *testing.T) {
	ctx := context.Background()
	m := testMemory(t)
	codes := NewCodes(m.store, testNS)
	require.NoError(t, codes.Save(ctx, "xyz", pendingCode()))

	raw, ok, err := m.store.Get(ctx, "mcp:oauth:codes:xyz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"apiKey":"key-123"`)
}

func TestCodes_ConsumeEmpty(t *testing.T) {
	codes := NewCodes(testMemory(t).store, testNS)
	_, err := codes.Consume(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_Memory_Type(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: BackendMemory}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*Memory)
	assert.True(t, ok)
}

func TestOpen_Redis(t *testing.T) {
	_, mr := testRedis(t)
	s, err := Open(context.Background(), Options{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr()}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*Redis)
	assert.True(t, ok)
}

func TestOpen_RedisUnreachableFallsBackToMemory(t *testing.T) {
	_, mr := testRedis(t)
	addr := mr.Addr()
	mr.Close()

	s, err := Open(context.Background(), Options{Backend: BackendRedis, RedisURL: "redis://" + addr}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*Memory)
	assert.True(t, ok)
}

func TestOpen_Bolt_Type(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(context.Background(), Options{Backend: BackendBolt, Path: path}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*Bolt)
	assert.True(t, ok)
	assert.FileExists(t, path)
}

func TestOpen_UnknownBackend_Type(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "etcd"}, testLogger())
	assert.Error(t, err)
}
