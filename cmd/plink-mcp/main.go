package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/plink-mcp/internal/auth"
	"github.com/alexjbarnes/plink-mcp/internal/backend"
	"github.com/alexjbarnes/plink-mcp/internal/config"
	"github.com/alexjbarnes/plink-mcp/internal/keys"
	"github.com/alexjbarnes/plink-mcp/internal/logging"
	"github.com/alexjbarnes/plink-mcp/internal/server"
	"github.com/alexjbarnes/plink-mcp/internal/session"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/alexjbarnes/plink-mcp/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("plink-mcp starting",
		slog.String("version", Version),
		slog.String("transport", cfg.Transport),
		slog.String("api_base", cfg.APIBase),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := backend.NewClient(nil, cfg.APIBase, cfg.BackendTimeout, logger)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "plink-mcp", Version: Version},
		nil,
	)

	if cfg.Transport == config.TransportStdio {
		return runStdio(ctx, cfg, mcpServer, api, logger)
	}

	return runHTTP(ctx, cfg, mcpServer, api, logger)
}

// runStdio serves one MCP connection over stdin/stdout. There are no
// sessions; a single cell holds the process credential.
func runStdio(ctx context.Context, cfg *config.Config, mcpServer *mcp.Server, api backend.API, logger *slog.Logger) error {
	cell := &auth.Cell{}
	if key := cfg.FallbackAPIKey(); key != "" {
		cell.Set(auth.State{OK: true, APIKey: key, Scopes: []string{auth.ScopeAll}})
	}

	tools.Register(mcpServer, tools.Deps{
		API:    api,
		Auth:   cell,
		Logger: logger,
	})

	logger.Info("serving MCP over stdio", slog.Bool("api_key", cell.Get().OK))

	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}

	return nil
}

func runHTTP(ctx context.Context, cfg *config.Config, mcpServer *mcp.Server, api backend.API, logger *slog.Logger) error {
	km := keys.NewManager(cfg.Keys())
	if err := km.EnsureKeyPair(); err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	if km.Ephemeral() {
		logger.Warn("using an ephemeral signing key; issued tokens will not survive a restart")
	}

	kv, err := store.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer kv.Close()

	clients := store.NewClients(kv, cfg.RedisNamespace)
	codes := store.NewCodes(kv, cfg.RedisNamespace)

	seeder := config.NewSeeder(cfg, clients, logger)
	if err := seeder.Seed(ctx); err != nil {
		return fmt.Errorf("seeding clients: %w", err)
	}

	registry := session.NewRegistry(mcpServer, logger.With(slog.String("component", "session")))

	tools.Register(mcpServer, tools.Deps{
		API:            api,
		Auth:           registry,
		FallbackAPIKey: cfg.FallbackAPIKey(),
		Logger:         logger.With(slog.String("component", "tools")),
	})

	router := session.NewRouter(session.RouterConfig{
		Registry:    registry,
		Validator:   auth.NewValidator(km, cfg.Issuer, cfg.Audience),
		Logger:      logger.With(slog.String("component", "router")),
		Issuer:      cfg.Issuer,
		RequireAuth: cfg.RequireAuth,
	})

	handler := server.NewMux(server.MuxConfig{
		Clients:    clients,
		Codes:      codes,
		Keys:       km,
		Exchanger:  api,
		MCPHandler: router,
		Logger:     logger.With(slog.String("component", "oauth")),
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		HomeURL:    cfg.HomeURL,
	})

	// No WriteTimeout: GET /mcp holds a server-sent event stream open.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return seeder.Watch(gctx)
	})

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("issuer", cfg.Issuer),
			slog.String("store", cfg.StoreBackend),
			slog.Bool("require_auth", cfg.RequireAuth),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Close sessions first so open event streams return and Shutdown
		// is not left waiting on them.
		if err := registry.Close(); err != nil {
			logger.Warn("closing sessions", slog.String("error", err.Error()))
		}

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
