package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
)

const redisDialTimeout = 5 * time.Second

// Options selects and configures a backend.
type Options struct {
	Backend  string
	RedisURL string
	Path     string
}

// Open returns the configured backend. An unreachable Redis server is not
// fatal: the process continues on the in-memory store and logs a warning.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		logger.Info("credential store", slog.String("backend", BackendMemory))
		return NewMemory(), nil

	case BackendRedis:
		dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		defer cancel()

		r, err := DialRedis(dialCtx, opts.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-memory store", slog.String("error", err.Error()))
			return NewMemory(), nil
		}

		logger.Info("credential store", slog.String("backend", BackendRedis))

		return r, nil

	case BackendBolt:
		path := opts.Path
		if path == "" {
			p, err := DefaultPath()
			if err != nil {
				return nil, err
			}

			path = p
		}

		b, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}

		logger.Info("credential store", slog.String("backend", BackendBolt), slog.String("path", path))

		return b, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
