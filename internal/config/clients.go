package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/plink-mcp/internal/models"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// clientsFile is the on-disk layout of MCP_OAUTH_CLIENTS_FILE.
//
//	clients:
//	  - client_id: desktop-app
//	    client_name: Desktop
//	    redirect_uris:
//	      - http://localhost:1234/callback
type clientsFile struct {
	Clients []models.OAuthClient `yaml:"clients"`
}

// LoadClients parses a static clients file.
func LoadClients(path string) ([]models.OAuthClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clients file: %w", err)
	}

	var f clientsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing clients file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Clients))

	for i, c := range f.Clients {
		if c.ClientID == "" {
			return nil, fmt.Errorf("clients file %s: entry %d has no client_id", path, i)
		}

		if seen[c.ClientID] {
			return nil, fmt.Errorf("clients file %s: duplicate client_id %q", path, c.ClientID)
		}

		seen[c.ClientID] = true

		if len(c.RedirectURIs) == 0 {
			return nil, fmt.Errorf("clients file %s: client %q has no redirect_uris", path, c.ClientID)
		}

		for _, u := range c.RedirectURIs {
			if !absoluteURL(u) {
				return nil, fmt.Errorf("clients file %s: client %q has invalid redirect uri %q", path, c.ClientID, u)
			}
		}
	}

	return f.Clients, nil
}

// Seeder writes the bootstrap client and any static clients into the
// client repository.
type Seeder struct {
	clients *store.Clients
	logger  *slog.Logger

	clientID    string
	redirectURI string
	path        string
}

// NewSeeder creates a Seeder from cfg.
func NewSeeder(cfg *Config, clients *store.Clients, logger *slog.Logger) *Seeder {
	return &Seeder{
		clients:     clients,
		logger:      logger,
		clientID:    cfg.ClientID,
		redirectURI: cfg.RedirectURI,
		path:        cfg.ClientsFile,
	}
}

// Seed registers the bootstrap client when absent, then upserts every
// client in the static file. Static entries always win over stored ones
// with the same id.
func (s *Seeder) Seed(ctx context.Context) error {
	if s.clientID != "" {
		exists, err := s.clients.Exists(ctx, s.clientID)
		if err != nil {
			return fmt.Errorf("checking bootstrap client: %w", err)
		}

		if !exists {
			err := s.clients.Save(ctx, &models.OAuthClient{
				ClientID:     s.clientID,
				ClientName:   "bootstrap",
				RedirectURIs: []string{s.redirectURI},
			})
			if err != nil {
				return fmt.Errorf("seeding bootstrap client: %w", err)
			}

			s.logger.Info("seeded bootstrap client", slog.String("client_id", s.clientID))
		}
	}

	if s.path == "" {
		return nil
	}

	static, err := LoadClients(s.path)
	if err != nil {
		return err
	}

	for i := range static {
		if err := s.clients.Save(ctx, &static[i]); err != nil {
			return fmt.Errorf("seeding client %s: %w", static[i].ClientID, err)
		}
	}

	s.logger.Info("loaded static clients", slog.String("path", s.path), slog.Int("count", len(static)))

	return nil
}

// Watch reseeds whenever the clients file changes. It watches the parent
// directory so editors that replace the file by rename are still seen.
// It blocks until ctx is cancelled.
func (s *Seeder) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating clients watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}

			timerCh = timer.C

		case <-timerCh:
			timerCh = nil

			if err := s.Seed(ctx); err != nil {
				s.logger.Warn("reloading clients file failed", slog.String("error", err.Error()))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn("clients watcher error", slog.String("error", err.Error()))
		}
	}
}
