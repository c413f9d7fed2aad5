package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/alexjbarnes/plink-mcp/internal/models"
)

// Clients persists OAuth clients under <ns>:clients:<id> and keeps every
// id in the <ns>:clients:index set.
type Clients struct {
	store Store
	ns    string
}

// NewClients creates a client repository over s using namespace ns.
func NewClients(s Store, ns string) *Clients {
	return &Clients{store: s, ns: ns}
}

func (c *Clients) key(id string) string {
	return c.ns + ":clients:" + id
}

func (c *Clients) indexKey() string {
	return c.ns + ":clients:index"
}

// Get returns the client with the given id or ErrNotFound.
func (c *Clients) Get(ctx context.Context, id string) (*models.OAuthClient, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	raw, ok, err := c.store.Get(ctx, c.key(id))
	if err != nil {
		return nil, fmt.Errorf("loading client: %w", err)
	}

	if !ok {
		return nil, ErrNotFound
	}

	var cl models.OAuthClient
	if err := json.Unmarshal([]byte(raw), &cl); err != nil {
		return nil, fmt.Errorf("decoding client %s: %w", id, err)
	}

	return &cl, nil
}

// Exists reports whether a client id is registered.
func (c *Clients) Exists(ctx context.Context, id string) (bool, error) {
	return c.store.Exists(ctx, c.key(id))
}

// Save writes the client record and its index entry in one batch.
// Clients are always stored as public.
func (c *Clients) Save(ctx context.Context, cl *models.OAuthClient) error {
	cl.Public = true

	data, err := json.Marshal(cl)
	if err != nil {
		return fmt.Errorf("encoding client: %w", err)
	}

	tx := c.store.Multi()
	tx.Set(c.key(cl.ClientID), string(data), 0)
	tx.SAdd(c.indexKey(), cl.ClientID)

	if err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("saving client: %w", err)
	}

	return nil
}

// Delete removes the client record and its index entry.
func (c *Clients) Delete(ctx context.Context, id string) error {
	tx := c.store.Multi()
	tx.Del(c.key(id))
	tx.SRem(c.indexKey(), id)

	if err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("deleting client: %w", err)
	}

	return nil
}

// List returns all indexed clients sorted by id. Index entries whose
// record has vanished are skipped.
func (c *Clients) List(ctx context.Context) ([]*models.OAuthClient, error) {
	ids, err := c.store.SMembers(ctx, c.indexKey())
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}

	sort.Strings(ids)

	out := make([]*models.OAuthClient, 0, len(ids))

	for _, id := range ids {
		cl, err := c.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, cl)
	}

	return out, nil
}
