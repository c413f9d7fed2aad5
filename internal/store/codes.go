package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/plink-mcp/internal/models"
)

// CodeTTL is how long a pending authorization code lives, both as the
// store TTL and as the record's exp.
const CodeTTL = 300 * time.Second

// Codes persists pending authorization codes under <ns>:codes:<code>.
type Codes struct {
	store Store
	ns    string
}

// NewCodes creates a code repository over s using namespace ns.
func NewCodes(s Store, ns string) *Codes {
	return &Codes{store: s, ns: ns}
}

func (c *Codes) key(code string) string {
	return c.ns + ":codes:" + code
}

// Save stores pc under code with CodeTTL.
func (c *Codes) Save(ctx context.Context, code string, pc *models.PendingCode) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("encoding code: %w", err)
	}

	if err := c.store.Set(ctx, c.key(code), string(data), CodeTTL); err != nil {
		return fmt.Errorf("saving code: %w", err)
	}

	return nil
}

// Consume loads and deletes the record in one atomic step. The record is
// gone afterwards whatever the caller decides about it, so a code can be
// redeemed at most once. Returns ErrNotFound when absent.
func (c *Codes) Consume(ctx context.Context, code string) (*models.PendingCode, error) {
	if code == "" {
		return nil, ErrNotFound
	}

	raw, ok, err := c.store.GetDel(ctx, c.key(code))
	if err != nil {
		return nil, fmt.Errorf("consuming code: %w", err)
	}

	if !ok {
		return nil, ErrNotFound
	}

	var pc models.PendingCode
	if err := json.Unmarshal([]byte(raw), &pc); err != nil {
		return nil, fmt.Errorf("decoding code: %w", err)
	}

	return &pc, nil
}
