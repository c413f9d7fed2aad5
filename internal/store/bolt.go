package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// boltDirPerm is the permission mode for the store directory.
	boltDirPerm = fs.FileMode(0o700)

	// boltFilePerm is the permission mode for the database file. It holds
	// backend API keys inside pending codes.
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout is the maximum time to wait for the bolt file lock.
	boltOpenTimeout = 5 * time.Second
)

var (
	kvBucket   = []byte("kv")
	setsBucket = []byte("sets")
)

// boltValue is the on-disk envelope for a kv entry. Exp is unix nanos,
// zero for no expiry.
type boltValue struct {
	V   string `json:"v"`
	Exp int64  `json:"exp,omitempty"`
}

func (v boltValue) expired(now time.Time) bool {
	return v.Exp != 0 && now.UnixNano() >= v.Exp
}

// Bolt is a Store persisted in a single bbolt file. Each set is a nested
// bucket under "sets" whose keys are the members.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// DefaultPath returns ~/.plink-mcp/store.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}

	return filepath.Join(dir, ".plink-mcp", "store.db"), nil
}

// OpenBolt opens the database at path, creating it and its parent
// directory if needed. Expired keys left from a previous run are swept.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	b := &Bolt{db: db, now: time.Now}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}

		if _, err := tx.CreateBucketIfNotExists(setsBucket); err != nil {
			return err
		}

		return b.sweep(tx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store db: %w", err)
	}

	return b, nil
}

func (b *Bolt) sweep(tx *bolt.Tx) error {
	now := b.now()
	kv := tx.Bucket(kvBucket)

	var stale [][]byte

	err := kv.ForEach(func(k, raw []byte) error {
		var v boltValue
		if json.Unmarshal(raw, &v) != nil || v.expired(now) {
			stale = append(stale, append([]byte(nil), k...))
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range stale {
		if err := kv.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

// read decodes a live kv entry. Expired entries are reported as absent.
func (b *Bolt) read(tx *bolt.Tx, key string) (boltValue, bool, error) {
	raw := tx.Bucket(kvBucket).Get([]byte(key))
	if raw == nil {
		return boltValue{}, false, nil
	}

	var v boltValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return boltValue{}, false, fmt.Errorf("decoding %q: %w", key, err)
	}

	if v.expired(b.now()) {
		return boltValue{}, false, nil
	}

	return v, true, nil
}

func (b *Bolt) Get(_ context.Context, key string) (string, bool, error) {
	var (
		v  boltValue
		ok bool
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		v, ok, err = b.read(tx, key)

		return err
	})

	return v.V, ok, err
}

func (b *Bolt) Set(_ context.Context, key, value string, ttl time.Duration) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.put(tx, key, value, ttl)
	})
}

func (b *Bolt) put(tx *bolt.Tx, key, value string, ttl time.Duration) error {
	v := boltValue{V: value}
	if ttl > 0 {
		v.Exp = b.now().Add(ttl).UnixNano()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return tx.Bucket(kvBucket).Put([]byte(key), data)
}

func (b *Bolt) GetDel(_ context.Context, key string) (string, bool, error) {
	var (
		v  boltValue
		ok bool
	)

	err := b.db.Update(func(tx *bolt.Tx) error {
		var err error

		v, ok, err = b.read(tx, key)
		if err != nil {
			return err
		}

		return tx.Bucket(kvBucket).Delete([]byte(key))
	})

	return v.V, ok, err
}

func (b *Bolt) Del(_ context.Context, keys ...string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.del(tx, keys...)
	})
}

func (b *Bolt) del(tx *bolt.Tx, keys ...string) error {
	sets := tx.Bucket(setsBucket)

	for _, k := range keys {
		if err := tx.Bucket(kvBucket).Delete([]byte(k)); err != nil {
			return err
		}

		if sets.Bucket([]byte(k)) != nil {
			if err := sets.DeleteBucket([]byte(k)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (b *Bolt) Exists(_ context.Context, key string) (bool, error) {
	var found bool

	err := b.db.View(func(tx *bolt.Tx) error {
		_, ok, err := b.read(tx, key)
		if err != nil {
			return err
		}

		found = ok || tx.Bucket(setsBucket).Bucket([]byte(key)) != nil

		return nil
	})

	return found, err
}

func (b *Bolt) SAdd(_ context.Context, key string, members ...string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.sadd(tx, key, members...)
	})
}

func (b *Bolt) sadd(tx *bolt.Tx, key string, members ...string) error {
	set, err := tx.Bucket(setsBucket).CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return err
	}

	for _, m := range members {
		if err := set.Put([]byte(m), []byte{}); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bolt) SMembers(_ context.Context, key string) ([]string, error) {
	var out []string

	err := b.db.View(func(tx *bolt.Tx) error {
		set := tx.Bucket(setsBucket).Bucket([]byte(key))
		if set == nil {
			return nil
		}

		return set.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	if out == nil {
		out = []string{}
	}

	return out, err
}

func (b *Bolt) SRem(_ context.Context, key string, members ...string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.srem(tx, key, members...)
	})
}

func (b *Bolt) srem(tx *bolt.Tx, key string, members ...string) error {
	sets := tx.Bucket(setsBucket)

	set := sets.Bucket([]byte(key))
	if set == nil {
		return nil
	}

	for _, m := range members {
		if err := set.Delete([]byte(m)); err != nil {
			return err
		}
	}

	if k, _ := set.Cursor().First(); k == nil {
		return sets.DeleteBucket([]byte(key))
	}

	return nil
}

func (b *Bolt) Multi() Tx {
	return &queuedTx{apply: b.applyOps}
}

func (b *Bolt) applyOps(_ context.Context, ops []op) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, o := range ops {
			var err error

			switch o.kind {
			case opSet:
				err = b.put(tx, o.key, o.value, o.ttl)
			case opDel:
				err = b.del(tx, o.key)
			case opSAdd:
				err = b.sadd(tx, o.key, o.members...)
			case opSRem:
				err = b.srem(tx, o.key, o.members...)
			}

			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
