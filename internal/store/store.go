// Package store provides the key-value and set storage used for OAuth
// clients and pending authorization codes. Three backends implement the
// same Store interface: an in-process map, Redis, and a bbolt file.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by the typed repositories when a record does
// not exist. The raw Store methods report absence with a bool instead.
var ErrNotFound = errors.New("not found")

// Store is a minimal key-value plus set store with per-key TTLs.
// A zero ttl means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// GetDel loads and removes a key in one atomic step. Two concurrent
	// callers for the same key never both observe the value.
	GetDel(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	// Multi starts a batch of writes applied together by Exec.
	Multi() Tx
	Close() error
}

// Tx queues writes until Exec applies them as one unit.
type Tx interface {
	Set(key, value string, ttl time.Duration)
	Del(keys ...string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	Exec(ctx context.Context) error
}

type opKind int

const (
	opSet opKind = iota
	opDel
	opSAdd
	opSRem
)

type op struct {
	kind    opKind
	key     string
	value   string
	ttl     time.Duration
	members []string
}

// queuedTx records operations and hands them to apply on Exec. The memory
// and bolt backends share it; Redis uses a native MULTI pipeline.
type queuedTx struct {
	ops   []op
	apply func(ctx context.Context, ops []op) error
}

func (t *queuedTx) Set(key, value string, ttl time.Duration) {
	t.ops = append(t.ops, op{kind: opSet, key: key, value: value, ttl: ttl})
}

func (t *queuedTx) Del(keys ...string) {
	for _, k := range keys {
		t.ops = append(t.ops, op{kind: opDel, key: k})
	}
}

func (t *queuedTx) SAdd(key string, members ...string) {
	t.ops = append(t.ops, op{kind: opSAdd, key: key, members: members})
}

func (t *queuedTx) SRem(key string, members ...string) {
	t.ops = append(t.ops, op{kind: opSRem, key: key, members: members})
}

func (t *queuedTx) Exec(ctx context.Context) error {
	if len(t.ops) == 0 {
		return nil
	}

	ops := t.ops
	t.ops = nil

	return t.apply(ctx, ops)
}
