package store

import (
	"context"
	"sync"
	"time"
)

// gcInterval controls how often expired keys are reaped.
const gcInterval = time.Minute

type memEntry struct {
	value     string
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store. State is lost on restart.
type Memory struct {
	mu       sync.Mutex
	kv       map[string]memEntry
	sets     map[string]map[string]struct{}
	stopGC   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemory creates an empty store and starts a background goroutine that
// periodically removes expired keys. Call Close to stop it.
func NewMemory() *Memory {
	m := &Memory{
		kv:     make(map[string]memEntry),
		sets:   make(map[string]map[string]struct{}),
		stopGC: make(chan struct{}),
		now:    time.Now,
	}
	go m.gcLoop()

	return m
}

func (m *Memory) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopGC:
			return
		}
	}
}

func (m *Memory) cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.kv {
		if e.expired(now) {
			delete(m.kv, k)
		}
	}
}

// lookup returns a live entry, dropping it if expired. Caller holds mu.
func (m *Memory) lookup(key string) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}

	if e.expired(m.now()) {
		delete(m.kv, key)
		return memEntry{}, false
	}

	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)

	return e.value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.set(key, value, ttl)
	m.mu.Unlock()

	return nil
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.kv[key] = e
}

func (m *Memory) GetDel(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if ok {
		delete(m.kv, key)
	}

	return e.value, ok, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	m.del(keys...)
	m.mu.Unlock()

	return nil
}

func (m *Memory) del(keys ...string) {
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.sets, k)
	}
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return true, nil
	}

	_, ok := m.sets[key]

	return ok, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	m.sadd(key, members...)
	m.mu.Unlock()

	return nil
}

func (m *Memory) sadd(key string, members ...string) {
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}

	for _, mem := range members {
		set[mem] = struct{}{}
	}
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[key]
	out := make([]string, 0, len(set))

	for mem := range set {
		out = append(out, mem)
	}

	return out, nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	m.srem(key, members...)
	m.mu.Unlock()

	return nil
}

func (m *Memory) srem(key string, members ...string) {
	set, ok := m.sets[key]
	if !ok {
		return
	}

	for _, mem := range members {
		delete(set, mem)
	}

	if len(set) == 0 {
		delete(m.sets, key)
	}
}

func (m *Memory) Multi() Tx {
	return &queuedTx{apply: m.applyOps}
}

func (m *Memory) applyOps(_ context.Context, ops []op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range ops {
		switch o.kind {
		case opSet:
			m.set(o.key, o.value, o.ttl)
		case opDel:
			m.del(o.key)
		case opSAdd:
			m.sadd(o.key, o.members...)
		case opSRem:
			m.srem(o.key, o.members...)
		}
	}

	return nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopGC) })
	return nil
}
