// Package cache implements the account cache: a memoized mapping from
// reservation uuid to {function_name, uuid, account} with a ~7-day TTL,
// spec.md §3/§6. A cache miss is not an error; callers fall back to the
// catalog.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fenwicklabs/reservoir/errors"
)

// DefaultTTL is the account cache's expiry, per spec.md §3 ("~7-day TTL").
const DefaultTTL = 7 * 24 * time.Hour

// ErrMiss is returned by Get on a cache miss. It is not a failure signal;
// callers are expected to fall back to the catalog.
var ErrMiss = errors.New("cache: miss")

// Account is the cached job-resolution record (spec.md §3 "Account cache").
type Account struct {
	FunctionName string            `json:"function_name"`
	UUID         string            `json:"uuid"`
	Account      map[string]string `json:"account"`
}

// Store is the account cache contract.
type Store interface {
	Get(ctx context.Context, uuid string) (Account, error)
	Set(ctx context.Context, uuid string, account Account, ttl time.Duration) error
}

// MemStore is an in-memory Store with TTL-based expiry, used in tests and
// for local development without Redis.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	account Account
	expires time.Time
}

// NewMemStore returns an empty in-memory account cache.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

func (m *MemStore) Get(_ context.Context, uuid string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[uuid]
	if !ok || time.Now().After(e.expires) {
		return Account{}, ErrMiss
	}
	return e.account, nil
}

func (m *MemStore) Set(_ context.Context, uuid string, account Account, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[uuid] = memEntry{account: account, expires: time.Now().Add(ttl)}
	return nil
}

// marshal/unmarshal helpers shared with the Redis-backed store.
func marshalAccount(a Account) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, "marshal account")
	}
	return b, nil
}

func unmarshalAccount(b []byte) (Account, error) {
	var a Account
	if err := json.Unmarshal(b, &a); err != nil {
		return Account{}, errors.Wrap(err, "unmarshal account")
	}
	return a, nil
}
