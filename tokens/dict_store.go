package tokens

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/herald-auth/herald/internal/cache"
)

// Backing is the dict-like storage a DictStore writes through to. The
// default is a bounded time-expiring in-memory map; swap in an
// implementation backed by a shared store for multi-node deployments.
type Backing interface {
	// Set stores value under key, overwriting any previous entry.
	Set(key string, value []string)

	// Get returns the value for key, if present.
	Get(key string) ([]string, bool)

	// Remove drops key. Removing an absent key is a no-op.
	Remove(key string)
}

// DefaultDictStoreSize bounds the default backing map. It only ever needs to
// cover the number of concurrent in-flight logins.
const DefaultDictStoreSize = 1024

// DefaultDictStoreTTL bounds the default backing map's entry lifetime. It
// never needs to exceed the longest allowed transaction lifetime; handlers
// enforce their own wall-clock timeouts on top of this.
const DefaultDictStoreTTL = time.Hour

// DictStore stores token values in a dict-like container keyed by a freshly
// generated opaque id per Put. It supports true single-use consumption: once
// a token has been popped, any later Get or Pop with the same token fails
// with ErrNotFound.
type DictStore struct {
	store Backing
}

var _ Store = (*DictStore)(nil)

// NewDictStore creates a DictStore. Supported options: WithBacking.
func NewDictStore(opt ...Option) *DictStore {
	opts := getOpts(opt...)
	backing := opts.withBacking
	if backing == nil {
		backing = cache.New[[]string](DefaultDictStoreSize, DefaultDictStoreTTL)
	}
	return &DictStore{store: backing}
}

// Put stores value under a random unique token id.
func (s *DictStore) Put(value []string) (string, error) {
	const op = "tokens.DictStore.Put"
	key, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate token id: %w", op, err)
	}
	s.store.Set(key, value)
	return key, nil
}

// Get retrieves the tuple for token, without consuming it.
func (s *DictStore) Get(token string) ([]string, error) {
	const op = "tokens.DictStore.Get"
	value, ok := s.store.Get(token)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return value, nil
}

// Remove deletes the token. Removing an unknown token is a no-op.
func (s *DictStore) Remove(token string) {
	s.store.Remove(token)
}

// Pop retrieves and consumes the token. The token is removed even when
// retrieval fails, so replaying a consumed token always fails.
func (s *DictStore) Pop(token string) ([]string, error) {
	value, err := s.Get(token)
	s.Remove(token)
	return value, err
}

// options holds the configurable bits for this package's constructors.
type options struct {
	withBacking Backing
}

// Option configures a token store constructor.
type Option func(*options)

func getOpts(opt ...Option) options {
	var opts options
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithBacking provides an alternative backing map for a DictStore, for
// example one backed by a shared cache in load-balanced deployments.
func WithBacking(b Backing) Option {
	return func(o *options) {
		o.withBacking = b
	}
}
