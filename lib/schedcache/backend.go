package schedcache

import "context"

// Backend is one key-value storage strategy in the cache's fallback
// chain. Implementations report misses as (nil, false, nil), errors
// are reserved for the backend itself misbehaving so the chain can
// fall through to the next one.
type Backend interface {
	Name() string
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every stored key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
