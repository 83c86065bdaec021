package schedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"eios-backend/lib/timezone"
)

const DateFormat = "2006-01-02"

// envelope wraps every stored value with the bookkeeping needed for
// lazy eviction. Ttl of zero means the entry never expires.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Ttl       int64           `json:"ttl,omitempty"`
}

func (e envelope) expired(now time.Time) bool {
	return e.Ttl > 0 && now.UnixMilli()-e.Timestamp >= e.Ttl
}

// Cache is a date-keyed, TTL-based cache over a remote and a local
// key-value backend. The remote backend is preferred for every
// operation, any remote failure silently falls through to the local
// one: the cache is an optimization, losing it must never break a
// query. Expired entries are evicted lazily, on the read that finds
// them stale, there is no background sweep.
type Cache[T any] struct {
	prefix string
	remote Backend
	local  Backend

	// swapped out by tests to simulate elapsed time
	now func() time.Time
}

// New builds a cache over the given backends. remote may be nil when
// the host environment doesn't expose one (or it is disabled), every
// operation then runs against local alone.
func New[T any](prefix string, remote, local Backend) *Cache[T] {
	return &Cache[T]{
		prefix: prefix,
		remote: remote,
		local:  local,
		now:    timezone.Now,
	}
}

func (c *Cache[T]) key(date time.Time) string {
	return c.prefix + date.Format(DateFormat)
}

// backends returns the fallback chain in preference order.
func (c *Cache[T]) backends() []Backend {
	if c.remote == nil {
		return []Backend{c.local}
	}
	return []Backend{c.remote, c.local}
}

func (c *Cache[T]) Save(ctx context.Context, date time.Time, data T, ttl time.Duration) error {
	serialized, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serialize cache entry: %w", err)
	}
	value, err := json.Marshal(envelope{
		Data:      serialized,
		Timestamp: c.now().UnixMilli(),
		Ttl:       ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("serialize cache envelope: %w", err)
	}

	key := c.key(date)
	var lastErr error
	for _, backend := range c.backends() {
		err := backend.Write(ctx, key, value)
		if err == nil {
			return nil
		}
		slog.WarnContext(
			ctx, "cache write failed, falling back",
			"backend", backend.Name(), "key", key, "err", err,
		)
		lastErr = err
	}
	return lastErr
}

// Get returns the entry for date, or ok=false when there is none.
// A stale entry is deleted from both backends before reporting a miss.
func (c *Cache[T]) Get(ctx context.Context, date time.Time) (T, bool, error) {
	var zero T
	key := c.key(date)

	var value []byte
	found := false
	var lastErr error
	for _, backend := range c.backends() {
		data, ok, err := backend.Read(ctx, key)
		if err != nil {
			slog.WarnContext(
				ctx, "cache read failed, falling back",
				"backend", backend.Name(), "key", key, "err", err,
			)
			lastErr = err
			continue
		}
		if ok {
			value = data
			found = true
			break
		}
	}
	if !found {
		return zero, false, lastErr
	}

	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		// an unreadable envelope is as good as a miss, drop it
		slog.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "err", err)
		c.deleteEverywhere(ctx, key)
		return zero, false, nil
	}

	if env.expired(c.now()) {
		c.deleteEverywhere(ctx, key)
		return zero, false, nil
	}

	var data T
	if err := json.Unmarshal(env.Data, &data); err != nil {
		slog.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "err", err)
		c.deleteEverywhere(ctx, key)
		return zero, false, nil
	}
	return data, true, nil
}

func (c *Cache[T]) Remove(ctx context.Context, date time.Time) {
	c.deleteEverywhere(ctx, c.key(date))
}

// deletions hit both backends, removing only the preferred copy would
// resurrect the other one on the next fallback read
func (c *Cache[T]) deleteEverywhere(ctx context.Context, key string) {
	for _, backend := range c.backends() {
		err := backend.Delete(ctx, key)
		if err != nil {
			slog.WarnContext(
				ctx, "cache delete failed",
				"backend", backend.Name(), "key", key, "err", err,
			)
		}
	}
}

// Clear removes every entry under the cache's prefix from both
// backends. Partial backend failure is tolerated.
func (c *Cache[T]) Clear(ctx context.Context) {
	for _, key := range c.listKeys(ctx) {
		c.deleteEverywhere(ctx, key)
	}
}

func (c *Cache[T]) Size(ctx context.Context) int {
	return len(c.listKeys(ctx))
}

// ListDates returns the sorted set of dates with cached entries,
// merged across both backends.
func (c *Cache[T]) ListDates(ctx context.Context) []string {
	keys := c.listKeys(ctx)
	dates := make([]string, len(keys))
	for i, key := range keys {
		dates[i] = strings.TrimPrefix(key, c.prefix)
	}
	return dates
}

func (c *Cache[T]) listKeys(ctx context.Context) []string {
	seen := map[string]bool{}
	var keys []string
	for _, backend := range c.backends() {
		backendKeys, err := backend.List(ctx, c.prefix)
		if err != nil {
			slog.WarnContext(
				ctx, "cache key listing failed",
				"backend", backend.Name(), "err", err,
			)
			continue
		}
		for _, key := range backendKeys {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	return keys
}
