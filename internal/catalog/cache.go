package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"apicatalog.org/internal/obs"
)

// Fetcher is the remote side of the cache.
type Fetcher interface {
	FetchEntity(ctx context.Context, kind Kind, id string) (Entity, error)
	FetchPage(ctx context.Context, kind Kind, page, size int) ([]byte, error)
}

// NameStore is an optional second-level cache shared between portal instances.
type NameStore interface {
	Get(ctx context.Context, kind Kind, id string) (string, bool, error)
	Put(ctx context.Context, kind Kind, entities []Entity) error
}

var errEmptyName = errors.New("catalog: entity has no name")

// Cache resolves reference ids to display names. Names are fetched lazily, at
// most one fetch per id at a time, and a failed fetch is never cached: the
// caller gets a fallback name and the id is retried after a cooldown.
type Cache struct {
	fetcher Fetcher
	shared  NameStore
	group   singleflight.Group

	mu       sync.RWMutex
	entities map[Kind]map[string]Entity
	aliases  map[Kind]map[string]string
	failed   map[string]time.Time

	fetchTimeout time.Duration
	retryAfter   time.Duration
	bulkSize     int
	now          func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithNameStore plugs in a shared second-level store.
func WithNameStore(s NameStore) Option { return func(c *Cache) { c.shared = s } }

// WithFetchTimeout bounds each background fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithRetryAfter sets how long a failed id serves its fallback before the next fetch.
func WithRetryAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.retryAfter = d
		}
	}
}

// WithBulkSize sets the page size used by BulkLoad.
func WithBulkSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.bulkSize = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New builds an empty cache.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:      fetcher,
		entities:     make(map[Kind]map[string]Entity),
		aliases:      make(map[Kind]map[string]string),
		failed:       make(map[string]time.Time),
		fetchTimeout: 10 * time.Second,
		retryAfter:   time.Minute,
		bulkSize:     100,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveName never blocks. It returns the cached name, the fallback name for
// an id whose last fetch failed recently, or Placeholder while a fetch runs.
func (c *Cache) ResolveName(kind Kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return Unknown
	}
	if name, ok := c.Cached(kind, id); ok {
		obs.ObserveCatalogLookup(string(kind), "hit")
		return name
	}
	if c.recentlyFailed(kind, id) {
		obs.ObserveCatalogLookup(string(kind), "fallback")
		return Fallback(kind, id)
	}
	obs.ObserveCatalogLookup(string(kind), "miss")
	c.start(kind, id)
	return Placeholder
}

// Resolve is the blocking form of ResolveName. It joins any in-flight fetch
// for id. If ctx ends first the placeholder is returned.
func (c *Cache) Resolve(ctx context.Context, kind Kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return Unknown
	}
	if name, ok := c.Cached(kind, id); ok {
		obs.ObserveCatalogLookup(string(kind), "hit")
		return name
	}
	if c.recentlyFailed(kind, id) {
		obs.ObserveCatalogLookup(string(kind), "fallback")
		return Fallback(kind, id)
	}
	obs.ObserveCatalogLookup(string(kind), "miss")
	select {
	case res := <-c.start(kind, id):
		if res.Err != nil {
			return Fallback(kind, id)
		}
		return res.Val.(string)
	case <-ctx.Done():
		return Placeholder
	}
}

// Cached returns the name stored for id, trying the raw and separator-free forms.
func (c *Cache) Cached(kind Kind, id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.lookupLocked(kind, id)
	if !ok {
		return "", false
	}
	return e.Name, true
}

// LookupField adapts the cache to requests.NameLookup. It never fetches.
func (c *Cache) LookupField(field, id string) string {
	kind, ok := ParseKind(field)
	if !ok {
		return ""
	}
	name, _ := c.Cached(kind, id)
	return name
}

// Entities returns the cached entities of kind sorted by name.
func (c *Cache) Entities(kind Kind) []Entity {
	c.mu.RLock()
	out := make([]Entity, 0, len(c.entities[kind]))
	for _, e := range c.entities[kind] {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sortEntities(out)
	return out
}

// ServiceTree returns the cached services as a two-level hierarchy.
func (c *Cache) ServiceTree() []ServiceNode {
	return BuildServiceTree(c.Entities(Services))
}

// BulkLoad fetches the first page of kind and caches every entity in it.
// On failure the cache is left untouched and the error is returned for the
// caller to log or report; lookups keep using cached or fallback names.
func (c *Cache) BulkLoad(ctx context.Context, kind Kind) (int, error) {
	raw, err := c.fetcher.FetchPage(ctx, kind, 0, c.bulkSize)
	if err != nil {
		obs.Warn("catalog bulk load failed", map[string]any{"kind": string(kind), "error": err.Error()})
		return 0, fmt.Errorf("bulk load %s: %w", kind, err)
	}
	ents := DecodeEntities(kind, raw)
	c.mu.Lock()
	for _, e := range ents {
		c.putLocked(kind, e, "")
	}
	c.mu.Unlock()
	if c.shared != nil && len(ents) > 0 {
		if err := c.shared.Put(ctx, kind, ents); err != nil {
			obs.Warn("catalog shared store write failed", map[string]any{"kind": string(kind), "error": err.Error()})
		}
	}
	return len(ents), nil
}

func (c *Cache) start(kind Kind, id string) <-chan singleflight.Result {
	key := string(kind) + ":" + normalizeID(id)
	return c.group.DoChan(key, func() (any, error) {
		return c.fetch(kind, id)
	})
}

func (c *Cache) fetch(kind Kind, id string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	if c.shared != nil {
		if name, ok, err := c.shared.Get(ctx, kind, normalizeID(id)); err == nil && ok && name != "" {
			c.mu.Lock()
			c.putLocked(kind, Entity{ID: normalizeID(id), Name: name}, id)
			c.mu.Unlock()
			return name, nil
		}
	}

	var lastErr error
	for _, cand := range candidateIDs(id) {
		e, err := c.fetcher.FetchEntity(ctx, kind, cand)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(e.Name) == "" {
			lastErr = errEmptyName
			continue
		}
		if strings.TrimSpace(e.ID) == "" {
			e.ID = cand
		}
		c.mu.Lock()
		c.putLocked(kind, e, id)
		c.mu.Unlock()
		if c.shared != nil {
			if err := c.shared.Put(ctx, kind, []Entity{e}); err != nil {
				obs.Warn("catalog shared store write failed", map[string]any{"kind": string(kind), "error": err.Error()})
			}
		}
		return e.Name, nil
	}

	c.mu.Lock()
	c.failed[failureKey(kind, id)] = c.now()
	c.mu.Unlock()
	obs.Warn("catalog lookup failed, serving fallback", map[string]any{
		"kind":     string(kind),
		"id":       id,
		"fallback": Fallback(kind, id),
		"error":    fmt.Sprint(lastErr),
	})
	return "", fmt.Errorf("resolve %s %s: %w", kind.Label(), id, lastErr)
}

func (c *Cache) recentlyFailed(kind Kind, id string) bool {
	c.mu.RLock()
	at, ok := c.failed[failureKey(kind, id)]
	c.mu.RUnlock()
	return ok && c.now().Sub(at) < c.retryAfter
}

func (c *Cache) lookupLocked(kind Kind, id string) (Entity, bool) {
	byID := c.entities[kind]
	for _, cand := range candidateIDs(id) {
		if e, ok := byID[cand]; ok {
			return e, true
		}
		if canonical, ok := c.aliases[kind][cand]; ok {
			if e, ok := byID[canonical]; ok {
				return e, true
			}
		}
	}
	return Entity{}, false
}

// putLocked stores e and indexes its separator-free id and the id it was
// requested under. Callers hold c.mu.
func (c *Cache) putLocked(kind Kind, e Entity, requested string) {
	if c.entities[kind] == nil {
		c.entities[kind] = make(map[string]Entity)
		c.aliases[kind] = make(map[string]string)
	}
	c.entities[kind][e.ID] = e
	for _, alias := range []string{normalizeID(e.ID), strings.TrimSpace(requested), normalizeID(requested)} {
		if alias != "" && alias != e.ID {
			c.aliases[kind][alias] = e.ID
		}
	}
	delete(c.failed, failureKey(kind, e.ID))
	if requested != "" {
		delete(c.failed, failureKey(kind, requested))
	}
}

func failureKey(kind Kind, id string) string {
	return string(kind) + ":" + normalizeID(id)
}
