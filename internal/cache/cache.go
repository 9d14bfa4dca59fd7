// Package cache provides the engine's five LRU caches: document versions,
// symbol lookups, interpreter type inference, documentation, and composed
// hover payloads. Each cache is independently sized, internally synchronized,
// and tracks cumulative hit/miss counts. Invalidation is conservative: a
// spurious miss is always preferred over a stale hit.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/garnet-dev/garnet/internal/index"
)

// Cache is a synchronized LRU keyed by K. Values carry no file-version
// checks of their own; the Manager drops every entry touching a file the
// moment that file's version advances.
type Cache[K comparable, V any] struct {
	lru    *lru.Cache[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache holding at most capacity entries.
func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c, err := lru.New[K, V](capacity)
	if err != nil {
		// lru.New only fails for non-positive sizes, which the clamp
		// above rules out.
		panic(err)
	}
	return &Cache[K, V]{lru: c}
}

// Get returns the cached value and whether it was present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores a value, evicting the least-recently-used entry on overflow.
func (c *Cache[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

// Invalidate removes every entry the predicate matches.
func (c *Cache[K, V]) Invalidate(match func(key K, value V) bool) {
	for _, key := range c.lru.Keys() {
		if value, ok := c.lru.Peek(key); ok && match(key, value) {
			c.lru.Remove(key)
		}
	}
}

// Purge drops all entries. Hit/miss counters are left alone; they are
// process-lifetime metrics.
func (c *Cache[K, V]) Purge() { c.lru.Purge() }

// Resize changes the capacity in place, evicting the oldest entries if the
// cache shrinks. Hit and miss counters are untouched.
func (c *Cache[K, V]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.lru.Resize(capacity)
}

// Len reports the current number of entries.
func (c *Cache[K, V]) Len() int { return c.lru.Len() }

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (c *Cache[K, V]) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// DocumentState is the last-seen version and content hash of a file, used to
// short-circuit redundant reparses.
type DocumentState struct {
	Version int64
	Hash    string
}

// PositionKey addresses a cursor position in a file.
type PositionKey struct {
	Path string
	Line int
	Col  int
}

// TypeKey addresses an expression occurrence for interpreter type inference.
// The expression hash keeps entries from surviving an edit that moves a
// different expression under the same position.
type TypeKey struct {
	Path     string
	Line     int
	Col      int
	ExprHash string
}

// HoverValue is a composed hover payload.
type HoverValue struct {
	Signature     string
	Kind          string
	TypeName      string
	TypeSource    index.TypeSource
	Documentation string
	Span          index.Span

	// TargetPath is the defining file of the symbol the payload describes.
	// The entry dies with either the position's file or the target's.
	TargetPath string
}

// Config sizes the five caches.
type Config struct {
	Document int `yaml:"document"`
	Symbol   int `yaml:"symbol"`
	Types    int `yaml:"types"`
	Docs     int `yaml:"docs"`
	Hover    int `yaml:"hover"`
}

// DefaultConfig returns the default capacities.
func DefaultConfig() Config {
	return Config{Document: 512, Symbol: 1024, Types: 2048, Docs: 256, Hover: 1024}
}

// Manager owns the five caches.
type Manager struct {
	Document *Cache[string, DocumentState]
	Symbol   *Cache[string, []*index.Symbol]
	Types    *Cache[TypeKey, index.TypeInfo]
	Docs     *Cache[string, string]
	Hover    *Cache[PositionKey, HoverValue]
}

// NewManager creates a Manager with the given capacities, applying defaults
// for any non-positive size.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	pick := func(n, fallback int) int {
		if n > 0 {
			return n
		}
		return fallback
	}
	return &Manager{
		Document: NewCache[string, DocumentState](pick(cfg.Document, def.Document)),
		Symbol:   NewCache[string, []*index.Symbol](pick(cfg.Symbol, def.Symbol)),
		Types:    NewCache[TypeKey, index.TypeInfo](pick(cfg.Types, def.Types)),
		Docs:     NewCache[string, string](pick(cfg.Docs, def.Docs)),
		Hover:    NewCache[PositionKey, HoverValue](pick(cfg.Hover, def.Hover)),
	}
}

// InvalidateFile drops every entry keyed to or referencing the file, across
// all caches. Documentation entries are keyed by qualified name, not file,
// so they survive; they come from the external interpreter, not from source.
func (m *Manager) InvalidateFile(path string) {
	m.Document.Invalidate(func(key string, _ DocumentState) bool {
		return key == path
	})
	// An edit can declare a name whose cached list was built from other
	// files entirely, so no per-entry predicate can tell a fresh list from
	// a stale one. The whole cache goes.
	m.Symbol.Purge()
	m.Types.Invalidate(func(key TypeKey, _ index.TypeInfo) bool {
		return key.Path == path
	})
	m.Hover.Invalidate(func(key PositionKey, v HoverValue) bool {
		return key.Path == path || v.TargetPath == path
	})
}

// Resize adjusts the cache capacities in place. Entries within the new
// bounds and the hit/miss counters survive; the counters reset only at
// process start.
func (m *Manager) Resize(cfg Config) {
	def := DefaultConfig()
	pick := func(n, fallback int) int {
		if n > 0 {
			return n
		}
		return fallback
	}
	m.Document.Resize(pick(cfg.Document, def.Document))
	m.Symbol.Resize(pick(cfg.Symbol, def.Symbol))
	m.Types.Resize(pick(cfg.Types, def.Types))
	m.Docs.Resize(pick(cfg.Docs, def.Docs))
	m.Hover.Resize(pick(cfg.Hover, def.Hover))
}

// HitRates reports the per-cache hit rates keyed by cache name.
func (m *Manager) HitRates() map[string]float64 {
	return map[string]float64{
		"document": m.Document.HitRate(),
		"symbol":   m.Symbol.HitRate(),
		"types":    m.Types.HitRate(),
		"docs":     m.Docs.HitRate(),
		"hover":    m.Hover.HitRate(),
	}
}
