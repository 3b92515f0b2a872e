package storage

import (
	"context"
	"sync"

	"github.com/mozilla-services/syncstorage-engine/storage/backend"
)

// collectionCache is the process-wide, bounded, thread-safe name<->id
// map of spec.md §4.2. It is shared across every Session drawn from
// the same DB (pool-wide, matching the original implementation's
// `Arc<CollectionCache>` held at the connection-pool level rather
// than per-session — see SPEC_FULL.md §8).
//
// New names are created by ensureIDFor in its own committed
// transaction before they are cached, so a rolled-back session never
// leaves a stale mapping behind; idFor and nameFor cache only
// mappings the backend already returns.
type collectionCache struct {
	mu       sync.RWMutex
	byName   map[string]CollectionID
	byID     map[CollectionID]string
	capacity int
}

func newCollectionCache(capacity int) *collectionCache {
	return &collectionCache{
		byName:   make(map[string]CollectionID),
		byID:     make(map[CollectionID]string),
		capacity: capacity,
	}
}

func (c *collectionCache) lookup(name string) (CollectionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

func (c *collectionCache) nameOf(id CollectionID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[id]
	return name, ok
}

func (c *collectionCache) insert(name string, id CollectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity > 0 && len(c.byName) >= c.capacity {
		if _, ok := c.byName[name]; !ok {
			// Bounded per spec.md §4.2; once full, stop admitting new
			// mappings rather than evicting one that might still be in
			// use. Lookups simply fall through to the backend on miss.
			return
		}
	}
	c.byName[name] = id
	c.byID[id] = name
}

// idFor resolves name to an id without creating it, consulting the
// cache first and the backend on miss.
func (c *collectionCache) idFor(ctx context.Context, tx backend.Tx, name string) (CollectionID, bool, error) {
	if id, ok := c.lookup(name); ok {
		return id, true, nil
	}
	id, ok, err := tx.LookupCollectionID(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if ok {
		c.insert(name, id)
	}
	return id, ok, nil
}

// nameFor is the reverse of idFor: resolve an id back to its name,
// consulting the cache first.
func (c *collectionCache) nameFor(ctx context.Context, tx backend.Tx, id CollectionID) (string, bool, error) {
	if name, ok := c.nameOf(id); ok {
		return name, true, nil
	}
	name, ok, err := tx.LookupCollectionName(ctx, id)
	if err != nil {
		return "", false, err
	}
	if ok {
		c.insert(name, id)
	}
	return name, ok, nil
}

// ensureIDFor resolves name to an id, creating it via an idempotent
// insert-or-ignore if absent, per spec.md §4.2's algorithm.
//
// It runs in its own short, immediately-committed transaction rather
// than the caller's in-flight session transaction: collections are
// process-global and outlive any one session, so a create must not be
// undone by an unrelated rollback of the write that happened to
// trigger it. This is also why the result is safe to cache
// immediately — by the time ensureIDFor returns, the mapping is
// durable regardless of what the caller's session does next (spec.md
// §4.2: "Entries are populated only when not inside a write
// transaction").
func (c *collectionCache) ensureIDFor(ctx context.Context, adapter backend.Adapter, name string) (CollectionID, error) {
	if id, ok := c.lookup(name); ok {
		return id, nil
	}

	tx, err := adapter.Begin(ctx, true)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	id, err := tx.InsertCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	c.insert(name, id)
	return id, nil
}
