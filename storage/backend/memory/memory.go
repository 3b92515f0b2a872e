// Package memory implements backend.Adapter entirely in process
// memory. It has no external dependency and exists so the engine's
// own unit tests can exercise every invariant in spec.md §8 without a
// live database, the way the teacher's satellitedbtest harness lets
// metabase tests run against a real database picked by a flag — here
// there is simply always one database available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mozilla-services/syncstorage-engine/storage/backend"
	"github.com/mozilla-services/syncstorage-engine/storage/types"
)

type bsoKey struct {
	user types.UserIdentifier
	coll types.CollectionID
	id   string
}

type ucKey struct {
	user types.UserIdentifier
	coll types.CollectionID
}

type batchKey struct {
	user types.UserIdentifier
	coll types.CollectionID
	id   string
}

// Adapter is an in-memory backend.Adapter.
type Adapter struct {
	mu sync.Mutex

	nextCollectionID types.CollectionID
	collectionByName map[string]types.CollectionID

	userCollections map[ucKey]types.UserCollection
	bsos            map[bsoKey]types.BSO
	batches         map[batchKey]types.Batch
}

var _ backend.Adapter = (*Adapter)(nil)

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{
		collectionByName: make(map[string]types.CollectionID),
		userCollections:  make(map[ucKey]types.UserCollection),
		bsos:             make(map[bsoKey]types.BSO),
		batches:          make(map[batchKey]types.Batch),
		nextCollectionID: types.TombstoneCollectionID + 1,
	}
}

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return "memory" }

// Ping implements backend.Adapter.
func (a *Adapter) Ping(ctx context.Context) error { return nil }

// Close implements backend.Adapter.
func (a *Adapter) Close() error { return nil }

// Begin implements backend.Adapter.
func (a *Adapter) Begin(ctx context.Context, forWrite bool) (backend.Tx, error) {
	return &tx{adapter: a}, nil
}

// tx applies writes directly to the adapter's maps (guarded by
// adapter.mu per-call) and keeps an undo log so Rollback can restore
// the prior state. This gives read-your-writes within the session for
// free, matching spec.md §5's "before-commit in transactional
// backends" contract.
type tx struct {
	adapter *Adapter
	mu      sync.Mutex
	undo    []func()
	done    bool
}

var _ backend.Tx = (*tx)(nil)

func (t *tx) recordUndo(fn func()) {
	t.mu.Lock()
	t.undo = append(t.undo, fn)
	t.mu.Unlock()
}

func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.undo = nil
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.adapter.mu.Lock()
	defer t.adapter.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return nil
}

func (t *tx) Now(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (t *tx) LookupCollectionID(ctx context.Context, name string) (types.CollectionID, bool, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.collectionByName[name]
	return id, ok, nil
}

func (t *tx) LookupCollectionName(ctx context.Context, id types.CollectionID) (string, bool, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, cid := range a.collectionByName {
		if cid == id {
			return name, true, nil
		}
	}
	return "", false, nil
}

func (t *tx) InsertCollection(ctx context.Context, name string) (types.CollectionID, error) {
	a := t.adapter
	a.mu.Lock()
	if id, ok := a.collectionByName[name]; ok {
		a.mu.Unlock()
		return id, nil
	}
	id := a.nextCollectionID
	a.nextCollectionID++
	a.collectionByName[name] = id
	a.mu.Unlock()

	t.recordUndo(func() {
		delete(a.collectionByName, name)
	})
	return id, nil
}

func (t *tx) GetUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (types.UserCollection, bool, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	uc, ok := a.userCollections[ucKey{user, coll}]
	return uc, ok, nil
}

func (t *tx) UpsertUserCollection(ctx context.Context, uc types.UserCollection) error {
	a := t.adapter
	key := ucKey{uc.UserID, uc.Collection}
	a.mu.Lock()
	prev, existed := a.userCollections[key]
	a.userCollections[key] = uc
	a.mu.Unlock()

	t.recordUndo(func() {
		if existed {
			a.userCollections[key] = prev
		} else {
			delete(a.userCollections, key)
		}
	})
	return nil
}

func (t *tx) DeleteUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) error {
	a := t.adapter
	key := ucKey{user, coll}
	a.mu.Lock()
	prev, existed := a.userCollections[key]
	delete(a.userCollections, key)
	a.mu.Unlock()

	if existed {
		t.recordUndo(func() {
			a.userCollections[key] = prev
		})
	}
	return nil
}

func (t *tx) ListUserCollections(ctx context.Context, user types.UserIdentifier) ([]types.UserCollection, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []types.UserCollection
	for k, uc := range a.userCollections {
		if k.user == user {
			out = append(out, uc)
		}
	}
	return out, nil
}

func (t *tx) GetBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (types.BSO, bool, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	bso, ok := a.bsos[bsoKey{user, coll, id}]
	return bso, ok, nil
}

func (t *tx) UpsertBSO(ctx context.Context, bso types.BSO) error {
	a := t.adapter
	key := bsoKey{bso.UserID, bso.Collection, bso.ID}
	a.mu.Lock()
	prev, existed := a.bsos[key]
	a.bsos[key] = bso
	a.mu.Unlock()

	t.recordUndo(func() {
		if existed {
			a.bsos[key] = prev
		} else {
			delete(a.bsos, key)
		}
	})
	return nil
}

func (t *tx) DeleteBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (bool, error) {
	a := t.adapter
	key := bsoKey{user, coll, id}
	a.mu.Lock()
	prev, existed := a.bsos[key]
	if existed {
		delete(a.bsos, key)
	}
	a.mu.Unlock()

	if existed {
		t.recordUndo(func() {
			a.bsos[key] = prev
		})
	}
	return existed, nil
}

func (t *tx) DeleteBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		found, err := t.DeleteBSO(ctx, user, coll, id)
		if err != nil {
			return n, err
		}
		if found {
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteCollectionBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (int64, error) {
	a := t.adapter
	a.mu.Lock()
	var toDelete []bsoKey
	for k := range a.bsos {
		if k.user == user && k.coll == coll {
			toDelete = append(toDelete, k)
		}
	}
	a.mu.Unlock()

	var n int64
	for _, k := range toDelete {
		found, err := t.DeleteBSO(ctx, k.user, k.coll, k.id)
		if err != nil {
			return n, err
		}
		if found {
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteAllForUser(ctx context.Context, user types.UserIdentifier) error {
	a := t.adapter
	a.mu.Lock()
	var bsoKeys []bsoKey
	for k := range a.bsos {
		if k.user == user {
			bsoKeys = append(bsoKeys, k)
		}
	}
	var ucKeys []ucKey
	for k := range a.userCollections {
		if k.user == user {
			ucKeys = append(ucKeys, k)
		}
	}
	a.mu.Unlock()

	for _, k := range bsoKeys {
		if _, err := t.DeleteBSO(ctx, k.user, k.coll, k.id); err != nil {
			return err
		}
	}
	for _, k := range ucKeys {
		if err := t.DeleteUserCollection(ctx, k.user, k.coll); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) DeleteExpired(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, before time.Time) (int64, error) {
	a := t.adapter
	a.mu.Lock()
	var expired []bsoKey
	for k, bso := range a.bsos {
		if k.user == user && k.coll == coll && !bso.Expiry.After(before) {
			expired = append(expired, k)
		}
	}
	a.mu.Unlock()

	var n int64
	for _, k := range expired {
		found, err := t.DeleteBSO(ctx, k.user, k.coll, k.id)
		if err != nil {
			return n, err
		}
		if found {
			n++
		}
	}
	return n, nil
}

func (t *tx) RangeScanBSOs(ctx context.Context, q backend.BSOQuery) ([]types.BSO, error) {
	a := t.adapter
	a.mu.Lock()
	var idSet map[string]bool
	if q.IDs != nil {
		idSet = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			idSet[id] = true
		}
	}

	var rows []types.BSO
	for k, bso := range a.bsos {
		if k.user != q.User || k.coll != q.Collection {
			continue
		}
		if !bso.Expiry.After(q.Now) {
			continue
		}
		if idSet != nil && !idSet[k.id] {
			continue
		}
		if !q.Newer.IsZero() && !bso.Modified.Time().After(q.Newer) {
			continue
		}
		if !q.Older.IsZero() && !bso.Modified.Time().Before(q.Older) {
			continue
		}
		rows = append(rows, bso)
	}
	a.mu.Unlock()

	switch q.Sort {
	case types.SortNewest:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Modified != rows[j].Modified {
				return rows[i].Modified > rows[j].Modified
			}
			return rows[i].ID > rows[j].ID
		})
	case types.SortOldest:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Modified != rows[j].Modified {
				return rows[i].Modified < rows[j].Modified
			}
			return rows[i].ID < rows[j].ID
		})
	case types.SortIndex:
		sort.Slice(rows, func(i, j int) bool {
			si, sj := sortIndexOf(rows[i]), sortIndexOf(rows[j])
			return si > sj
		})
	}

	start := q.Offset
	if start > len(rows) {
		start = len(rows)
	}
	rows = rows[start:]

	if q.Limit > 0 && len(rows) > q.Limit+1 {
		rows = rows[:q.Limit+1]
	}
	return rows, nil
}

// PurgeExpired implements backend.Purger.
func (a *Adapter) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	var expired []bsoKey
	for k, bso := range a.bsos {
		if !bso.Expiry.After(before) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(a.bsos, k)
	}
	a.mu.Unlock()
	return int64(len(expired)), nil
}

func sortIndexOf(b types.BSO) int64 {
	if b.SortIndex == nil {
		return 0
	}
	return *b.SortIndex
}

func (t *tx) AggregateBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, now time.Time) (int64, int64, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()

	var count, total int64
	for k, bso := range a.bsos {
		if k.user != user || k.coll != coll {
			continue
		}
		if !bso.Expiry.After(now) {
			continue
		}
		count++
		total += int64(len(bso.Payload))
	}
	return count, total, nil
}

func (t *tx) CreateBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, createdAt time.Time) error {
	a := t.adapter
	key := batchKey{user, coll, id}
	a.mu.Lock()
	a.batches[key] = types.Batch{ID: id, UserID: user, Collection: coll, CreatedAt: createdAt}
	a.mu.Unlock()

	t.recordUndo(func() {
		delete(a.batches, key)
	})
	return nil
}

func (t *tx) AppendBatchItems(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, items []types.BatchItem) error {
	a := t.adapter
	key := batchKey{user, coll, id}
	a.mu.Lock()
	batch, ok := a.batches[key]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	prevLen := len(batch.Items)
	batch.Items = append(append([]types.BatchItem(nil), batch.Items...), items...)
	a.batches[key] = batch
	a.mu.Unlock()

	t.recordUndo(func() {
		b := a.batches[key]
		b.Items = b.Items[:prevLen]
		a.batches[key] = b
	})
	return nil
}

func (t *tx) GetBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (types.Batch, bool, error) {
	a := t.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	batch, ok := a.batches[batchKey{user, coll, id}]
	return batch, ok, nil
}

func (t *tx) DeleteBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) error {
	a := t.adapter
	key := batchKey{user, coll, id}
	a.mu.Lock()
	prev, existed := a.batches[key]
	delete(a.batches, key)
	a.mu.Unlock()

	if existed {
		t.recordUndo(func() {
			a.batches[key] = prev
		})
	}
	return nil
}
