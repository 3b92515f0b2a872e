// Package backend defines the narrow capability set the storage
// engine requires of a concrete record store (spec.md §9: "the engine
// consumes the Record Store through a narrow capability set:
// {begin, commit, rollback, insert, upsert, delete, range_scan,
// group_aggregate}"). Concrete adapters — memory, postgres, spanner —
// are independent variants selected at startup; the engine never
// type-switches on which one is active.
package backend

import (
	"context"
	"time"

	"github.com/mozilla-services/syncstorage-engine/storage/types"
)

// Adapter is a connection (or connection pool) capable of starting
// transactions against a concrete record store.
type Adapter interface {
	// Begin starts a transaction. Read transactions may run
	// concurrently with other reads and writes elsewhere; write
	// transactions are exclusive per the engine's own locking (C3) — the
	// adapter itself need not serialize writes beyond what the
	// underlying store already guarantees for a single transaction.
	Begin(ctx context.Context, forWrite bool) (Tx, error)

	// Ping verifies connectivity without starting a transaction; it
	// backs the engine's `check` operation.
	Ping(ctx context.Context) error

	// Close releases adapter-level resources (pools, clients).
	Close() error

	// Name identifies the adapter for logging ("postgres", "spanner",
	// "memory").
	Name() string
}

// Tx is one transaction's worth of record-store capability.
type Tx interface {
	// Commit makes writes performed through this Tx durable and visible.
	Commit(ctx context.Context) error

	// Rollback discards writes performed through this Tx. Safe to call
	// after Commit as a no-op, matching database/sql's Tx contract, so
	// callers can always `defer tx.Rollback(ctx)`.
	Rollback(ctx context.Context) error

	// Now returns the backend's own transaction timestamp when
	// available (spec.md §4.1: "should be the backend's transaction
	// timestamp when available, to align with backend-observed
	// serialization order").
	Now(ctx context.Context) (time.Time, error)

	// --- collection name cache backing (C2) ---

	// LookupCollectionID resolves a name to its id. ok is false if no
	// such name has ever been allocated.
	LookupCollectionID(ctx context.Context, name string) (id types.CollectionID, ok bool, err error)

	// InsertCollection performs an idempotent insert-or-ignore of name,
	// then reads back the canonical id (spec.md §4.2).
	InsertCollection(ctx context.Context, name string) (types.CollectionID, error)

	// LookupCollectionName is the reverse of LookupCollectionID, used
	// to render get_collection_timestamps' name-keyed map.
	LookupCollectionName(ctx context.Context, id types.CollectionID) (name string, ok bool, err error)

	// --- user_collections (parent side of the BSO tree) ---

	// GetUserCollection returns the row, or ok=false if none exists yet.
	GetUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (uc types.UserCollection, ok bool, err error)

	// UpsertUserCollection writes modified/count/total_bytes for
	// (user, collection), creating the row if absent.
	UpsertUserCollection(ctx context.Context, uc types.UserCollection) error

	// DeleteUserCollection removes the row. Not an error if absent.
	DeleteUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) error

	// ListUserCollections returns every UserCollection row for user,
	// tombstone included; callers filter as needed.
	ListUserCollections(ctx context.Context, user types.UserIdentifier) ([]types.UserCollection, error)

	// --- bsos (child side of the BSO tree) ---

	// GetBSO returns a single BSO regardless of expiry; the engine
	// applies the expiry>now visibility filter itself so that callers
	// needing raw access (integrity checks) are not forced through it.
	GetBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (bso types.BSO, ok bool, err error)

	// UpsertBSO inserts or replaces a BSO row keyed by (user, coll, id).
	UpsertBSO(ctx context.Context, bso types.BSO) error

	// DeleteBSO removes one row; found reports whether it existed.
	DeleteBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (found bool, err error)

	// DeleteBSOs removes a set of rows in one call, returning the
	// number actually removed.
	DeleteBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, ids []string) (removed int64, err error)

	// DeleteCollectionBSOs removes every row under (user, coll).
	DeleteCollectionBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (removed int64, err error)

	// DeleteAllForUser removes every bsos and user_collections row for
	// user, across every collection (delete_storage).
	DeleteAllForUser(ctx context.Context, user types.UserIdentifier) error

	// DeleteExpired hard-deletes rows with expiry <= before, returning
	// the count removed. Backs the TTL-reaper supplement (SPEC_FULL §8).
	DeleteExpired(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, before time.Time) (removed int64, err error)

	// RangeScanBSOs is the sort/paginate/filter primitive behind
	// get_bsos and get_bso_ids.
	RangeScanBSOs(ctx context.Context, q BSOQuery) ([]types.BSO, error)

	// AggregateBSOs is the group_aggregate primitive: live (non-
	// expired) row count and total payload bytes for (user, coll).
	AggregateBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, now time.Time) (count int64, totalBytes int64, err error)

	// --- batches (C6 staging area) ---

	// CreateBatch persists a new, empty batch under (user, coll).
	CreateBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, createdAt time.Time) error

	// AppendBatchItems adds items to an already-created batch's staged
	// set, in order.
	AppendBatchItems(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, items []types.BatchItem) error

	// GetBatch returns a batch's full staged content. ok is false if the
	// batch id is unknown for (user, coll).
	GetBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (batch types.Batch, ok bool, err error)

	// DeleteBatch removes a batch. Not an error if absent.
	DeleteBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) error
}

// Purger is an optional capability: a backend that can sweep expired
// BSOs across every user and collection in one pass, rather than one
// (user, collection) at a time. Backs the TTL-reaper supplement
// (SPEC_FULL.md §8, grounded on the original's purge_ttl binary).
// Adapters for which a global sweep isn't efficient may simply not
// implement this; callers type-assert for it.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time) (removed int64, err error)
}

// BSOQuery parameterizes RangeScanBSOs. Exactly one of IDs being nil or
// non-nil toggles the id-set filter; Newer/Older are zero when unset.
type BSOQuery struct {
	User       types.UserIdentifier
	Collection types.CollectionID
	Now        time.Time

	IDs   []string
	Newer time.Time
	Older time.Time

	Sort   types.Sort
	Limit  int // already clamped by the caller; RangeScanBSOs fetches Limit+1 rows when Limit>0
	Offset int
}
