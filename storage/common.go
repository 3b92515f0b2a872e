// Package storage implements the synchronization service's storage
// engine: timestamp allocation, collection-name resolution, per-
// collection locking, quota accounting, the BSO record store, and
// multi-request batch commit. It is consumed by thin HTTP handlers
// which are outside this package's concern.
package storage

import (
	"github.com/mozilla-services/syncstorage-engine/storage/types"
)

// The domain value types live in storage/types so that storage/backend
// can depend on them without importing this package back (storage
// depends on backend for Adapter/Tx; backend must not depend on
// storage). Aliasing them here keeps every reference in this package
// (storage.BSO, storage.CollectionID, ...) unchanged.
type (
	Timestamp      = types.Timestamp
	UserIdentifier = types.UserIdentifier
	CollectionID   = types.CollectionID
	Collection     = types.Collection
	UserCollection = types.UserCollection
	BSO            = types.BSO
	Sort           = types.Sort
	BatchItem      = types.BatchItem
	Batch          = types.Batch
)

const (
	DefaultBSOTTL          = types.DefaultBSOTTL
	DefaultMaxTotalRecords = types.DefaultMaxTotalRecords
	DefaultBatchTTL        = types.DefaultBatchTTL
	TombstoneCollectionID  = types.TombstoneCollectionID

	SortNone   = types.SortNone
	SortNewest = types.SortNewest
	SortOldest = types.SortOldest
	SortIndex  = types.SortIndex
)

// TimestampFromTime truncates t to millisecond precision.
var TimestampFromTime = types.TimestampFromTime

// clampLimit enforces spec.md §4.5's pagination protocol: negative
// limits are clamped to zero (never an error), and the ceiling is this
// session's configured Config.MaxTotalRecords (spec.md §6's
// default_max_total_records), not a fixed constant, so an operator's
// configured pagination ceiling actually takes effect.
func (s *Session) clampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	if limit > s.db.config.MaxTotalRecords {
		return s.db.config.MaxTotalRecords
	}
	return limit
}
