package storage

import (
	"context"
	"time"

	"github.com/mozilla-services/syncstorage-engine/storage/backend"
)

// GetStorageTimestamp implements get_storage_timestamp: the maximum
// modified across every UserCollection row, tombstone included, or
// zero if the user has no rows at all.
func (s *Session) GetStorageTimestamp(ctx context.Context) (Timestamp, error) {
	rows, err := s.tx.ListUserCollections(ctx, s.user)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	var max Timestamp
	for _, uc := range rows {
		if uc.Modified > max {
			max = uc.Modified
		}
	}
	return max, nil
}

// GetStorageUsage implements get_storage_usage: the sum of every
// collection's live byte usage (tombstone excluded — it carries no
// payload bytes).
func (s *Session) GetStorageUsage(ctx context.Context) (int64, error) {
	usage, err := s.GetCollectionUsage(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, bytes := range usage {
		total += bytes
	}
	return total, nil
}

// DeleteStorage implements delete_storage: every BSO and every
// UserCollection row for the user is removed, tombstone included —
// this is a full wipe, not a deletion that itself needs recording.
func (s *Session) DeleteStorage(ctx context.Context) error {
	if err := s.tx.DeleteAllForUser(ctx, s.user); err != nil {
		return ErrInternal.Wrap(err)
	}
	s.db.metrics.Writes.WithLabelValues("delete_storage").Inc()
	return nil
}

// Check implements the check operation: it pings the backend and
// reports true when the backend is reachable. It does not compare the
// process-wide collection cache against the backend.
func (db *DB) Check(ctx context.Context) (bool, error) {
	if err := db.adapter.Ping(ctx); err != nil {
		return false, ErrUnavailable.Wrap(err)
	}
	return true, nil
}

// PurgeExpired hard-deletes BSOs whose expiry has passed before,
// across every user and collection in one sweep, freeing storage and
// keeping quota recomputation cheap (SPEC_FULL.md §8, grounded on the
// original's purge_ttl binary). It requires a backend implementing
// backend.Purger; adapters that can't do this efficiently simply don't
// implement it, and this returns ErrInternal.
func (db *DB) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	purger, ok := db.adapter.(backend.Purger)
	if !ok {
		return 0, ErrInternal.New("backend %q does not support PurgeExpired", db.adapter.Name())
	}
	n, err := purger.PurgeExpired(ctx, before)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	db.log.Info("purged expired bsos", zapInt64("count", n))
	return n, nil
}
