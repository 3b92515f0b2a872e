package storage

import "context"

// GetCollectionTimestamp implements spec.md §4.5's
// get_collection_timestamp. Unlike get_bsos, a missing collection is
// an error here (spec.md §4.5 "Empty collection behavior").
func (s *Session) GetCollectionTimestamp(ctx context.Context, collection string) (Timestamp, error) {
	coll, err := s.lockForRead(ctx, collection)
	if err != nil {
		return 0, err
	}
	if coll == SentinelCollectionID {
		return 0, ErrCollectionNotFound.New("collection %q not found", collection)
	}

	uc, ok, err := s.tx.GetUserCollection(ctx, s.user, coll)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	if !ok {
		return 0, ErrCollectionNotFound.New("collection %q not found", collection)
	}
	return uc.Modified, nil
}

// GetCollectionTimestamps implements get_collection_timestamps: every
// collection the user has, keyed by name, tombstone excluded.
func (s *Session) GetCollectionTimestamps(ctx context.Context) (map[string]Timestamp, error) {
	rows, err := s.tx.ListUserCollections(ctx, s.user)
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	out := make(map[string]Timestamp, len(rows))
	for _, uc := range rows {
		if uc.Collection == TombstoneCollectionID {
			continue
		}
		name, ok, err := s.db.collections.nameFor(ctx, s.tx, uc.Collection)
		if err != nil {
			return nil, ErrInternal.Wrap(err)
		}
		if !ok {
			return nil, ErrIntegrity.New("collection id %d has a user_collections row but no name mapping", uc.Collection)
		}
		out[name] = uc.Modified
	}
	return out, nil
}

// GetCollectionCounts implements get_collection_counts: live BSO
// count per named collection.
func (s *Session) GetCollectionCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.tx.ListUserCollections(ctx, s.user)
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	out := make(map[string]int64, len(rows))
	for _, uc := range rows {
		if uc.Collection == TombstoneCollectionID {
			continue
		}
		name, ok, err := s.db.collections.nameFor(ctx, s.tx, uc.Collection)
		if err != nil {
			return nil, ErrInternal.Wrap(err)
		}
		if !ok {
			return nil, ErrIntegrity.New("collection id %d has a user_collections row but no name mapping", uc.Collection)
		}
		count, _, err := s.tx.AggregateBSOs(ctx, s.user, uc.Collection, s.ts.Time())
		if err != nil {
			return nil, ErrInternal.Wrap(err)
		}
		out[name] = count
	}
	return out, nil
}

// GetCollectionUsage implements get_collection_usage: live byte sum
// per named collection.
func (s *Session) GetCollectionUsage(ctx context.Context) (map[string]int64, error) {
	rows, err := s.tx.ListUserCollections(ctx, s.user)
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	out := make(map[string]int64, len(rows))
	for _, uc := range rows {
		if uc.Collection == TombstoneCollectionID {
			continue
		}
		name, ok, err := s.db.collections.nameFor(ctx, s.tx, uc.Collection)
		if err != nil {
			return nil, ErrInternal.Wrap(err)
		}
		if !ok {
			return nil, ErrIntegrity.New("collection id %d has a user_collections row but no name mapping", uc.Collection)
		}
		_, totalBytes, err := s.tx.AggregateBSOs(ctx, s.user, uc.Collection, s.ts.Time())
		if err != nil {
			return nil, ErrInternal.Wrap(err)
		}
		out[name] = totalBytes
	}
	return out, nil
}

// DeleteCollection implements delete_collection: removes the
// collection's BSOs and UserCollection row, then erects a tombstone
// preserving the storage-level timestamp (spec.md §4.5 "Tombstones").
func (s *Session) DeleteCollection(ctx context.Context, collection string) (Timestamp, error) {
	// A name that was never allocated at all is unambiguously not
	// found; check this without creating it (lockForWrite would).
	if _, ok, err := s.db.collections.idFor(ctx, s.tx, collection); err != nil {
		return 0, ErrInternal.Wrap(err)
	} else if !ok {
		return 0, ErrCollectionNotFound.New("collection %q not found", collection)
	}

	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return 0, err
	}

	if _, ok, err := s.tx.GetUserCollection(ctx, s.user, coll); err != nil {
		return 0, ErrInternal.Wrap(err)
	} else if !ok {
		return 0, ErrCollectionNotFound.New("collection %q not found", collection)
	}

	if _, err := s.tx.DeleteCollectionBSOs(ctx, s.user, coll); err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	if err := s.tx.DeleteUserCollection(ctx, s.user, coll); err != nil {
		return 0, ErrInternal.Wrap(err)
	}

	if err := s.writeTombstone(ctx); err != nil {
		return 0, err
	}
	s.db.metrics.Writes.WithLabelValues("delete_collection").Inc()
	return s.ts, nil
}

// writeTombstone upserts the reserved collection_id=0 row for the
// user, advancing the storage-level modified timestamp without
// leaving the deleted collection visible in any listing (spec.md
// §4.5 "Tombstones").
func (s *Session) writeTombstone(ctx context.Context) error {
	key := lockKey{user: s.user, coll: TombstoneCollectionID}
	if _, held := s.locks[key]; !held {
		unlock := s.db.locks.keys.Lock(key)
		s.locks[key] = &heldLock{mode: lockWrite, unlock: unlock}
	}

	uc := UserCollection{
		UserID:     s.user,
		Collection: TombstoneCollectionID,
		Modified:   s.ts,
	}
	if err := s.tx.UpsertUserCollection(ctx, uc); err != nil {
		return ErrInternal.Wrap(err)
	}
	return nil
}
