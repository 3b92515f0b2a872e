package storage

import (
	"context"
	"time"
)

// PutBSOParams is the input to PutBSO. Payload, SortIndex, and TTL
// (seconds) are optional; a nil field leaves the corresponding
// existing value untouched on an update, and defaults per spec.md
// §4.5 on an insert.
type PutBSOParams struct {
	Collection string
	ID         string
	Payload    *string
	SortIndex  *int64
	TTL        *int64
}

// PutBSO implements spec.md §4.5's put_bso. It returns the session
// timestamp on success.
func (s *Session) PutBSO(ctx context.Context, p PutBSOParams) (Timestamp, error) {
	coll, err := s.lockForWrite(ctx, p.Collection)
	if err != nil {
		return 0, err
	}
	if err := s.checkBeforeWrite(ctx, coll); err != nil {
		return 0, err
	}

	if err := s.upsertOne(ctx, coll, p); err != nil {
		return 0, err
	}

	if err := s.touchCollection(ctx, coll); err != nil {
		return 0, err
	}
	s.db.metrics.Writes.WithLabelValues("put_bso").Inc()
	return s.ts, nil
}

// upsertOne applies the upsert semantics of spec.md §4.5 to a single
// BSO, without touching the containing collection — callers batch the
// touch_collection call themselves (post_bsos touches once for the
// whole list; put_bso touches once for its single BSO).
func (s *Session) upsertOne(ctx context.Context, coll CollectionID, p PutBSOParams) error {
	existing, ok, err := s.tx.GetBSO(ctx, s.user, coll, p.ID)
	if err != nil {
		return ErrInternal.Wrap(err)
	}

	bso := BSO{UserID: s.user, Collection: coll, ID: p.ID}

	if ok {
		bso.Payload = existing.Payload
		bso.SortIndex = existing.SortIndex
		bso.Modified = existing.Modified
		bso.Expiry = existing.Expiry

		modifying := false
		if p.Payload != nil {
			bso.Payload = *p.Payload
			modifying = true
		}
		if p.SortIndex != nil {
			bso.SortIndex = p.SortIndex
			modifying = true
		}
		if p.TTL != nil {
			bso.Expiry = s.ts.Time().Add(time.Duration(*p.TTL) * time.Second)
		}
		// TTL-only touch is not a modification for ordering purposes
		// (spec.md §4.5): modified advances only when payload or
		// sortindex actually changed.
		if modifying {
			bso.Modified = s.ts
		}
	} else {
		bso.Payload = ""
		if p.Payload != nil {
			bso.Payload = *p.Payload
		}
		bso.SortIndex = p.SortIndex
		bso.Modified = s.ts

		ttl := s.db.config.DefaultBSOTTL
		if p.TTL != nil {
			ttl = *p.TTL
		}
		bso.Expiry = s.ts.Time().Add(time.Duration(ttl) * time.Second)
	}

	if err := s.tx.UpsertBSO(ctx, bso); err != nil {
		return ErrInternal.Wrap(err)
	}
	return nil
}

// touchCollection updates UserCollection.modified to the session
// timestamp and refreshes the cached usage values. Called after every
// write that can change a collection's contents (spec.md §4.5).
func (s *Session) touchCollection(ctx context.Context, coll CollectionID) error {
	// Usage is recomputed on every touch regardless of the quota knob.
	// check_before_write is the reader of these cached values, and it
	// reads them only when config.Quota.Enabled is set (spec.md §4.4).
	usage, err := s.recomputeUsage(ctx, coll)
	if err != nil {
		return err
	}

	uc := UserCollection{
		UserID:     s.user,
		Collection: coll,
		Modified:   s.ts,
		TotalBytes: usage.TotalBytes,
		Count:      usage.Count,
	}

	if err := s.tx.UpsertUserCollection(ctx, uc); err != nil {
		return ErrInternal.Wrap(err)
	}
	s.modifiedCache[lockKey{user: s.user, coll: coll}] = s.ts
	return nil
}

// BSOInput is one entry of a post_bsos request.
type BSOInput struct {
	ID        string
	Payload   *string
	SortIndex *int64
	TTL       *int64
}

// PostBSOsResult is the result of PostBSOs: the session timestamp plus
// which ids succeeded and which failed (and why).
type PostBSOsResult struct {
	Timestamp Timestamp
	Success   []string
	Failed    map[string]string
}

// PostBSOs implements spec.md §4.5's post_bsos: every BSO is upserted
// under one shared write lock and the containing collection is
// touched once, regardless of how many BSOs were supplied. When no
// BSO was upserted successfully, the collection is not touched.
func (s *Session) PostBSOs(ctx context.Context, collection string, items []BSOInput) (PostBSOsResult, error) {
	result := PostBSOsResult{Timestamp: s.ts, Failed: make(map[string]string)}

	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return result, err
	}
	if err := s.checkBeforeWrite(ctx, coll); err != nil {
		return result, err
	}

	for _, item := range items {
		p := PutBSOParams{Collection: collection, ID: item.ID, Payload: item.Payload, SortIndex: item.SortIndex, TTL: item.TTL}
		if err := s.upsertOne(ctx, coll, p); err != nil {
			result.Failed[item.ID] = err.Error()
			continue
		}
		result.Success = append(result.Success, item.ID)
	}

	if len(result.Success) > 0 {
		if err := s.touchCollection(ctx, coll); err != nil {
			return result, err
		}
	}
	s.db.metrics.Writes.WithLabelValues("post_bsos").Add(float64(len(result.Success)))
	return result, nil
}

// GetBSO implements spec.md §4.5's get_bso. ok is false when the BSO
// doesn't exist or has expired; that is not an error.
func (s *Session) GetBSO(ctx context.Context, collection string, id string) (bso BSO, ok bool, err error) {
	coll, err := s.lockForRead(ctx, collection)
	if err != nil {
		return BSO{}, false, err
	}
	if coll == SentinelCollectionID {
		return BSO{}, false, nil
	}

	b, found, err := s.tx.GetBSO(ctx, s.user, coll, id)
	if err != nil {
		return BSO{}, false, ErrInternal.Wrap(err)
	}
	if !found || !b.Expiry.After(s.ts.Time()) {
		return BSO{}, false, nil
	}
	s.db.metrics.Reads.WithLabelValues("get_bso").Inc()
	return b, true, nil
}

// DeleteBSO implements spec.md §4.5's delete_bso. It fails with
// ErrBsoNotFound if the BSO doesn't exist (expired counts as absent).
func (s *Session) DeleteBSO(ctx context.Context, collection string, id string) (Timestamp, error) {
	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return 0, err
	}

	existing, ok, err := s.tx.GetBSO(ctx, s.user, coll, id)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	if !ok || !existing.Expiry.After(s.ts.Time()) {
		return 0, ErrBsoNotFound.New("bso %q not found in collection %q", id, collection)
	}

	found, err := s.tx.DeleteBSO(ctx, s.user, coll, id)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	if !found {
		return 0, ErrBsoNotFound.New("bso %q not found in collection %q", id, collection)
	}

	if err := s.touchCollection(ctx, coll); err != nil {
		return 0, err
	}
	s.db.metrics.Writes.WithLabelValues("delete_bso").Inc()
	return s.ts, nil
}

// DeleteBSOs implements spec.md §4.5's delete_bsos: ids that don't
// exist are silently skipped, unlike the singular DeleteBSO.
func (s *Session) DeleteBSOs(ctx context.Context, collection string, ids []string) (Timestamp, error) {
	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return 0, err
	}

	if _, err := s.tx.DeleteBSOs(ctx, s.user, coll, ids); err != nil {
		return 0, ErrInternal.Wrap(err)
	}

	if err := s.touchCollection(ctx, coll); err != nil {
		return 0, err
	}
	s.db.metrics.Writes.WithLabelValues("delete_bsos").Inc()
	return s.ts, nil
}
