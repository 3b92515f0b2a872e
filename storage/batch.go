package storage

import (
	"context"

	"github.com/google/uuid"
)

// CreateBatchParams is the input to CreateBatch.
type CreateBatchParams struct {
	Collection string
	Items      []BSOInput
}

// CreateBatch implements spec.md §4.6's create_batch: allocates a new
// batch token and stages any initial BSOs under it, invisible to
// get_bsos until committed.
func (s *Session) CreateBatch(ctx context.Context, p CreateBatchParams) (string, Timestamp, error) {
	coll, err := s.lockForWrite(ctx, p.Collection)
	if err != nil {
		return "", 0, err
	}

	id := uuid.NewString()
	if err := s.tx.CreateBatch(ctx, s.user, coll, id, s.ts.Time()); err != nil {
		return "", 0, ErrInternal.Wrap(err)
	}
	if len(p.Items) > 0 {
		if err := s.appendItems(ctx, s.user, coll, id, p.Items); err != nil {
			return "", 0, err
		}
	}
	s.db.metrics.Writes.WithLabelValues("create_batch").Inc()
	return id, s.ts, nil
}

// ValidateBatch implements validate_batch: confirms the batch exists
// and has not expired. A batch's absence (unknown id, or TTL elapsed
// per the engine's own clock) is reported as false, not an error.
func (s *Session) ValidateBatch(ctx context.Context, collection, batchID string) (bool, error) {
	coll, err := s.lockForRead(ctx, collection)
	if err != nil {
		return false, err
	}
	if coll == SentinelCollectionID {
		return false, nil
	}
	batch, ok, err := s.tx.GetBatch(ctx, s.user, coll, batchID)
	if err != nil {
		return false, ErrInternal.Wrap(err)
	}
	if !ok {
		return false, nil
	}
	return !s.batchExpired(batch), nil
}

// AppendToBatch implements append_to_batch: stages additional BSOs
// under an already-created batch. It fails with ErrBatchNotFound if
// the batch id is unknown or has expired.
func (s *Session) AppendToBatch(ctx context.Context, collection, batchID string, items []BSOInput) (Timestamp, error) {
	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return 0, err
	}

	batch, ok, err := s.tx.GetBatch(ctx, s.user, coll, batchID)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}
	if !ok || s.batchExpired(batch) {
		return 0, ErrBatchNotFound.New("batch %q not found in collection %q", batchID, collection)
	}

	if err := s.appendItems(ctx, s.user, coll, batchID, items); err != nil {
		return 0, err
	}
	s.db.metrics.Writes.WithLabelValues("append_to_batch").Inc()
	return s.ts, nil
}

// GetBatch implements get_batch: returns a batch's full staged
// content, for a caller (typically the handler, during a commit=true
// request) that wants to see everything queued so far.
func (s *Session) GetBatch(ctx context.Context, collection, batchID string) (Batch, bool, error) {
	coll, err := s.lockForRead(ctx, collection)
	if err != nil {
		return Batch{}, false, err
	}
	if coll == SentinelCollectionID {
		return Batch{}, false, nil
	}
	batch, ok, err := s.tx.GetBatch(ctx, s.user, coll, batchID)
	if err != nil {
		return Batch{}, false, ErrInternal.Wrap(err)
	}
	if !ok || s.batchExpired(batch) {
		return Batch{}, false, nil
	}
	return batch, true, nil
}

// CommitBatch implements commit_batch: atomically merges a batch's
// staged BSOs into the live store using put_bso semantics, then clears
// the staging area. All commit-time writes share this session's
// timestamp, and the containing collection is touched exactly once
// (spec.md §4.6). Commit of an unknown or expired batch fails with
// ErrBatchNotFound.
func (s *Session) CommitBatch(ctx context.Context, collection, batchID string) (PostBSOsResult, error) {
	result := PostBSOsResult{Timestamp: s.ts, Failed: make(map[string]string)}

	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return result, err
	}

	batch, ok, err := s.tx.GetBatch(ctx, s.user, coll, batchID)
	if err != nil {
		return result, ErrInternal.Wrap(err)
	}
	if !ok || s.batchExpired(batch) {
		return result, ErrBatchNotFound.New("batch %q not found in collection %q", batchID, collection)
	}

	if total := batchPayloadBytes(batch); total > s.db.config.MaxBatchBytes {
		return result, ErrTooLarge.New("batch %q commit of %d bytes exceeds the %d byte limit", batchID, total, s.db.config.MaxBatchBytes)
	}

	if err := s.checkBeforeWrite(ctx, coll); err != nil {
		return result, err
	}

	for _, item := range batch.Items {
		p := PutBSOParams{Collection: collection, ID: item.ID, Payload: item.Payload, SortIndex: item.SortIndex, TTL: item.TTL}
		if err := s.upsertOne(ctx, coll, p); err != nil {
			result.Failed[item.ID] = err.Error()
			continue
		}
		result.Success = append(result.Success, item.ID)
	}

	if err := s.touchCollection(ctx, coll); err != nil {
		return result, err
	}
	if err := s.tx.DeleteBatch(ctx, s.user, coll, batchID); err != nil {
		return result, ErrInternal.Wrap(err)
	}

	s.db.metrics.BatchCommits.Inc()
	s.db.metrics.Writes.WithLabelValues("commit_batch").Add(float64(len(result.Success)))
	return result, nil
}

// DeleteBatch implements delete_batch: abandons a batch without
// committing its staged content. Not an error if the batch is already
// gone or expired.
func (s *Session) DeleteBatch(ctx context.Context, collection, batchID string) error {
	coll, err := s.lockForWrite(ctx, collection)
	if err != nil {
		return err
	}
	if err := s.tx.DeleteBatch(ctx, s.user, coll, batchID); err != nil {
		return ErrInternal.Wrap(err)
	}
	s.db.metrics.Writes.WithLabelValues("delete_batch").Inc()
	return nil
}

func (s *Session) appendItems(ctx context.Context, user UserIdentifier, coll CollectionID, batchID string, items []BSOInput) error {
	staged := make([]BatchItem, len(items))
	for i, item := range items {
		staged[i] = BatchItem{ID: item.ID, Payload: item.Payload, SortIndex: item.SortIndex, TTL: item.TTL}
	}
	if err := s.tx.AppendBatchItems(ctx, user, coll, batchID, staged); err != nil {
		return ErrInternal.Wrap(err)
	}
	return nil
}

// batchExpired reports whether batch's TTL, measured from its
// creation time against this session's timestamp, has elapsed.
func (s *Session) batchExpired(batch Batch) bool {
	return s.ts.Time().After(batch.CreatedAt.Add(s.db.config.BatchTTL))
}

func batchPayloadBytes(batch Batch) int64 {
	var total int64
	for _, item := range batch.Items {
		if item.Payload != nil {
			total += int64(len(*item.Payload))
		}
	}
	return total
}
