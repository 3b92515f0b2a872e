package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mozilla-services/syncstorage-engine/storage"
	"github.com/mozilla-services/syncstorage-engine/storage/backend/memory"
)

func newTestDB(t *testing.T, configure func(*storage.Config)) *storage.DB {
	t.Helper()
	cfg := storage.DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	db := storage.New(memory.New(), cfg, zap.NewNop())
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func testUser() storage.UserIdentifier {
	return storage.UserIdentifier{LegacyID: 1, FxAUID: "uid-1", FxAKID: "kid-1"}
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func TestPutBSO_InsertThenGet(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{
		Collection: "bookmarks",
		ID:         "bso-1",
		Payload:    strPtr(`{"hello":"world"}`),
	})
	require.NoError(t, err)

	bso, ok, err := s.GetBSO(ctx, "bookmarks", "bso-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"hello":"world"}`, bso.Payload)

	require.NoError(t, s.Commit(ctx))
}

func TestPutBSO_TTLOnlyTouchDoesNotAdvanceModified(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{
		Collection: "bookmarks",
		ID:         "bso-1",
		Payload:    strPtr("v1"),
	})
	require.NoError(t, err)

	before, ok, err := s.GetBSO(ctx, "bookmarks", "bso-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{
		Collection: "bookmarks",
		ID:         "bso-1",
		TTL:        i64Ptr(3600),
	})
	require.NoError(t, err)

	after, ok, err := s.GetBSO(ctx, "bookmarks", "bso-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, before.Modified, after.Modified, "a TTL-only write must not advance modified")
	require.Equal(t, before.Payload, after.Payload)
	require.True(t, after.Expiry.Equal(s.Timestamp().Time().Add(3600*time.Second)), "TTL-only write must recompute expiry from the session timestamp")
}

func TestGetBSOs_Pagination(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		_, err := s.PutBSO(ctx, storage.PutBSOParams{Collection: "tabs", ID: id, Payload: strPtr(id)})
		require.NoError(t, err)
	}

	page, err := s.GetBSOs(ctx, storage.GetBSOsParams{Collection: "tabs", Sort: storage.SortOldest, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Next)

	page2, err := s.GetBSOs(ctx, storage.GetBSOsParams{Collection: "tabs", Sort: storage.SortOldest, Limit: 2, Offset: page.Next})
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	require.NotEqual(t, page.Items[0].ID, page2.Items[0].ID)

	page3, err := s.GetBSOs(ctx, storage.GetBSOsParams{Collection: "tabs", Sort: storage.SortOldest, Limit: 2, Offset: page2.Next})
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	require.Empty(t, page3.Next)
}

func TestDeleteCollection_WritesTombstone(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "history", ID: "x", Payload: strPtr("x")})
	require.NoError(t, err)

	_, err = s.DeleteCollection(ctx, "history")
	require.NoError(t, err)

	timestamps, err := s.GetCollectionTimestamps(ctx)
	require.NoError(t, err)
	_, present := timestamps["history"]
	require.False(t, present, "a deleted collection must not appear in get_collection_timestamps")

	storageTS, err := s.GetStorageTimestamp(ctx)
	require.NoError(t, err)
	require.NotZero(t, storageTS, "the tombstone write must still advance get_storage_timestamp")

	_, err = s.GetCollectionTimestamp(ctx, "history")
	require.Error(t, err)
	require.True(t, storage.ErrCollectionNotFound.Has(err))
}

func TestBatch_CreateAppendCommit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	batchID, _, err := s.CreateBatch(ctx, storage.CreateBatchParams{
		Collection: "bookmarks",
		Items: []storage.BSOInput{
			{ID: "b1", Payload: strPtr("v1")},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	// Staged content must not be visible before commit.
	_, ok, err := s.GetBSO(ctx, "bookmarks", "b1")
	require.NoError(t, err)
	require.False(t, ok, "batched writes must be invisible until commit")

	_, err = s.AppendToBatch(ctx, "bookmarks", batchID, []storage.BSOInput{
		{ID: "b2", Payload: strPtr("v2")},
	})
	require.NoError(t, err)

	valid, err := s.ValidateBatch(ctx, "bookmarks", batchID)
	require.NoError(t, err)
	require.True(t, valid)

	result, err := s.CommitBatch(ctx, "bookmarks", batchID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b1", "b2"}, result.Success)
	require.Empty(t, result.Failed)

	bso1, ok, err := s.GetBSO(ctx, "bookmarks", "b1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", bso1.Payload)

	// Commit must clear the staging area: re-validating the same id fails.
	valid, err = s.ValidateBatch(ctx, "bookmarks", batchID)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestBatch_CommitExpiredFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, func(cfg *storage.Config) {
		cfg.BatchTTL = -1 * time.Second // already expired the instant it's created
	})

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	batchID, _, err := s.CreateBatch(ctx, storage.CreateBatchParams{Collection: "bookmarks"})
	require.NoError(t, err)

	_, err = s.CommitBatch(ctx, "bookmarks", batchID)
	require.Error(t, err)
	require.True(t, storage.ErrBatchNotFound.Has(err))
}

func TestBatch_CommitOverBudgetFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, func(cfg *storage.Config) {
		cfg.MaxBatchBytes = 4
	})

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	batchID, _, err := s.CreateBatch(ctx, storage.CreateBatchParams{
		Collection: "bookmarks",
		Items:      []storage.BSOInput{{ID: "b1", Payload: strPtr("way too large for the budget")}},
	})
	require.NoError(t, err)

	_, err = s.CommitBatch(ctx, "bookmarks", batchID)
	require.Error(t, err)
	require.True(t, storage.ErrTooLarge.Has(err))
}

func TestQuota_EnforcedRejectsOverLimit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, func(cfg *storage.Config) {
		cfg.Quota.Enabled = true
		cfg.Quota.Enforced = true
		cfg.Quota.LimitBytes = 4
	})

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b1", Payload: strPtr("01234567890")})
	require.NoError(t, err)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b2", Payload: strPtr("more data")})
	require.Error(t, err)
	require.True(t, storage.ErrQuota.Has(err))
}

func TestQuota_TrackedNotEnforcedLogsOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, func(cfg *storage.Config) {
		cfg.Quota.Enabled = true
		cfg.Quota.Enforced = false
		cfg.Quota.LimitBytes = 1
	})

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b1", Payload: strPtr("over the limit")})
	require.NoError(t, err, "unenforced quota must never reject a write")

	// Cached usage is now above the 1-byte limit, so this write goes
	// through check_before_write's over-limit path.
	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b2", Payload: strPtr("still over the limit")})
	require.NoError(t, err, "unenforced quota must never reject a write")
}

func TestDeleteBSO_NotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.DeleteBSO(ctx, "bookmarks", "missing")
	require.Error(t, err)
	require.True(t, storage.ErrBsoNotFound.Has(err))
}

func TestDeleteBSOs_SilentlySkipsMissing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b1", Payload: strPtr("v1")})
	require.NoError(t, err)

	_, err = s.DeleteBSOs(ctx, "bookmarks", []string{"b1", "does-not-exist"})
	require.NoError(t, err)

	_, ok, err := s.GetBSO(ctx, "bookmarks", "b1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommit_AfterRollbackIsNoop(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)

	require.NoError(t, s.Rollback(ctx))
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Rollback(ctx))
}
