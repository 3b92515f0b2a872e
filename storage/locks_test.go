package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-engine/storage"
)

func TestLockEscalation_WriteThenReadThenWriteAllowed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	// Create the collection first so lockForRead resolves a real id
	// rather than the sentinel.
	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b1", Payload: strPtr("v1")})
	require.NoError(t, err)

	_, err = s.GetBSO(ctx, "bookmarks", "b1")
	require.NoError(t, err)

	_, err = s.DeleteBSO(ctx, "bookmarks", "b1")
	require.NoError(t, err, "a write lock is fine once no read lock is held on a fresh session")
}

func TestLockEscalation_SameSessionReadThenWriteErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	// Seed the collection in its own session so the name is resolvable.
	seed, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	_, err = seed.PutBSO(ctx, storage.PutBSOParams{Collection: "bookmarks", ID: "b1", Payload: strPtr("v1")})
	require.NoError(t, err)
	require.NoError(t, seed.Commit(ctx))

	s, err := db.Begin(ctx, testUser(), true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	_, err = s.GetBSO(ctx, "bookmarks", "b1")
	require.NoError(t, err)

	_, err = s.DeleteBSO(ctx, "bookmarks", "b1")
	require.Error(t, err, "escalating a read lock to a write lock within the same session must fail")
	require.True(t, storage.ErrInternal.Has(err))
}

func TestCollectionCache_UnknownNameResolvesToSentinelNotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)

	s, err := db.Begin(ctx, testUser(), false)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	page, err := s.GetBSOs(ctx, storage.GetBSOsParams{Collection: "never-created", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, page.Items)

	_, err = s.GetCollectionTimestamp(ctx, "never-created")
	require.Error(t, err)
	require.True(t, storage.ErrCollectionNotFound.Has(err))
}
