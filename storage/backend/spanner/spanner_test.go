package spanner_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mozilla-services/syncstorage-engine/internal/dbutil"
	"github.com/mozilla-services/syncstorage-engine/storage"
	sp "github.com/mozilla-services/syncstorage-engine/storage/backend/spanner"
)

// database returns the test Spanner database path
// ("projects/P/instances/I/databases/D"), or skips the test if unset.
// Schema (schema.go) must already be applied to this database via the
// admin API before running — this adapter never issues DDL itself.
func database(t *testing.T) string {
	t.Helper()
	v := os.Getenv("SYNCSTORAGE_TEST_SPANNER_DATABASE")
	if v == "" {
		t.Skip("SYNCSTORAGE_TEST_SPANNER_DATABASE not set; skipping spanner integration test")
	}
	return v
}

func TestSpanner_RoundTripsABSO(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	adapter, err := sp.Open(ctx, database(t), log)
	require.NoError(t, err)
	defer adapter.Close()

	collection := "it-" + dbutil.RandomString(8)

	db := storage.New(adapter, storage.DefaultConfig(), log)
	defer db.Close()

	user := storage.UserIdentifier{LegacyID: 7, FxAUID: "spanner-uid", FxAKID: "spanner-kid"}
	s, err := db.Begin(ctx, user, true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	payload := "hello from spanner"
	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: collection, ID: "bso-1", Payload: &payload})
	require.NoError(t, err)

	bso, ok, err := s.GetBSO(ctx, collection, "bso-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, bso.Payload)

	require.NoError(t, s.Commit(ctx))
}
