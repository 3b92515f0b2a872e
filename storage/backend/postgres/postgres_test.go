package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mozilla-services/syncstorage-engine/internal/dbutil"
	"github.com/mozilla-services/syncstorage-engine/storage"
	"github.com/mozilla-services/syncstorage-engine/storage/backend/postgres"
)

// dsn returns the test database connection string, or "" if the
// integration suite should be skipped. Set SYNCSTORAGE_TEST_POSTGRES_DSN
// to a real Postgres instance to run it, the same opt-in-by-env-var
// convention the teacher's satellitedbtest harness uses for its own
// database-backed suites.
func dsn(t *testing.T) string {
	t.Helper()
	v := os.Getenv("SYNCSTORAGE_TEST_POSTGRES_DSN")
	if v == "" {
		t.Skip("SYNCSTORAGE_TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	return v
}

func TestPostgres_OpenRunsMigrationsAndRoundTripsABSO(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	adapter, err := postgres.Open(ctx, dsn(t), log)
	require.NoError(t, err)
	defer adapter.Close()

	// RandomString gives each test run its own collection name so
	// concurrent test processes sharing one database don't collide.
	collection := "it-" + dbutil.RandomString(8)

	db := storage.New(adapter, storage.DefaultConfig(), log)
	defer db.Close()

	user := storage.UserIdentifier{LegacyID: 42, FxAUID: "pg-uid", FxAKID: "pg-kid"}
	s, err := db.Begin(ctx, user, true)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	payload := "hello from postgres"
	_, err = s.PutBSO(ctx, storage.PutBSOParams{Collection: collection, ID: "bso-1", Payload: &payload})
	require.NoError(t, err)

	bso, ok, err := s.GetBSO(ctx, collection, "bso-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, bso.Payload)

	require.NoError(t, s.Commit(ctx))
}
