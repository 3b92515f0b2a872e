// Package postgres implements backend.Adapter over PostgreSQL using
// github.com/jackc/pgx/v4's connection pool, the adapter a production
// deployment runs (spec.md §9 names relational storage as one
// concrete Backend Adapter; the original implementation's
// syncstorage-postgres is this adapter's direct ancestor — see
// db_impl.rs). Schema is applied through internal/migrate, adapted
// from the teacher's migration runner.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/mozilla-services/syncstorage-engine/internal/errs2"
	"github.com/mozilla-services/syncstorage-engine/internal/migrate"
	"github.com/mozilla-services/syncstorage-engine/storage/backend"
	"github.com/mozilla-services/syncstorage-engine/storage/types"
)

// Adapter is a backend.Adapter backed by a pgx connection pool.
type Adapter struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ backend.Adapter = (*Adapter)(nil)
var _ backend.Purger = (*Adapter)(nil)

// Open connects to dsn and ensures the schema is current.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a := &Adapter{pool: pool, log: log.Named("postgres")}
	if err := a.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	steps := make([]*migrate.Step, len(schema))
	for i, stmt := range schema {
		steps[i] = &migrate.Step{
			Description: "initial schema",
			Version:     i + 1,
			Action:      migrate.SQL{stmt},
		}
	}
	m := migrate.Migration{Table: "syncstorage_schema_versions", Steps: steps}
	return m.Run(ctx, a.log, a.pool)
}

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return "postgres" }

// Ping implements backend.Adapter.
func (a *Adapter) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }

// Close implements backend.Adapter.
func (a *Adapter) Close() error { a.pool.Close(); return nil }

// Begin implements backend.Adapter.
func (a *Adapter) Begin(ctx context.Context, forWrite bool) (backend.Tx, error) {
	accessMode := pgx.ReadOnly
	if forWrite {
		accessMode = pgx.ReadWrite
	}
	pgxTx, err := a.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: accessMode,
	})
	if err != nil {
		if errs2.IsCanceled(err) {
			a.log.Debug("begin canceled by caller")
		} else {
			a.log.Error("begin failed", zap.Error(err))
		}
		return nil, err
	}
	return &tx{pgxTx: pgxTx, log: a.log}, nil
}

// PurgeExpired implements backend.Purger: a single DELETE across every
// user and collection, the wide sweep the original's purge_ttl binary
// performs from a standalone cron-style process.
func (a *Adapter) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM bsos WHERE expiry <= $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type tx struct {
	pgxTx pgx.Tx
	log   *zap.Logger
}

var _ backend.Tx = (*tx)(nil)

func (t *tx) Commit(ctx context.Context) error {
	err := t.pgxTx.Commit(ctx)
	if err != nil && err != pgx.ErrTxClosed {
		if errs2.IsCanceled(err) {
			t.log.Debug("commit canceled by caller")
		} else {
			t.log.Error("commit failed", zap.Error(err))
		}
	}
	return err
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.pgxTx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	if err != nil {
		if errs2.IsCanceled(err) {
			t.log.Debug("rollback canceled by caller")
		} else {
			t.log.Error("rollback failed", zap.Error(err))
		}
	}
	return err
}

// Now returns Postgres's own transaction snapshot time, so the session
// timestamp aligns with backend-observed serialization order (spec.md
// §4.1).
func (t *tx) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := t.pgxTx.QueryRow(ctx, `SELECT transaction_timestamp()`).Scan(&now)
	return now.UTC(), err
}

func (t *tx) LookupCollectionID(ctx context.Context, name string) (types.CollectionID, bool, error) {
	var id int32
	err := t.pgxTx.QueryRow(ctx, `SELECT collection_id FROM collections WHERE name = $1`, name).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return types.CollectionID(id), true, nil
}

func (t *tx) InsertCollection(ctx context.Context, name string) (types.CollectionID, error) {
	_, err := t.pgxTx.Exec(ctx,
		`INSERT INTO collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return 0, err
	}
	id, _, err := t.LookupCollectionID(ctx, name)
	return id, err
}

func (t *tx) LookupCollectionName(ctx context.Context, id types.CollectionID) (string, bool, error) {
	var name string
	err := t.pgxTx.QueryRow(ctx, `SELECT name FROM collections WHERE collection_id = $1`, int32(id)).Scan(&name)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (t *tx) GetUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (types.UserCollection, bool, error) {
	var uc types.UserCollection
	var modified, count, total int64
	err := t.pgxTx.QueryRow(ctx,
		`SELECT modified, count, total_bytes FROM user_collections
		 WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll)).Scan(&modified, &count, &total)
	if err == pgx.ErrNoRows {
		return types.UserCollection{}, false, nil
	}
	if err != nil {
		return types.UserCollection{}, false, err
	}
	uc = types.UserCollection{
		UserID:     user,
		Collection: coll,
		Modified:   types.Timestamp(modified),
		Count:      count,
		TotalBytes: total,
	}
	return uc, true, nil
}

func (t *tx) UpsertUserCollection(ctx context.Context, uc types.UserCollection) error {
	_, err := t.pgxTx.Exec(ctx,
		`INSERT INTO user_collections (legacy_id, fxa_uid, fxa_kid, collection_id, modified, count, total_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (legacy_id, fxa_uid, fxa_kid, collection_id)
		 DO UPDATE SET modified = $5, count = $6, total_bytes = $7`,
		uc.UserID.LegacyID, uc.UserID.FxAUID, uc.UserID.FxAKID, int32(uc.Collection),
		int64(uc.Modified), uc.Count, uc.TotalBytes)
	return err
}

func (t *tx) DeleteUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) error {
	_, err := t.pgxTx.Exec(ctx,
		`DELETE FROM user_collections WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll))
	return err
}

func (t *tx) ListUserCollections(ctx context.Context, user types.UserIdentifier) ([]types.UserCollection, error) {
	rows, err := t.pgxTx.Query(ctx,
		`SELECT collection_id, modified, count, total_bytes FROM user_collections
		 WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3`,
		user.LegacyID, user.FxAUID, user.FxAKID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.UserCollection
	for rows.Next() {
		var collID int32
		var modified, count, total int64
		if err := rows.Scan(&collID, &modified, &count, &total); err != nil {
			return nil, err
		}
		out = append(out, types.UserCollection{
			UserID:     user,
			Collection: types.CollectionID(collID),
			Modified:   types.Timestamp(modified),
			Count:      count,
			TotalBytes: total,
		})
	}
	return out, rows.Err()
}

func (t *tx) GetBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (types.BSO, bool, error) {
	var bso types.BSO
	var sortIndex *int64
	var modified int64
	var payload string
	var expiry time.Time
	err := t.pgxTx.QueryRow(ctx,
		`SELECT sortindex, payload, modified, expiry FROM bsos
		 WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND bso_id = $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id).Scan(&sortIndex, &payload, &modified, &expiry)
	if err == pgx.ErrNoRows {
		return types.BSO{}, false, nil
	}
	if err != nil {
		return types.BSO{}, false, err
	}
	bso = types.BSO{
		UserID: user, Collection: coll, ID: id,
		Payload: payload, SortIndex: sortIndex,
		Modified: types.Timestamp(modified), Expiry: expiry.UTC(),
	}
	return bso, true, nil
}

func (t *tx) UpsertBSO(ctx context.Context, bso types.BSO) error {
	_, err := t.pgxTx.Exec(ctx,
		`INSERT INTO bsos (legacy_id, fxa_uid, fxa_kid, collection_id, bso_id, sortindex, payload, modified, expiry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (legacy_id, fxa_uid, fxa_kid, collection_id, bso_id)
		 DO UPDATE SET sortindex = $6, payload = $7, modified = $8, expiry = $9`,
		bso.UserID.LegacyID, bso.UserID.FxAUID, bso.UserID.FxAKID, int32(bso.Collection), bso.ID,
		bso.SortIndex, bso.Payload, int64(bso.Modified), bso.Expiry.UTC())
	return err
}

func (t *tx) DeleteBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (bool, error) {
	tag, err := t.pgxTx.Exec(ctx,
		`DELETE FROM bsos WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND bso_id = $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *tx) DeleteBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, ids []string) (int64, error) {
	tag, err := t.pgxTx.Exec(ctx,
		`DELETE FROM bsos WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND bso_id = ANY($5)`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *tx) DeleteCollectionBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (int64, error) {
	tag, err := t.pgxTx.Exec(ctx,
		`DELETE FROM bsos WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *tx) DeleteAllForUser(ctx context.Context, user types.UserIdentifier) error {
	if _, err := t.pgxTx.Exec(ctx,
		`DELETE FROM bsos WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3`,
		user.LegacyID, user.FxAUID, user.FxAKID); err != nil {
		return err
	}
	if _, err := t.pgxTx.Exec(ctx,
		`DELETE FROM user_collections WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3`,
		user.LegacyID, user.FxAUID, user.FxAKID); err != nil {
		return err
	}
	_, err := t.pgxTx.Exec(ctx,
		`DELETE FROM batches WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3`,
		user.LegacyID, user.FxAUID, user.FxAKID)
	return err
}

func (t *tx) DeleteExpired(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, before time.Time) (int64, error) {
	tag, err := t.pgxTx.Exec(ctx,
		`DELETE FROM bsos WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND expiry <= $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *tx) RangeScanBSOs(ctx context.Context, q backend.BSOQuery) ([]types.BSO, error) {
	query := `SELECT bso_id, sortindex, payload, modified, expiry FROM bsos
	          WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND expiry > $5`
	args := []interface{}{q.User.LegacyID, q.User.FxAUID, q.User.FxAKID, int32(q.Collection), q.Now.UTC()}

	if q.IDs != nil {
		args = append(args, q.IDs)
		query += fmt.Sprintf(" AND bso_id = ANY($%d)", len(args))
	}
	if !q.Newer.IsZero() {
		args = append(args, q.Newer.UTC())
		query += fmt.Sprintf(" AND modified > $%d", len(args))
	}
	if !q.Older.IsZero() {
		args = append(args, q.Older.UTC())
		query += fmt.Sprintf(" AND modified < $%d", len(args))
	}

	switch q.Sort {
	case types.SortNewest:
		query += " ORDER BY modified DESC, bso_id DESC"
	case types.SortOldest:
		query += " ORDER BY modified ASC, bso_id ASC"
	case types.SortIndex:
		query += " ORDER BY sortindex DESC"
	}

	if q.Limit > 0 {
		args = append(args, q.Limit+1)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, q.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := t.pgxTx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.BSO
	for rows.Next() {
		var id, payload string
		var sortIndex *int64
		var modified int64
		var expiry time.Time
		if err := rows.Scan(&id, &sortIndex, &payload, &modified, &expiry); err != nil {
			return nil, err
		}
		out = append(out, types.BSO{
			UserID: q.User, Collection: q.Collection, ID: id,
			Payload: payload, SortIndex: sortIndex,
			Modified: types.Timestamp(modified), Expiry: expiry.UTC(),
		})
	}
	return out, rows.Err()
}

func (t *tx) AggregateBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, now time.Time) (int64, int64, error) {
	var count, total int64
	err := t.pgxTx.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM bsos
		 WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND expiry > $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), now.UTC()).Scan(&count, &total)
	return count, total, err
}

func (t *tx) CreateBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, createdAt time.Time) error {
	_, err := t.pgxTx.Exec(ctx,
		`INSERT INTO batches (legacy_id, fxa_uid, fxa_kid, collection_id, batch_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id, createdAt.UTC())
	return err
}

func (t *tx) AppendBatchItems(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, items []types.BatchItem) error {
	var nextSeq int
	err := t.pgxTx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM batch_items
		 WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND batch_id = $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id).Scan(&nextSeq)
	if err != nil {
		return err
	}
	for i, item := range items {
		if _, err := t.pgxTx.Exec(ctx,
			`INSERT INTO batch_items (legacy_id, fxa_uid, fxa_kid, collection_id, batch_id, seq, item_id, payload, sortindex, ttl)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id, nextSeq+i,
			item.ID, item.Payload, item.SortIndex, item.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (types.Batch, bool, error) {
	var createdAt time.Time
	err := t.pgxTx.QueryRow(ctx,
		`SELECT created_at FROM batches WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND batch_id = $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id).Scan(&createdAt)
	if err == pgx.ErrNoRows {
		return types.Batch{}, false, nil
	}
	if err != nil {
		return types.Batch{}, false, err
	}

	rows, err := t.pgxTx.Query(ctx,
		`SELECT item_id, payload, sortindex, ttl FROM batch_items
		 WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND batch_id = $5 ORDER BY seq ASC`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id)
	if err != nil {
		return types.Batch{}, false, err
	}
	defer rows.Close()

	batch := types.Batch{ID: id, UserID: user, Collection: coll, CreatedAt: createdAt.UTC()}
	for rows.Next() {
		var item types.BatchItem
		if err := rows.Scan(&item.ID, &item.Payload, &item.SortIndex, &item.TTL); err != nil {
			return types.Batch{}, false, err
		}
		batch.Items = append(batch.Items, item)
	}
	return batch, true, rows.Err()
}

func (t *tx) DeleteBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) error {
	if _, err := t.pgxTx.Exec(ctx,
		`DELETE FROM batch_items WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND batch_id = $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id); err != nil {
		return err
	}
	_, err := t.pgxTx.Exec(ctx,
		`DELETE FROM batches WHERE legacy_id = $1 AND fxa_uid = $2 AND fxa_kid = $3 AND collection_id = $4 AND batch_id = $5`,
		user.LegacyID, user.FxAUID, user.FxAKID, int32(coll), id)
	return err
}
