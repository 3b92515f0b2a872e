// Package spanner implements backend.Adapter over Cloud Spanner,
// mirroring the original syncstorage-spanner's interleaved-table
// layout (user_collections as the interleaved parent of bsos and
// batches — see schema.go) and exercising the mutation API
// (spanner.InsertOrUpdate, spanner.Delete) alongside
// ReadWriteStmtBasedTransaction for the wide-column side of the
// Backend Adapter contract (spec.md §9).
package spanner

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/mozilla-services/syncstorage-engine/internal/errs2"
	"github.com/mozilla-services/syncstorage-engine/storage/backend"
	"github.com/mozilla-services/syncstorage-engine/storage/types"
)

// Adapter is a backend.Adapter backed by a Cloud Spanner database.
// Schema (schema.go) is expected to already exist — Spanner DDL is
// applied out-of-band via the database admin API, not at startup, the
// way a production Spanner rollout is actually operated.
type Adapter struct {
	client *spanner.Client
	log    *zap.Logger
}

var _ backend.Adapter = (*Adapter)(nil)
var _ backend.Purger = (*Adapter)(nil)

// Open connects to the Spanner database identified by the fully
// qualified name "projects/P/instances/I/databases/D".
func Open(ctx context.Context, database string, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := spanner.NewClient(ctx, database)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client, log: log.Named("spanner")}, nil
}

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return "spanner" }

// Ping implements backend.Adapter.
func (a *Adapter) Ping(ctx context.Context) error {
	iter := a.client.Single().Query(ctx, spanner.Statement{SQL: "SELECT 1"})
	defer iter.Stop()
	_, err := iter.Next()
	if err == iterator.Done {
		return nil
	}
	return err
}

// Close implements backend.Adapter.
func (a *Adapter) Close() error { a.client.Close(); return nil }

// Begin implements backend.Adapter. Write transactions use
// ReadWriteStmtBasedTransaction, the client library's variant meant
// for exactly this shape — multiple calls spread across an arbitrary
// sequence of operations rather than one closure — since the engine's
// Session lifetime spans many separate method calls (spec.md §5).
func (a *Adapter) Begin(ctx context.Context, forWrite bool) (backend.Tx, error) {
	if !forWrite {
		return &tx{client: a.client, read: a.client.ReadOnlyTransaction(), log: a.log}, nil
	}
	write, err := spanner.NewReadWriteStmtBasedTransaction(ctx, a.client)
	if err != nil {
		if errs2.IsCanceled(err) {
			a.log.Debug("begin canceled by caller")
		} else {
			a.log.Error("begin failed", zap.Error(err))
		}
		return nil, err
	}
	return &tx{client: a.client, write: write, log: a.log}, nil
}

// PurgeExpired implements backend.Purger via a DML statement executed
// in its own read-write transaction, so a single sweep can report the
// number of rows it actually removed the way ExecuteUpdate does
// (mutations alone can't report an affected-row count).
func (a *Adapter) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	write, err := spanner.NewReadWriteStmtBasedTransaction(ctx, a.client)
	if err != nil {
		return 0, err
	}
	n, err := write.Update(ctx, spanner.Statement{
		SQL:    `DELETE FROM bsos WHERE expiry <= @before`,
		Params: map[string]interface{}{"before": before.UTC()},
	})
	if err != nil {
		write.Rollback(ctx)
		return 0, err
	}
	if _, err := write.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// reader is satisfied by both spanner.ReadWriteStmtBasedTransaction
// and spanner.ReadOnlyTransaction (both embed the client's read-only
// query surface), letting every read path in this file ignore which
// kind of transaction is active.
type reader interface {
	Query(ctx context.Context, statement spanner.Statement) *spanner.RowIterator
}

type tx struct {
	client *spanner.Client
	write  *spanner.ReadWriteStmtBasedTransaction
	read   *spanner.ReadOnlyTransaction
	log    *zap.Logger
}

var _ backend.Tx = (*tx)(nil)

func (t *tx) reader() reader {
	if t.write != nil {
		return t.write
	}
	return t.read
}

func (t *tx) requireWrite() (*spanner.ReadWriteStmtBasedTransaction, error) {
	if t.write == nil {
		return nil, fmt.Errorf("spanner: operation requires a write transaction")
	}
	return t.write, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.write != nil {
		_, err := t.write.Commit(ctx)
		if err != nil {
			if errs2.IsCanceled(err) {
				t.log.Debug("commit canceled by caller")
			} else {
				t.log.Error("commit failed", zap.Error(err))
			}
		}
		return err
	}
	t.read.Close()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.write != nil {
		t.write.Rollback(ctx)
		return nil
	}
	t.read.Close()
	return nil
}

// Now queries Spanner's own CURRENT_TIMESTAMP(), so the session
// timestamp aligns with backend-observed serialization order, the
// same contract the postgres adapter honors via transaction_timestamp()
// (spec.md §4.1).
func (t *tx) Now(ctx context.Context) (time.Time, error) {
	iter := t.reader().Query(ctx, spanner.Statement{SQL: "SELECT CURRENT_TIMESTAMP() AS now"})
	defer iter.Stop()
	row, err := iter.Next()
	if err != nil {
		return time.Time{}, err
	}
	var now time.Time
	if err := row.Columns(&now); err != nil {
		return time.Time{}, err
	}
	return now.UTC(), nil
}

func (t *tx) LookupCollectionID(ctx context.Context, name string) (types.CollectionID, bool, error) {
	stmt := spanner.Statement{SQL: `SELECT collection_id FROM collections WHERE name = @name`, Params: map[string]interface{}{"name": name}}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	row, err := iter.Next()
	if err == iterator.Done {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id int64
	if err := row.Columns(&id); err != nil {
		return 0, false, err
	}
	return types.CollectionID(id), true, nil
}

func (t *tx) InsertCollection(ctx context.Context, name string) (types.CollectionID, error) {
	write, err := t.requireWrite()
	if err != nil {
		return 0, err
	}

	if id, ok, err := t.LookupCollectionID(ctx, name); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	iter := t.reader().Query(ctx, spanner.Statement{SQL: `SELECT COALESCE(MAX(collection_id), 0) + 1 FROM collections`})
	defer iter.Stop()
	row, err := iter.Next()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Columns(&id); err != nil {
		return 0, err
	}

	mutation := spanner.InsertOrUpdate("collections", []string{"collection_id", "name"}, []interface{}{id, name})
	if err := write.BufferWrite([]*spanner.Mutation{mutation}); err != nil {
		return 0, err
	}
	return types.CollectionID(id), nil
}

func (t *tx) LookupCollectionName(ctx context.Context, id types.CollectionID) (string, bool, error) {
	stmt := spanner.Statement{SQL: `SELECT name FROM collections WHERE collection_id = @id`, Params: map[string]interface{}{"id": int64(id)}}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	row, err := iter.Next()
	if err == iterator.Done {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var name string
	if err := row.Columns(&name); err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (t *tx) GetUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (types.UserCollection, bool, error) {
	stmt := spanner.Statement{
		SQL: `SELECT modified, count, total_bytes FROM user_collections
		      WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll`,
		Params: userParams(user, coll),
	}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	row, err := iter.Next()
	if err == iterator.Done {
		return types.UserCollection{}, false, nil
	}
	if err != nil {
		return types.UserCollection{}, false, err
	}
	var modified, count, total int64
	if err := row.Columns(&modified, &count, &total); err != nil {
		return types.UserCollection{}, false, err
	}
	return types.UserCollection{UserID: user, Collection: coll, Modified: types.Timestamp(modified), Count: count, TotalBytes: total}, true, nil
}

func (t *tx) UpsertUserCollection(ctx context.Context, uc types.UserCollection) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	mutation := spanner.InsertOrUpdate("user_collections",
		[]string{"legacy_id", "fxa_uid", "fxa_kid", "collection_id", "modified", "count", "total_bytes"},
		[]interface{}{uc.UserID.LegacyID, uc.UserID.FxAUID, uc.UserID.FxAKID, int64(uc.Collection), int64(uc.Modified), uc.Count, uc.TotalBytes})
	return write.BufferWrite([]*spanner.Mutation{mutation})
}

func (t *tx) DeleteUserCollection(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	key := spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll)}
	return write.BufferWrite([]*spanner.Mutation{spanner.Delete("user_collections", key)})
}

func (t *tx) ListUserCollections(ctx context.Context, user types.UserIdentifier) ([]types.UserCollection, error) {
	stmt := spanner.Statement{
		SQL:    `SELECT collection_id, modified, count, total_bytes FROM user_collections WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid`,
		Params: map[string]interface{}{"legacy": user.LegacyID, "uid": user.FxAUID, "kid": user.FxAKID},
	}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()

	var out []types.UserCollection
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var collID, modified, count, total int64
		if err := row.Columns(&collID, &modified, &count, &total); err != nil {
			return nil, err
		}
		out = append(out, types.UserCollection{UserID: user, Collection: types.CollectionID(collID), Modified: types.Timestamp(modified), Count: count, TotalBytes: total})
	}
	return out, nil
}

func (t *tx) GetBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (types.BSO, bool, error) {
	params := userParams(user, coll)
	params["id"] = id
	stmt := spanner.Statement{
		SQL:    `SELECT sortindex, payload, modified, expiry FROM bsos WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND bso_id = @id`,
		Params: params,
	}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	row, err := iter.Next()
	if err == iterator.Done {
		return types.BSO{}, false, nil
	}
	if err != nil {
		return types.BSO{}, false, err
	}
	var sortIndex spanner.NullInt64
	var payload string
	var modified int64
	var expiry time.Time
	if err := row.Columns(&sortIndex, &payload, &modified, &expiry); err != nil {
		return types.BSO{}, false, err
	}
	bso := types.BSO{UserID: user, Collection: coll, ID: id, Payload: payload, Modified: types.Timestamp(modified), Expiry: expiry.UTC()}
	if sortIndex.Valid {
		bso.SortIndex = &sortIndex.Int64
	}
	return bso, true, nil
}

func (t *tx) UpsertBSO(ctx context.Context, bso types.BSO) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	var sortIndex interface{}
	if bso.SortIndex != nil {
		sortIndex = *bso.SortIndex
	}
	mutation := spanner.InsertOrUpdate("bsos",
		[]string{"legacy_id", "fxa_uid", "fxa_kid", "collection_id", "bso_id", "sortindex", "payload", "modified", "expiry"},
		[]interface{}{bso.UserID.LegacyID, bso.UserID.FxAUID, bso.UserID.FxAKID, int64(bso.Collection), bso.ID, sortIndex, bso.Payload, int64(bso.Modified), bso.Expiry.UTC()})
	return write.BufferWrite([]*spanner.Mutation{mutation})
}

func (t *tx) DeleteBSO(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (bool, error) {
	write, err := t.requireWrite()
	if err != nil {
		return false, err
	}
	if _, ok, err := t.GetBSO(ctx, user, coll, id); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	key := spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll), id}
	if err := write.BufferWrite([]*spanner.Mutation{spanner.Delete("bsos", key)}); err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) DeleteBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, ids []string) (int64, error) {
	write, err := t.requireWrite()
	if err != nil {
		return 0, err
	}
	var keys []spanner.Key
	var n int64
	for _, id := range ids {
		if _, ok, err := t.GetBSO(ctx, user, coll, id); err != nil {
			return n, err
		} else if ok {
			keys = append(keys, spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll), id})
			n++
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	mutation := spanner.Delete("bsos", spanner.KeySetFromKeys(keys...))
	if err := write.BufferWrite([]*spanner.Mutation{mutation}); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *tx) DeleteCollectionBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) (int64, error) {
	write, err := t.requireWrite()
	if err != nil {
		return 0, err
	}
	ids, err := t.bsoIDs(ctx, user, coll)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keyRange := spanner.KeyRange{
		Start: spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll)},
		End:   spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll)},
		Kind:  spanner.ClosedClosed,
	}
	if err := write.BufferWrite([]*spanner.Mutation{spanner.Delete("bsos", keyRange)}); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (t *tx) bsoIDs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID) ([]string, error) {
	stmt := spanner.Statement{
		SQL:    `SELECT bso_id FROM bsos WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll`,
		Params: userParams(user, coll),
	}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	var ids []string
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var id string
		if err := row.Columns(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *tx) DeleteAllForUser(ctx context.Context, user types.UserIdentifier) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	// Deleting the parent user_collections rows cascades to bsos and
	// batches (schema.go: both are INTERLEAVE ... ON DELETE CASCADE),
	// so a full wipe is one mutation per collection the user has
	// touched rather than a table scan per child table.
	ucs, err := t.ListUserCollections(ctx, user)
	if err != nil {
		return err
	}
	var muts []*spanner.Mutation
	for _, uc := range ucs {
		muts = append(muts, spanner.Delete("user_collections", spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(uc.Collection)}))
	}
	if len(muts) == 0 {
		return nil
	}
	return write.BufferWrite(muts)
}

func (t *tx) DeleteExpired(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, before time.Time) (int64, error) {
	write, err := t.requireWrite()
	if err != nil {
		return 0, err
	}
	params := userParams(user, coll)
	params["before"] = before.UTC()
	stmt := spanner.Statement{
		SQL:    `SELECT bso_id FROM bsos WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND expiry <= @before`,
		Params: params,
	}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	var keys []spanner.Key
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		var id string
		if err := row.Columns(&id); err != nil {
			return 0, err
		}
		keys = append(keys, spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll), id})
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := write.BufferWrite([]*spanner.Mutation{spanner.Delete("bsos", spanner.KeySetFromKeys(keys...))}); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (t *tx) RangeScanBSOs(ctx context.Context, q backend.BSOQuery) ([]types.BSO, error) {
	params := userParams(q.User, q.Collection)
	params["now"] = q.Now.UTC()
	query := `SELECT bso_id, sortindex, payload, modified, expiry FROM bsos
	          WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND expiry > @now`

	if q.IDs != nil {
		params["ids"] = q.IDs
		query += ` AND bso_id IN UNNEST(@ids)`
	}
	if !q.Newer.IsZero() {
		params["newer"] = q.Newer.UTC()
		query += ` AND modified > @newer`
	}
	if !q.Older.IsZero() {
		params["older"] = q.Older.UTC()
		query += ` AND modified < @older`
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
		query += fmt.Sprintf(" LIMIT %d", q.Limit+1)
	}
	query += fmt.Sprintf(" OFFSET %d", q.Offset)

	iter := t.reader().Query(ctx, spanner.Statement{SQL: query, Params: params})
	defer iter.Stop()

	var out []types.BSO
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var id, payload string
		var sortIndex spanner.NullInt64
		var modified int64
		var expiry time.Time
		if err := row.Columns(&id, &sortIndex, &payload, &modified, &expiry); err != nil {
			return nil, err
		}
		bso := types.BSO{UserID: q.User, Collection: q.Collection, ID: id, Payload: payload, Modified: types.Timestamp(modified), Expiry: expiry.UTC()}
		if sortIndex.Valid {
			bso.SortIndex = &sortIndex.Int64
		}
		out = append(out, bso)
	}
	return out, nil
}

func (t *tx) AggregateBSOs(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, now time.Time) (int64, int64, error) {
	params := userParams(user, coll)
	params["now"] = now.UTC()
	stmt := spanner.Statement{
		SQL:    `SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM bsos WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND expiry > @now`,
		Params: params,
	}
	iter := t.reader().Query(ctx, stmt)
	defer iter.Stop()
	row, err := iter.Next()
	if err != nil {
		return 0, 0, err
	}
	var count, total int64
	if err := row.Columns(&count, &total); err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

func (t *tx) CreateBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, createdAt time.Time) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	mutation := spanner.InsertOrUpdate("batches",
		[]string{"legacy_id", "fxa_uid", "fxa_kid", "collection_id", "batch_id", "created_at"},
		[]interface{}{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll), id, createdAt.UTC()})
	return write.BufferWrite([]*spanner.Mutation{mutation})
}

func (t *tx) AppendBatchItems(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string, items []types.BatchItem) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	params := userParams(user, coll)
	params["batch"] = id
	iter := t.reader().Query(ctx, spanner.Statement{
		SQL:    `SELECT COALESCE(MAX(seq), -1) + 1 FROM batch_items WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND batch_id = @batch`,
		Params: params,
	})
	defer iter.Stop()
	row, err := iter.Next()
	if err != nil {
		return err
	}
	var nextSeq int64
	if err := row.Columns(&nextSeq); err != nil {
		return err
	}

	var muts []*spanner.Mutation
	for i, item := range items {
		var payload, sortIndex, ttl interface{}
		if item.Payload != nil {
			payload = *item.Payload
		}
		if item.SortIndex != nil {
			sortIndex = *item.SortIndex
		}
		if item.TTL != nil {
			ttl = *item.TTL
		}
		muts = append(muts, spanner.InsertOrUpdate("batch_items",
			[]string{"legacy_id", "fxa_uid", "fxa_kid", "collection_id", "batch_id", "seq", "item_id", "payload", "sortindex", "ttl"},
			[]interface{}{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll), id, nextSeq + int64(i), item.ID, payload, sortIndex, ttl}))
	}
	return write.BufferWrite(muts)
}

func (t *tx) GetBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) (types.Batch, bool, error) {
	params := userParams(user, coll)
	params["batch"] = id
	iter := t.reader().Query(ctx, spanner.Statement{
		SQL:    `SELECT created_at FROM batches WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND batch_id = @batch`,
		Params: params,
	})
	row, err := iter.Next()
	iter.Stop()
	if err == iterator.Done {
		return types.Batch{}, false, nil
	}
	if err != nil {
		return types.Batch{}, false, err
	}
	var createdAt time.Time
	if err := row.Columns(&createdAt); err != nil {
		return types.Batch{}, false, err
	}

	itemIter := t.reader().Query(ctx, spanner.Statement{
		SQL:    `SELECT item_id, payload, sortindex, ttl FROM batch_items WHERE legacy_id = @legacy AND fxa_uid = @uid AND fxa_kid = @kid AND collection_id = @coll AND batch_id = @batch ORDER BY seq ASC`,
		Params: params,
	})
	defer itemIter.Stop()

	batch := types.Batch{ID: id, UserID: user, Collection: coll, CreatedAt: createdAt.UTC()}
	for {
		row, err := itemIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return types.Batch{}, false, err
		}
		var itemID string
		var payload spanner.NullString
		var sortIndex, ttl spanner.NullInt64
		if err := row.Columns(&itemID, &payload, &sortIndex, &ttl); err != nil {
			return types.Batch{}, false, err
		}
		item := types.BatchItem{ID: itemID}
		if payload.Valid {
			item.Payload = &payload.StringVal
		}
		if sortIndex.Valid {
			item.SortIndex = &sortIndex.Int64
		}
		if ttl.Valid {
			item.TTL = &ttl.Int64
		}
		batch.Items = append(batch.Items, item)
	}
	return batch, true, nil
}

func (t *tx) DeleteBatch(ctx context.Context, user types.UserIdentifier, coll types.CollectionID, id string) error {
	write, err := t.requireWrite()
	if err != nil {
		return err
	}
	// batch_items cascades from the batches row (schema.go), so one
	// mutation suffices.
	key := spanner.Key{user.LegacyID, user.FxAUID, user.FxAKID, int64(coll), id}
	return write.BufferWrite([]*spanner.Mutation{spanner.Delete("batches", key)})
}

func userParams(user types.UserIdentifier, coll types.CollectionID) map[string]interface{} {
	return map[string]interface{}{
		"legacy": user.LegacyID,
		"uid":    user.FxAUID,
		"kid":    user.FxAKID,
		"coll":   int64(coll),
	}
}
