package postgres

// schema is the backend-agnostic layout of spec.md §6, rendered as
// Postgres DDL. user_collections is the parent of bsos and batches;
// Postgres has no native interleaving so the parent-child ordering
// invariant (spec.md §3 "parent-before-child") is enforced by the
// engine's own write ordering rather than a foreign key, matching the
// original implementation's db_impl.rs which likewise relies on
// transaction ordering instead of FK constraints for this reason
// (cascading a FK delete would race the tombstone write).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		collection_id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS user_collections (
		legacy_id BIGINT NOT NULL,
		fxa_uid TEXT NOT NULL,
		fxa_kid TEXT NOT NULL,
		collection_id INTEGER NOT NULL,
		modified BIGINT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		total_bytes BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bsos (
		legacy_id BIGINT NOT NULL,
		fxa_uid TEXT NOT NULL,
		fxa_kid TEXT NOT NULL,
		collection_id INTEGER NOT NULL,
		bso_id TEXT NOT NULL,
		sortindex BIGINT,
		payload TEXT NOT NULL DEFAULT '',
		modified BIGINT NOT NULL,
		expiry TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id, bso_id)
	)`,
	`CREATE INDEX IF NOT EXISTS bsos_expiry_idx ON bsos (expiry)`,
	`CREATE TABLE IF NOT EXISTS batches (
		legacy_id BIGINT NOT NULL,
		fxa_uid TEXT NOT NULL,
		fxa_kid TEXT NOT NULL,
		collection_id INTEGER NOT NULL,
		batch_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id, batch_id)
	)`,
	`CREATE TABLE IF NOT EXISTS batch_items (
		legacy_id BIGINT NOT NULL,
		fxa_uid TEXT NOT NULL,
		fxa_kid TEXT NOT NULL,
		collection_id INTEGER NOT NULL,
		batch_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		payload TEXT,
		sortindex BIGINT,
		ttl BIGINT,
		PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id, batch_id, seq)
	)`,
}
