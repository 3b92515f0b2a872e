package spanner

// schema documents the interleaved table layout this adapter expects
// to already exist (Spanner DDL changes are applied out-of-band via
// the database admin API / gcloud, not at application startup — see
// DESIGN.md). It mirrors the original syncstorage-spanner's layout:
// user_collections is the interleaved parent of both bsos and
// batches, giving Spanner co-location of a user's rows without a join
// (spec.md §6: "BSOs are interleaved under user_collections on
// backends that support it").
const schema = `
CREATE TABLE collections (
  collection_id INT64 NOT NULL,
  name STRING(MAX) NOT NULL,
) PRIMARY KEY (collection_id);

CREATE UNIQUE INDEX collections_by_name ON collections (name);

CREATE TABLE user_collections (
  legacy_id INT64 NOT NULL,
  fxa_uid STRING(MAX) NOT NULL,
  fxa_kid STRING(MAX) NOT NULL,
  collection_id INT64 NOT NULL,
  modified INT64 NOT NULL,
  count INT64 NOT NULL,
  total_bytes INT64 NOT NULL,
) PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id);

CREATE TABLE bsos (
  legacy_id INT64 NOT NULL,
  fxa_uid STRING(MAX) NOT NULL,
  fxa_kid STRING(MAX) NOT NULL,
  collection_id INT64 NOT NULL,
  bso_id STRING(MAX) NOT NULL,
  sortindex INT64,
  payload STRING(MAX) NOT NULL,
  modified INT64 NOT NULL,
  expiry TIMESTAMP NOT NULL,
) PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id, bso_id),
  INTERLEAVE IN PARENT user_collections ON DELETE CASCADE;

CREATE TABLE batches (
  legacy_id INT64 NOT NULL,
  fxa_uid STRING(MAX) NOT NULL,
  fxa_kid STRING(MAX) NOT NULL,
  collection_id INT64 NOT NULL,
  batch_id STRING(MAX) NOT NULL,
  created_at TIMESTAMP NOT NULL,
) PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id, batch_id),
  INTERLEAVE IN PARENT user_collections ON DELETE CASCADE;

CREATE TABLE batch_items (
  legacy_id INT64 NOT NULL,
  fxa_uid STRING(MAX) NOT NULL,
  fxa_kid STRING(MAX) NOT NULL,
  collection_id INT64 NOT NULL,
  batch_id STRING(MAX) NOT NULL,
  seq INT64 NOT NULL,
  item_id STRING(MAX) NOT NULL,
  payload STRING(MAX),
  sortindex INT64,
  ttl INT64,
) PRIMARY KEY (legacy_id, fxa_uid, fxa_kid, collection_id, batch_id, seq),
  INTERLEAVE IN PARENT batches ON DELETE CASCADE;
`
