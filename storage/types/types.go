// Package types holds the storage engine's domain value types. It has
// no dependencies of its own so that both the storage package and the
// backend package it drives can depend on it without a cycle: storage
// owns the engine logic, backend owns the record-store capability
// interface, and both need to talk about the same BSO/UserCollection/
// CollectionID shapes.
package types

import (
	"fmt"
	"time"
)

// DefaultBSOTTL is the TTL, in seconds, assigned to a BSO whose put_bso
// request supplies none. Roughly one year, matching the reference
// service.
const DefaultBSOTTL = 365 * 24 * 60 * 60

// DefaultMaxTotalRecords bounds the number of rows get_bsos/get_bso_ids
// may return across one page, regardless of the caller-supplied limit.
const DefaultMaxTotalRecords = 2000

// DefaultBatchTTL is how long an open batch survives without a commit
// before it is considered expired.
const DefaultBatchTTL = 2 * time.Hour

// TombstoneCollectionID is the reserved collection id that records a
// user's storage-level tombstone. It is never visible to clients.
const TombstoneCollectionID = 0

// Timestamp is a session timestamp: milliseconds since the Unix epoch,
// stamped on every write performed within one Session. It renders on
// the wire as a two-decimal-place seconds value.
type Timestamp int64

// TimestampFromTime truncates t to millisecond precision.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano() / int64(time.Millisecond))
}

// Time converts a Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// String renders the timestamp the way the wire protocol expects:
// seconds with two fractional digits.
func (t Timestamp) String() string {
	return fmt.Sprintf("%.2f", float64(t)/1000.0)
}

// UserIdentifier is the opaque composite key identifying a user. The
// engine never interprets its fields beyond equality and using
// LegacyID as the partition key.
type UserIdentifier struct {
	LegacyID int64
	FxAUID   string
	FxAKID   string
}

// String is a debug-friendly representation; it is not the wire form.
func (u UserIdentifier) String() string {
	return fmt.Sprintf("%d/%s/%s", u.LegacyID, u.FxAUID, u.FxAKID)
}

// CollectionID is the process-global stable id allocated to a
// collection name on first use.
type CollectionID int32

// Collection is the process-global name<->id mapping. Names are
// immutable once allocated.
type Collection struct {
	ID   CollectionID
	Name string
}

// UserCollection is the per-(user, collection) accounting row.
type UserCollection struct {
	UserID     UserIdentifier
	Collection CollectionID
	Modified   Timestamp
	Count      int64
	TotalBytes int64
}

// BSO is a Basic Storage Object, the unit of client data.
type BSO struct {
	UserID     UserIdentifier
	Collection CollectionID
	ID         string
	Payload    string
	SortIndex  *int64
	Modified   Timestamp
	Expiry     time.Time
}

// Sort selects the ordering applied by get_bsos / get_bso_ids.
type Sort int

const (
	// SortNone applies no ordering.
	SortNone Sort = iota
	// SortNewest orders by modified DESC, id DESC.
	SortNewest
	// SortOldest orders by modified ASC, id ASC.
	SortOldest
	// SortIndex orders by sortindex DESC.
	SortIndex
)

// BatchItem is one staged BSO write inside a Batch: the same optional
// payload/sortindex/ttl shape put_bso accepts.
type BatchItem struct {
	ID        string
	Payload   *string
	SortIndex *int64
	TTL       *int64
}

// Batch is the C6 Batch Coordinator's staging area for one multi-
// request upload: an ordered set of queued BSO writes pending commit,
// scoped to one (user, collection).
type Batch struct {
	ID         string
	UserID     UserIdentifier
	Collection CollectionID
	CreatedAt  time.Time
	Items      []BatchItem
}

// String implements fmt.Stringer for logging.
func (s Sort) String() string {
	switch s {
	case SortNewest:
		return "newest"
	case SortOldest:
		return "oldest"
	case SortIndex:
		return "index"
	default:
		return "none"
	}
}
