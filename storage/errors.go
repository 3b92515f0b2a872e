package storage

import "github.com/zeebo/errs"

// Error classes, one per outcome Kind in the engine's contract. Handlers
// map these to HTTP statuses; the engine itself never inspects status
// codes.
var (
	// ErrCollectionNotFound is returned when an operation targets a named
	// collection that has no UserCollection row.
	ErrCollectionNotFound = errs.Class("collection not found")

	// ErrBsoNotFound is returned when an operation targets a specific BSO
	// that does not exist, or is expired.
	ErrBsoNotFound = errs.Class("bso not found")

	// ErrBatchNotFound is returned when a batch id is unknown or expired.
	ErrBatchNotFound = errs.Class("batch not found")

	// ErrConflict is returned when a write would violate timestamp
	// monotonicity on a collection.
	ErrConflict = errs.Class("conflict")

	// ErrQuota is returned when a write is refused because collection
	// usage is at or above the enforced limit.
	ErrQuota = errs.Class("quota exceeded")

	// ErrTooLarge is returned when a single write or batch commit exceeds
	// the backend's transaction size budget.
	ErrTooLarge = errs.Class("too large")

	// ErrIntegrity indicates persisted data violates an engine invariant.
	// Unlike the other classes this always indicates a bug, not a normal
	// client-triggerable outcome.
	ErrIntegrity = errs.Class("integrity")

	// ErrUnavailable indicates the backend is temporarily unreachable and
	// the caller may retry.
	ErrUnavailable = errs.Class("unavailable")

	// ErrInternal is the catch-all for unexpected conditions.
	ErrInternal = errs.Class("internal")
)

// IsNotFound reports whether err is a CollectionNotFound or BsoNotFound,
// the two classes handler layers are expected to translate locally
// (spec.md §7 propagation policy).
func IsNotFound(err error) bool {
	return ErrCollectionNotFound.Has(err) || ErrBsoNotFound.Has(err)
}
