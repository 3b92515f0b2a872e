package storage

import "context"

// Usage reports the cached byte and record counts for one
// (user, collection) pair.
type Usage struct {
	TotalBytes int64
	Count      int64
}

// usageFor is an O(1) read of the cached usage values on the
// UserCollection row (spec.md §4.4's usage_for). It returns a zero
// Usage when the collection doesn't exist yet, since that's
// indistinguishable from "no usage recorded."
func (s *Session) usageFor(ctx context.Context, coll CollectionID) (Usage, error) {
	uc, ok, err := s.tx.GetUserCollection(ctx, s.user, coll)
	if err != nil {
		return Usage{}, ErrInternal.Wrap(err)
	}
	if !ok {
		return Usage{}, nil
	}
	return Usage{TotalBytes: uc.TotalBytes, Count: uc.Count}, nil
}

// recomputeUsage recomputes usage by summing live BSOs, the O(records)
// path spec.md §4.4 says is invoked after every mutation that may
// change counts or sizes.
func (s *Session) recomputeUsage(ctx context.Context, coll CollectionID) (Usage, error) {
	count, totalBytes, err := s.tx.AggregateBSOs(ctx, s.user, coll, s.ts.Time())
	if err != nil {
		return Usage{}, ErrInternal.Wrap(err)
	}
	return Usage{TotalBytes: totalBytes, Count: count}, nil
}

// checkBeforeWrite enforces the quota's soft-limit semantics: reject
// only when quota tracking is enabled, enforced, and cached usage is
// already at or above the limit. Enforcement is deliberately
// best-effort against a value that may lag by one write (spec.md
// §4.4).
func (s *Session) checkBeforeWrite(ctx context.Context, coll CollectionID) error {
	cfg := s.db.config.Quota
	if !cfg.Enabled {
		return nil
	}

	usage, err := s.usageFor(ctx, coll)
	if err != nil {
		return err
	}
	if usage.TotalBytes < cfg.LimitBytes {
		return nil
	}

	if cfg.Enforced {
		s.db.metrics.QuotaRejected.Inc()
		return ErrQuota.New("collection usage %d bytes is at or above limit %d", usage.TotalBytes, cfg.LimitBytes)
	}

	s.db.log.Warn("quota exceeded, not enforced",
		zapUser(s.user), zapCollection(coll),
		zapInt64("total_bytes", usage.TotalBytes),
		zapInt64("limit_bytes", cfg.LimitBytes),
	)
	return nil
}
