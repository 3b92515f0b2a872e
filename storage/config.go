package storage

import "time"

// QuotaConfig carries the three knobs spec.md §4.4 names for the
// Quota Accountant.
type QuotaConfig struct {
	// Enabled turns on the quota check. When false, check_before_write
	// is a no-op. The cached count/total_bytes values are maintained on
	// every write whether or not Enabled is set.
	Enabled bool

	// LimitBytes is the per-(user, collection) soft threshold.
	LimitBytes int64

	// Enforced controls whether check_before_write rejects with
	// ErrQuota or merely logs a warning when usage is at/above
	// LimitBytes.
	Enforced bool
}

// Config bundles every engine-level knob enumerated in spec.md §6.
type Config struct {
	Quota QuotaConfig

	// DefaultBSOTTL is applied to a put_bso that supplies no ttl, in
	// seconds.
	DefaultBSOTTL int64

	// MaxTotalRecords is the pagination ceiling regardless of what a
	// caller's limit asks for.
	MaxTotalRecords int

	// BatchTTL bounds how long an open batch survives without a commit.
	BatchTTL time.Duration

	// MaxBatchBytes bounds the total payload size a single batch
	// commit may contain before the engine fails the commit with
	// ErrTooLarge (spec.md §9: "TODO: validate actual sizes" in the
	// source; the spec mandates enforcement, leaving the threshold
	// configurable).
	MaxBatchBytes int64
}

// DefaultConfig returns the engine's out-of-the-box configuration:
// quota tracked but not enforced, matching a fresh deployment that
// wants usage visibility before turning on hard limits.
func DefaultConfig() Config {
	return Config{
		Quota: QuotaConfig{
			Enabled:    true,
			LimitBytes: 2 * 1024 * 1024 * 1024, // 2GiB
			Enforced:   false,
		},
		DefaultBSOTTL:   DefaultBSOTTL,
		MaxTotalRecords: DefaultMaxTotalRecords,
		BatchTTL:        DefaultBatchTTL,
		MaxBatchBytes:   100 * 1024 * 1024, // 100MiB
	}
}
