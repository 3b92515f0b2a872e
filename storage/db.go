package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mozilla-services/syncstorage-engine/storage/backend"
)

// DB is the storage engine's entry point: one per process (or per
// backend pool), wrapping a backend.Adapter with the process-wide
// collection-name cache (C2) and lock manager (C3), plus the
// configuration that the Quota Accountant (C4) and Record Store (C5)
// consult on every session.
type DB struct {
	adapter backend.Adapter
	config  Config
	log     *zap.Logger
	metrics *Metrics

	collections *collectionCache
	locks       *lockManager
}

// New constructs a DB over adapter. log is named "storage" the way
// the teacher's Db implementations take a *zap.Logger at
// construction and immediately .Named() it per subsystem.
func New(adapter backend.Adapter, config Config, log *zap.Logger) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{
		adapter:     adapter,
		config:      config,
		log:         log.Named("storage"),
		metrics:     NewMetrics(),
		collections: newCollectionCache(1 << 20),
		locks:       newLockManager(),
	}
}

// Close releases the underlying adapter's resources.
func (db *DB) Close() error {
	return db.adapter.Close()
}

// RegisterMetrics attaches this DB's Prometheus collectors to reg, for
// a caller that wants to expose them on its own /metrics endpoint.
func (db *DB) RegisterMetrics(reg prometheus.Registerer) error {
	return db.metrics.Register(reg)
}

// Session is the per-request engine state of spec.md §3: a backend
// transaction, the session timestamp, the set of held locks, and the
// per-collection modified values cached under those locks.
type Session struct {
	db       *DB
	user     UserIdentifier
	tx       backend.Tx
	forWrite bool
	ts       Timestamp

	locks         map[lockKey]*heldLock
	modifiedCache map[lockKey]Timestamp

	startedAt time.Time
	closed    bool
}

// Begin starts a session for user: one backend transaction, one
// session timestamp allocated from the backend's own clock (C1), and
// an empty lock set. forWrite selects a read-only or read-write
// backend transaction; attempting a write operation on a read-only
// session is a programmer error in the caller, not a runtime
// condition this package defends against (spec.md scopes that to the
// handler layer choosing the right mode up front).
func (db *DB) Begin(ctx context.Context, user UserIdentifier, forWrite bool) (*Session, error) {
	tx, err := db.adapter.Begin(ctx, forWrite)
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}

	now, err := tx.Now(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, ErrInternal.New("backend has no usable time source: %v", err)
	}

	return &Session{
		db:            db,
		user:          user,
		tx:            tx,
		forWrite:      forWrite,
		ts:            TimestampFromTime(now),
		locks:         make(map[lockKey]*heldLock),
		modifiedCache: make(map[lockKey]Timestamp),
		startedAt:     time.Now(),
	}, nil
}

// Timestamp returns the session timestamp stamped on every write this
// session performs.
func (s *Session) Timestamp() Timestamp { return s.ts }

// Commit finalizes the session's backend transaction and releases
// every lock it holds. Locks are released only at transaction end,
// per spec.md §4.3, regardless of whether Commit or Rollback is
// called.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.releaseAllLocks()

	if err := s.tx.Commit(ctx); err != nil {
		s.db.metrics.SessionLatency.WithLabelValues("commit_error").Observe(time.Since(s.startedAt).Seconds())
		return ErrUnavailable.Wrap(err)
	}
	s.db.metrics.SessionLatency.WithLabelValues("commit").Observe(time.Since(s.startedAt).Seconds())
	return nil
}

// Rollback discards the session's backend transaction and releases
// every lock it holds. Safe to call after Commit, and safe to call
// more than once — callers are expected to `defer session.Rollback(ctx)`
// immediately after Begin so that cancellation (spec.md §5) always
// leaves no partial state visible.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.releaseAllLocks()

	if err := s.tx.Rollback(ctx); err != nil {
		s.db.metrics.SessionLatency.WithLabelValues("rollback_error").Observe(time.Since(s.startedAt).Seconds())
		return ErrUnavailable.Wrap(err)
	}
	s.db.metrics.SessionLatency.WithLabelValues("rollback").Observe(time.Since(s.startedAt).Seconds())
	return nil
}
