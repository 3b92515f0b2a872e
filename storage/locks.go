package storage

import (
	"context"

	"github.com/mozilla-services/syncstorage-engine/internal/sync2"
)

// SentinelCollectionID marks a lock acquired for a collection name
// that does not yet exist in the process-wide name cache. Locking
// against the sentinel (rather than failing outright) lets the read
// proceed and observe "still does not exist" (spec.md §4.3). Writers
// lock the collection's real id and never the sentinel key, so a
// sentinel read lock does not block a create of the same name.
const SentinelCollectionID CollectionID = -1

type lockMode int

const (
	lockNone lockMode = iota
	lockRead
	lockWrite
)

// lockKey identifies one per-(user, collection) lock. When the
// collection name hasn't been allocated an id yet, coll is
// SentinelCollectionID and name carries the text, so distinct unknown
// names don't contend with each other.
type lockKey struct {
	user UserIdentifier
	coll CollectionID
	name string
}

// lockManager is the process-wide C3 Lock Manager: per-(user,
// collection) read/write locks with a transactional lifetime, built
// on the teacher's KeyLock primitive (internal/sync2).
type lockManager struct {
	keys *sync2.KeyLock
}

func newLockManager() *lockManager {
	return &lockManager{keys: sync2.NewKeyLock()}
}

// heldLock records one lock a Session is holding, so it can be
// released exactly once at Session end and so re-acquisition within
// the session is recognized as a no-op.
type heldLock struct {
	mode   lockMode
	unlock func()
}

// lockForRead acquires a shared lock on (user, name) for the duration
// of the session. Resolving an unknown name is not an error: the lock
// is taken against SentinelCollectionID (keyed by name) and the
// returned id is SentinelCollectionID, which callers treat as "does
// not exist".
func (s *Session) lockForRead(ctx context.Context, name string) (CollectionID, error) {
	id, ok, err := s.db.collections.idFor(ctx, s.tx, name)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}

	key := lockKey{user: s.user, coll: SentinelCollectionID, name: name}
	if ok {
		key = lockKey{user: s.user, coll: id}
	}

	if _, exists := s.locks[key]; exists {
		return id, nil
	}

	unlock := s.db.locks.keys.RLock(key)
	s.locks[key] = &heldLock{mode: lockRead, unlock: unlock}

	if ok {
		if err := s.cacheModified(ctx, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// lockForWrite acquires an exclusive lock on (user, name), creating
// the collection if it doesn't exist yet. Escalating a read lock held
// earlier in the same session to a write lock is forbidden (spec.md
// §4.3) and returns ErrInternal rather than silently upgrading, since
// a concurrent reader may already depend on the weaker guarantee.
func (s *Session) lockForWrite(ctx context.Context, name string) (CollectionID, error) {
	id, err := s.db.collections.ensureIDFor(ctx, s.db.adapter, name)
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}

	key := lockKey{user: s.user, coll: id}
	if held, exists := s.locks[key]; exists {
		if held.mode == lockRead {
			return 0, ErrInternal.New("lock escalation from read to write is forbidden for %v", key)
		}
		return id, nil
	}

	unlock := s.db.locks.keys.Lock(key)
	s.locks[key] = &heldLock{mode: lockWrite, unlock: unlock}

	if err := s.cacheModified(ctx, id); err != nil {
		s.releaseLock(key)
		return 0, err
	}

	modified, ok := s.modifiedCache[key]
	if ok && modified >= s.ts {
		s.releaseLock(key)
		s.db.metrics.Conflicts.Inc()
		return 0, ErrConflict.New("collection %q modified at %v is not before session timestamp %v", name, modified, s.ts)
	}
	return id, nil
}

// cacheModified reads the current UserCollection.modified for id
// under the lock just acquired and remembers it for the session's
// lifetime, so pagination/offset correctness holds for every
// operation in the session (spec.md §4.3).
func (s *Session) cacheModified(ctx context.Context, id CollectionID) error {
	key := lockKey{user: s.user, coll: id}
	if _, ok := s.modifiedCache[key]; ok {
		return nil
	}
	uc, ok, err := s.tx.GetUserCollection(ctx, s.user, id)
	if err != nil {
		return ErrInternal.Wrap(err)
	}
	if ok {
		s.modifiedCache[key] = uc.Modified
	} else {
		s.modifiedCache[key] = 0
	}
	return nil
}

func (s *Session) releaseLock(key lockKey) {
	if held, ok := s.locks[key]; ok {
		held.unlock()
		delete(s.locks, key)
	}
}

// releaseAllLocks is called at Session Commit/Rollback; locks are
// released only at transaction end, never early (spec.md §4.3).
func (s *Session) releaseAllLocks() {
	for key, held := range s.locks {
		held.unlock()
		delete(s.locks, key)
	}
}
