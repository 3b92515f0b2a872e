// Package sync2 holds small concurrency primitives shared across the
// engine, adapted from the teacher's internal/sync2 package.
package sync2

import "sync"

// KeyLock is a map of independent read/write locks, one per key,
// created lazily. It is the primitive behind the engine's per-
// (user, collection) Lock Manager (spec.md §4.3): Lock and RLock each
// return an unlock function instead of requiring a separate Unlock
// call keyed by the same value, so callers cannot unlock the wrong
// key by mistake.
type KeyLock struct {
	mu    sync.Mutex
	locks map[interface{}]*refCountedMutex
}

type refCountedMutex struct {
	mu  sync.RWMutex
	refs int
}

// NewKeyLock returns an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{
		locks: make(map[interface{}]*refCountedMutex),
	}
}

func (k *KeyLock) acquire(key interface{}) *refCountedMutex {
	k.mu.Lock()
	rm, ok := k.locks[key]
	if !ok {
		rm = &refCountedMutex{}
		k.locks[key] = rm
	}
	rm.refs++
	k.mu.Unlock()
	return rm
}

func (k *KeyLock) release(key interface{}, rm *refCountedMutex) {
	k.mu.Lock()
	rm.refs--
	if rm.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Lock takes an exclusive lock on key and returns a function to
// release it. The unlock function must be called exactly once.
func (k *KeyLock) Lock(key interface{}) (unlock func()) {
	rm := k.acquire(key)
	rm.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			rm.mu.Unlock()
			k.release(key, rm)
		})
	}
}

// RLock takes a shared lock on key and returns a function to release
// it. Multiple RLock holders may be active concurrently; RLock blocks
// only while a Lock holder is active.
func (k *KeyLock) RLock(key interface{}) (unlock func()) {
	rm := k.acquire(key)
	rm.mu.RLock()
	var once sync.Once
	return func() {
		once.Do(func() {
			rm.mu.RUnlock()
			k.release(key, rm)
		})
	}
}
