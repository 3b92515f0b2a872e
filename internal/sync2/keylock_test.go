package sync2_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-engine/internal/sync2"
)

func TestKeyLock_LockUnlock(t *testing.T) {
	kl := sync2.NewKeyLock()
	unlock := kl.Lock("hi")
	unlock()
	unlock = kl.RLock("hi")
	unlock()
}

func TestKeyLock_ExclusiveBlocksExclusive(t *testing.T) {
	kl := sync2.NewKeyLock()
	unlock := kl.Lock("key")

	acquired := make(chan struct{})
	go func() {
		second := kl.Lock("key")
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key acquired while the first is still held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired
}

func TestKeyLock_ReadersDoNotBlockEachOther(t *testing.T) {
	kl := sync2.NewKeyLock()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.RLock("shared")
			defer unlock()
			time.Sleep(time.Millisecond)
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent readers on the same key did not all complete in time")
	}
}

func TestKeyLock_IndependentKeysDoNotContend(t *testing.T) {
	kl := sync2.NewKeyLock()
	unlockA := kl.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := kl.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locking an independent key blocked on an unrelated held key")
	}
	require.True(t, true)
}
