// Package errs2 collects small error-handling helpers shared by the
// storage engine's backend adapters: draining a fan-in error channel,
// running a fixed set of tasks concurrently and gathering every
// failure, and classifying context/gRPC cancellation so adapters don't
// wrap a client disconnect as ErrInternal.
package errs2

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collect waits up to timeout for the first error on errchan, then
// takes every further error already queued without waiting again,
// combining whatever arrived into one error (nil if none arrived).
func Collect(errchan chan error, timeout time.Duration) error {
	var errlist errs.Group
loop:
	for {
		select {
		case err := <-errchan:
			errlist.Add(err)
		case <-time.After(timeout):
			break loop
		default:
			if len(errlist) == 0 {
				select {
				case err := <-errchan:
					errlist.Add(err)
					continue loop
				case <-time.After(timeout):
				}
			}
			break loop
		}
	}
	return errlist.Err()
}

// Group runs a set of goroutines and collects every non-nil error they
// return, rather than stopping at the first one the way errgroup does.
type Group struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// Go runs fn in its own goroutine.
func (group *Group) Go(fn func() error) {
	group.wg.Add(1)
	go func() {
		defer group.wg.Done()
		if err := fn(); err != nil {
			group.mu.Lock()
			group.errs = append(group.errs, err)
			group.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine started with Go has returned, and
// reports every error they returned, in completion order.
func (group *Group) Wait() []error {
	group.wg.Wait()
	group.mu.Lock()
	defer group.mu.Unlock()
	return group.errs
}

// IsCanceled reports whether err is a context cancellation, including
// one that arrived wrapped in a gRPC status (as Spanner's client
// surfaces them) — used by adapters to avoid logging a client
// disconnect as a backend failure.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errs.Is(err, context.Canceled) {
		return true
	}
	return status.Code(err) == codes.Canceled
}
