package errs2_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mozilla-services/syncstorage-engine/internal/errs2"
)

func TestCollect_CombinesEverySentError(t *testing.T) {
	ch := make(chan error, 3)
	ch <- errors.New("one")
	ch <- errors.New("two")

	err := errs2.Collect(ch, 10*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "one")
	require.Contains(t, err.Error(), "two")
}

func TestCollect_EmptyChannelReturnsNil(t *testing.T) {
	ch := make(chan error)
	require.NoError(t, errs2.Collect(ch, 5*time.Millisecond))
}

func TestGroup_CollectsAllErrors(t *testing.T) {
	var group errs2.Group
	group.Go(func() error { return errors.New("a") })
	group.Go(func() error { return nil })
	group.Go(func() error { return errors.New("b") })

	errs := group.Wait()
	require.Len(t, errs, 2)
}

func TestIsCanceled(t *testing.T) {
	require.False(t, errs2.IsCanceled(nil))
	require.True(t, errs2.IsCanceled(context.Canceled))
	require.True(t, errs2.IsCanceled(status.Error(codes.Canceled, "canceled")))
	require.False(t, errs2.IsCanceled(errors.New("boom")))
}
