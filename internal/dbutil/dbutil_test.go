package dbutil_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-engine/internal/dbutil"
)

func TestRandomString_LengthAndVariety(t *testing.T) {
	a := dbutil.RandomString(12)
	b := dbutil.RandomString(12)
	require.Len(t, a, 12)
	require.Len(t, b, 12)
	require.NotEqual(t, a, b)
}

func TestRequireUTC_PassesThroughUTCAndZero(t *testing.T) {
	require.NotPanics(t, func() {
		dbutil.RequireUTC(time.Time{})
		dbutil.RequireUTC(time.Now().UTC())
	})
}

func TestRequireUTC_PanicsOnNonUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	require.Panics(t, func() {
		dbutil.RequireUTC(time.Now().In(loc))
	})
}
