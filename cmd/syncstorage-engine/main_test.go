package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mozilla-services/syncstorage-engine/internal/errs2"
	"github.com/mozilla-services/syncstorage-engine/storage"
	"github.com/mozilla-services/syncstorage-engine/storage/backend/memory"
)

// TestHealthzServer exercises the same listener/shutdown shape
// newServeCmd runs in production: the server's Serve loop and a client
// request race in separate goroutines, errs2.Group collects whatever
// either one returns, and errs2.IsCanceled tells the expected
// Shutdown-induced error apart from a genuine failure — the same split
// the pack's own server tests make around a running listener.
func TestHealthzServer(t *testing.T) {
	log := zaptest.NewLogger(t)
	db := storage.New(memory.New(), storage.DefaultConfig(), log)
	defer db.Close() //nolint:errcheck

	registry := prometheus.NewRegistry()
	require.NoError(t, db.RegisterMetrics(registry))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := db.Check(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: mux}

	var group errs2.Group
	group.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))

	for _, err := range group.Wait() {
		if !errs2.IsCanceled(err) {
			t.Fatalf("server goroutine returned unexpected error: %v", err)
		}
	}
}

// TestCollectDrainsPendingErrors exercises errs2.Collect the way a
// caller fanning in several adapters' close errors would, not just the
// package's own unit test.
func TestCollectDrainsPendingErrors(t *testing.T) {
	ch := make(chan error, 2)
	ch <- context.Canceled
	ch <- http.ErrServerClosed

	err := errs2.Collect(ch, 20*time.Millisecond)
	require.Error(t, err)
}
