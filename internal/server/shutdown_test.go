package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() ShutdownConfig {
	cfg := DefaultShutdownConfig()
	cfg.ShutdownTimeout = time.Second
	cfg.DrainTimeout = 200 * time.Millisecond
	return cfg
}

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(fastConfig())

	var order []string
	for _, name := range []string{"store", "sink", "http"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}
	started := false
	sm.OnShutdownStart(func() { started = true })

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"http", "sink", "store"}, order)
	assert.True(t, started)
	assert.True(t, sm.IsShuttingDown())

	// only the first call does anything
	require.NoError(t, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 3)
}

func TestShutdown_CollectsCloseErrors(t *testing.T) {
	sm := NewShutdownManager(fastConfig())
	boom := errors.New("boom")
	closedAfterFailure := false

	sm.RegisterCloser("last", CloserFunc(func() error { closedAfterFailure = true; return nil }))
	sm.RegisterCloser("bad", CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	assert.ErrorIs(t, err, boom)
	assert.True(t, closedAfterFailure, "a failing closer does not stop the others")
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(fastConfig())
	require.True(t, sm.TrackRequest())

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 in-flight")
	assert.False(t, sm.TrackRequest(), "new requests are rejected")
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(fastConfig())

	release := make(chan struct{})
	entered := make(chan struct{})
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	rec := httptest.NewRecorder()
	go func() {
		defer wg.Done()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	}()
	<-entered
	assert.Equal(t, int64(1), sm.InFlightCount())

	done := make(chan error, 1)
	go func() { done <- sm.Shutdown(context.Background(), "test") }()

	// wait until shutdown has started, then finish the request
	<-sm.ShutdownCh()
	late := httptest.NewRecorder()
	h.ServeHTTP(late, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, late.Code)

	close(release)
	wg.Wait()
	require.NoError(t, <-done)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(0), sm.InFlightCount())
}

func TestServeHTTP(t *testing.T) {
	sm := NewShutdownManager(fastConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})}
	errCh := sm.ServeHTTP(srv, ln)

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.NoError(t, <-errCh, "server closed cleanly")
}
