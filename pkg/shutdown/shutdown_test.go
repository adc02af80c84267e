package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_ShutsDownInReverseOrder(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}
	m.RegisterFunc("store", record("store"))
	m.RegisterFunc("publisher", record("publisher"))
	m.RegisterFunc("http", record("http"))

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"http", "publisher", "store"}, order)

	require.NoError(t, m.Shutdown())
	assert.Len(t, order, 3, "components stop only once")
}

func TestManager_CollectsErrors(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)
	boom := errors.New("boom")

	var closed atomic.Bool
	m.Register("first", func(context.Context) error {
		closed.Store(true)
		return nil
	})
	m.Register("broken", func(context.Context) error { return boom })

	err := m.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, closed.Load(), "a failure does not stop later components")
}

func TestManager_WaitForShutdownOnCancel(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)
	var stopped atomic.Bool
	m.RegisterFunc("worker", func() { stopped.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.WaitForShutdown(ctx))
	assert.True(t, stopped.Load())
}

func TestInFlightTracker_Middleware(t *testing.T) {
	tracker := NewInFlightTracker("http", zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	h := tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	go h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	<-started

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- tracker.Shutdown(context.Background()) }()

	require.Eventually(t, tracker.IsShuttingDown, time.Second, time.Millisecond)
	refused := httptest.NewRecorder()
	h.ServeHTTP(refused, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, refused.Code)

	select {
	case <-shutdownErr:
		t.Fatal("shutdown returned before the in-flight request finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdownErr)
}

func TestInFlightTracker_ShutdownTimeout(t *testing.T) {
	tracker := NewInFlightTracker("jobs", zap.NewNop())
	require.True(t, tracker.Add())
	defer tracker.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, tracker.Add())
}

func TestPeriodicWorker(t *testing.T) {
	w := NewPeriodicWorker("tick", 5*time.Millisecond, zap.NewNop())

	var runs atomic.Int32
	w.Start(context.Background(), func(ctx context.Context) { runs.Add(1) })
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, w.Shutdown(context.Background()))
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after shutdown")
}

func TestPeriodicWorker_ShutdownBeforeStart(t *testing.T) {
	w := NewPeriodicWorker("idle", time.Second, zap.NewNop())
	assert.NoError(t, w.Shutdown(context.Background()))
}
