package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)

	sm.RegisterShutdownFunc(nil)
	assert.Empty(t, sm.shutdownFuncs)
}

func TestShutdown_RunsAllFunctions(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var calls int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	sentinel := errors.New("redis close failed")
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return sentinel })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestShutdown_StopsServers(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(NopLogger(), time.Second, ts.Config)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(ts.URL)
	assert.Error(t, err, "server should refuse connections after shutdown")
}

func TestWaitForShutdown(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	var ran atomic.Bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.True(t, ran.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
}
