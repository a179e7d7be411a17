package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"custom timeout", 10 * time.Second, 10 * time.Second},
		{"zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewShutdownManager(NopLogger(), nil, tt.timeout)
			assert.Equal(t, tt.expectedTimeout, sm.timeout)
		})
	}
}

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var order []string
	for _, name := range []string{"db", "cache", "tracer"} {
		name := name
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"tracer", "cache", "db"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	errDB := errors.New("db close failed")
	ran := false
	sm.Register("db", func(ctx context.Context) error { return errDB })
	sm.Register("cache", func(ctx context.Context) error { ran = true; return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, errDB)
	assert.True(t, ran, "a failing step must not stop the others")
}

func TestShutdownManager_StopsServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NopLogger(), server, time.Second)

	require.NoError(t, sm.Shutdown())
	assert.ErrorIs(t, server.ListenAndServe(), http.ErrServerClosed)
}

func TestShutdownManager_WaitForSignalContextCancel(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	called := make(chan struct{}, 1)
	sm.Register("probe", func(ctx context.Context) error {
		called <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForSignal(ctx))
	select {
	case <-called:
	default:
		t.Fatal("expected cleanup to run")
	}
}
