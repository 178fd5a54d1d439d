package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	require.Equal(t, guard.Env, testModeEnv)
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestBuildMemoryRuntimeWiresSync(t *testing.T) {
	cfg := &Config{
		StoreBackend:     "memory",
		LockBackend:      "local",
		SyncTimeout:      time.Second,
		SyncFrequency:    time.Minute,
		SyncTickInterval: time.Second,
		SyncWorkers:      2,
		ChannelEndpoints: map[string]string{"amazon": "http://127.0.0.1:1"},
	}
	rt, err := Build(context.Background(), cfg, NewLogger(cfg))
	require.NoError(t, err)
	defer rt.Close()

	require.Nil(t, rt.Pool)
	require.Nil(t, rt.Redis)
	require.Nil(t, rt.Webhooks)
	require.NotNil(t, rt.Scheduler)
	require.Len(t, rt.Registry.Channels(), 1)
	require.NoError(t, rt.Ready(httptest.NewRequest("GET", "/healthz", nil)))
}
