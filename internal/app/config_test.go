package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SYNC_TIMEOUT", "10s")
	t.Setenv("CHANNEL_ENDPOINTS", "amazon:https://amazon.example.com,ebay:http://ebay.example.com:8443")
	t.Setenv("CHANNEL_WEBHOOKS", "website")
	t.Setenv("ALERT_OVERSTOCK", "true")
	t.Setenv("SYNC_FAILURE_THRESHOLD", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.StoreBackend)
	require.Equal(t, 10*time.Second, cfg.SyncTimeout)
	require.Equal(t, 5*time.Minute, cfg.SyncPullOverlap)
	require.Equal(t, 10, cfg.RedisPoolSize)
	require.Equal(t, "https://amazon.example.com", cfg.ChannelEndpoints["amazon"])
	require.Equal(t, "http://ebay.example.com:8443", cfg.ChannelEndpoints["ebay"])
	require.Equal(t, []string{"website"}, cfg.ChannelWebhooks)

	settings := cfg.AlertSettings()
	require.True(t, settings.Overstock)
	require.Equal(t, 5, settings.SyncFailureCeiling)
	require.Equal(t, int64(10), settings.LowStockThreshold)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{StoreBackend: "memory", LockBackend: "local", RedisAddr: "127.0.0.1:6379", SyncTimeout: time.Second, SyncFrequency: time.Minute}
	}
	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.StoreBackend = "mongo"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.LockBackend = "redis"
	cfg.RedisAddr = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.ChannelEndpoints = map[string]string{"myspace": "http://x"}
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.ChannelEndpoints = map[string]string{"website": "http://x"}
	cfg.ChannelWebhooks = []string{"website"}
	require.Error(t, cfg.Validate())
}
