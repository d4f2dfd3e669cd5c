package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a Redis container for the lifetime of t and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return "redis://" + host + ":" + port.Port()
}

func TestRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	redisURL := startRedis(t)
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, rc.Ping(ctx))
	})

	t.Run("resolved asset roundtrip", func(t *testing.T) {
		key := cache.ResolvedAssetKey("logo:acme.com")
		require.NoError(t, rc.Set(ctx, key, []byte(`{"url":"https://cdn/acme.png"}`), 10*time.Second))

		val, found, err := rc.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.JSONEq(t, `{"url":"https://cdn/acme.png"}`, string(val))

		require.NoError(t, rc.Delete(ctx, key))
		_, found, err = rc.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("miss and delete of absent key", func(t *testing.T) {
		val, found, err := rc.Get(ctx, "asset:missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
		assert.NoError(t, rc.Delete(ctx, "asset:missing"))
	})

	t.Run("entries expire", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "asset:short", []byte("x"), time.Second))
		time.Sleep(1500 * time.Millisecond)
		_, found, err := rc.Get(ctx, "asset:short")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("run status mirror", func(t *testing.T) {
		runID := uuid.New()
		require.NoError(t, rc.SetRunStatus(ctx, runID, "queued", 10*time.Second))
		require.NoError(t, rc.SetRunStatus(ctx, runID, "running", 10*time.Second))

		status, found, err := rc.GetRunStatus(ctx, runID)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "running", status)

		status, found, err = rc.GetRunStatus(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, status)
	})

	t.Run("fixed window counter", func(t *testing.T) {
		key := cache.RateLimitKey("pe_" + uuid.NewString()[:5])
		for want := int64(1); want <= 3; want++ {
			got, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("window is not extended by later hits", func(t *testing.T) {
		key := cache.RateLimitKey("pe_" + uuid.NewString()[:5])
		_, err := rc.IncrWithExpiry(ctx, key, time.Second)
		require.NoError(t, err)
		time.Sleep(600 * time.Millisecond)
		_, err = rc.IncrWithExpiry(ctx, key, time.Second)
		require.NoError(t, err)
		time.Sleep(600 * time.Millisecond)

		got, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got, "counter should restart once the first window closes")
	})

	t.Run("shared client", func(t *testing.T) {
		client, err := cache.NewClient(redisURL)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		shared := cache.NewRedisCacheFromClient(client)
		require.NoError(t, shared.Set(ctx, "asset:shared", []byte("v"), 10*time.Second))

		raw, err := client.Get(ctx, "asset:shared").Result()
		require.NoError(t, err)
		assert.Equal(t, "v", raw)

		_, err = client.Get(ctx, "asset:unset").Result()
		assert.ErrorIs(t, err, redis.Nil)
	})
}

func TestKeyBuilders(t *testing.T) {
	runID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "run:22222222-2222-2222-2222-222222222222", cache.RunStatusKey(runID))
	assert.Equal(t, "ratelimit:pe_abcd1", cache.RateLimitKey("pe_abcd1"))
	assert.Equal(t, "asset:logo:acme.com", cache.ResolvedAssetKey("logo:acme.com"))

	keys := map[string]bool{
		cache.RunStatusKey(uuid.New()):          true,
		cache.RateLimitKey("pe_prefix"):         true,
		cache.ResolvedAssetKey("logo:acme.com"): true,
	}
	assert.Len(t, keys, 3)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := cache.NewClient("not-a-url")
	assert.Error(t, err)

	_, err = cache.NewRedisCache("not-a-url")
	assert.Error(t, err)
}
