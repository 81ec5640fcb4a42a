package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLimiter_Boundary(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	l := NewRedisLimiter(client, 10, 500*time.Millisecond)

	for i := 1; i <= 10; i++ {
		ok, err := l.Allow(ctx, "ct1", "BTC/USD")
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
	}

	ok, err := l.Allow(ctx, "ct1", "BTC/USD")
	require.NoError(t, err)
	assert.False(t, ok, "11th request must be rejected")

	ttl, err := client.PTTL(ctx, key("ct1", "BTC/USD")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	time.Sleep(600 * time.Millisecond)
	ok, err = l.Allow(ctx, "ct1", "BTC/USD")
	require.NoError(t, err)
	assert.True(t, ok, "allowed again after the window")
}

func TestRedisLimiter_ConcurrentCallers(t *testing.T) {
	client := setupRedis(t)
	l := NewRedisLimiter(client, 10, time.Hour)

	assert.Equal(t, 10, countAllowed(t, l, 50))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ok, err := NewRedisLimiter(client, 10, time.Hour).Allow(context.Background(), "ct1", "BTC/USD")
	assert.True(t, ok, "store errors must not block a copy")
	assert.Error(t, err)
}
