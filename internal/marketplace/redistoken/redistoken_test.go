package redistoken

import (
	"context"
	"fmt"
	"io"
	"log"
	"shopsnap-backend/internal/components/chrono"
	"shopsnap-backend/internal/marketplace"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t testing.TB) (*redis.Client, func(t testing.TB)) {
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	container, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	endpoint, err := container.Endpoint(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	client, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", endpoint))
	if err != nil {
		t.Fatal(err)
	}

	return client, func(t testing.TB) {
		client.Close()
		err := container.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestCache(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup(t)

	now := time.Now().UTC().Truncate(time.Second)
	cache := NewCache(client, "test:token", chrono.NewFakeTime(now))
	ctx := context.Background()

	_, ok, err := cache.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	token := marketplace.Token{AccessToken: "abc", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, cache.Store(ctx, token))

	loaded, ok, err := cache.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, token.AccessToken, loaded.AccessToken)
	require.True(t, token.ExpiresAt.Equal(loaded.ExpiresAt))

	ttl, err := client.TTL(ctx, "test:token").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, cache.Invalidate(ctx))
	_, ok, err = cache.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreExpiredToken(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup(t)

	now := time.Now().UTC()
	cache := NewCache(client, "", chrono.NewFakeTime(now))
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, marketplace.Token{AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, cache.Store(ctx, marketplace.Token{AccessToken: "stale", ExpiresAt: now.Add(-time.Second)}))

	_, ok, err := cache.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
