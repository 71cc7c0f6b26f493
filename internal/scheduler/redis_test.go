package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := DialRedis(ctx, host+":"+port.Port(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisDelayQueue(t *testing.T) {
	client := setupRedis(t)
	q := NewRedisDelayQueue(client, "test:delays")
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, "early", epoch.Add(-time.Hour)))
	require.NoError(t, q.Schedule(ctx, "now", epoch))
	require.NoError(t, q.Schedule(ctx, "later", epoch.Add(time.Hour)))

	ids, err := q.Due(ctx, epoch, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "now"}, ids)

	ids, err = q.Due(ctx, epoch, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, ids)

	// Rescheduling moves the entry instead of duplicating it.
	require.NoError(t, q.Schedule(ctx, "later", epoch.Add(-time.Minute)))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, q.Remove(ctx, "early"))
	ids, err = q.Due(ctx, epoch, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"later", "now"}, ids)
}

func TestRedisDelayQueue_WithScheduler(t *testing.T) {
	client := setupRedis(t)
	q := NewRedisDelayQueue(client, "")
	r := newStubResumer()
	s := newScheduler(t, q, r)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, "pr-1", epoch.Add(-time.Second)))
	assert.Equal(t, 1, s.Tick(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := DialRedis(ctx, "127.0.0.1:1", "")
	assert.Error(t, err)
}
