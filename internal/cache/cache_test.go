package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"roomscan/internal/cache"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second))

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

// --- Job views ---

func TestJobView_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	payload := []byte(`{"job_id":"` + jobID.String() + `","status":"processing"}`)
	require.NoError(t, rc.SetJobView(ctx, jobID, payload, time.Minute))

	got, found, err := rc.GetJobView(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, got)

	// Overwrite with the settled view; latest write wins.
	settled := []byte(`{"job_id":"` + jobID.String() + `","status":"completed"}`)
	require.NoError(t, rc.SetJobView(ctx, jobID, settled, time.Minute))

	got, found, err = rc.GetJobView(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, settled, got)
}

func TestGetJobView_Missing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	_, found, err := rc.GetJobView(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Counters ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.DailyQuotaKey(uuid.New(), time.Now())

	n, err := rc.IncrWithExpiry(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rc.IncrWithExpiry(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	val, found, err := rc.GetCounter(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), val)
}

func TestGetCounter_Missing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.GetCounter(context.Background(), "quota:nobody:2026-01-01")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, val)
}

// --- Key builders ---

func TestKeyBuilders(t *testing.T) {
	id := uuid.MustParse("0b2f8b6e-9c1d-4f4a-a6b9-2f6f3c1d0e5a")

	assert.Equal(t, "job:view:0b2f8b6e-9c1d-4f4a-a6b9-2f6f3c1d0e5a", cache.JobViewKey(id))

	day := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "quota:0b2f8b6e-9c1d-4f4a-a6b9-2f6f3c1d0e5a:2026-08-24", cache.DailyQuotaKey(id, day))
}
