package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"roomscan/internal/store"
	"roomscan/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("roomscan_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newPendingJob inserts a fresh pending job and returns it.
func newPendingJob(t *testing.T, s store.Store) *models.Job {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &models.Job{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Artifact: models.ArtifactRef{
			Container: "blueprints",
			Key:       "inputs/" + uuid.NewString() + ".png",
		},
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPendingJob(t, s)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.OwnerID, got.OwnerID)
	assert.Equal(t, job.Artifact, got.Artifact)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.RoomCount)
	assert.Nil(t, got.ErrorDetail)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_CreateDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := newPendingJob(t, s)
	err := s.CreateJob(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Transition Tests ---

func TestTransitionJob_HappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPendingJob(t, s)

	moved, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.True(t, moved)

	result := models.ArtifactRef{Container: "blueprints", Key: "outputs/" + job.ID.String() + ".json"}
	moved, err = s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
		store.WithResult(result, 7))
	require.NoError(t, err)
	assert.True(t, moved)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, result, *got.Result)
	require.NotNil(t, got.RoomCount)
	assert.Equal(t, 7, *got.RoomCount)
	assert.True(t, got.UpdatedAt.After(job.UpdatedAt))
}

func TestTransitionJob_GuardLosesRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPendingJob(t, s)

	moved, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	require.True(t, moved)

	// A duplicate delivery attempts the same claim: the guard fails quietly.
	moved, err = s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestTransitionJob_TerminalIsSticky(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPendingJob(t, s)
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorDetail("detection failed"))
	require.NoError(t, err)

	// A late completion attempt must not resurrect the job.
	moved, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, "detection failed", *got.ErrorDetail)
}

func TestTransitionJob_InvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := newPendingJob(t, s)
	_, err := s.TransitionJob(context.Background(), job.ID, models.JobStatusPending, models.JobStatusCompleted)
	assert.Error(t, err)
}

func TestTransitionJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.TransitionJob(context.Background(), uuid.New(),
		models.JobStatusPending, models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Stuck Jobs ---

func TestListStuckJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	stale := newPendingJob(t, s)
	fresh := newPendingJob(t, s)
	pending := newPendingJob(t, s)

	_, err := s.TransitionJob(ctx, stale.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	_, err = s.TransitionJob(ctx, fresh.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	// Only processing jobs older than the cutoff count as stuck.
	jobs, err := s.ListStuckJobs(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Contains(t, ids, stale.ID)
	assert.Contains(t, ids, fresh.ID)
	assert.NotContains(t, ids, pending.ID)

	jobs, err = s.ListStuckJobs(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestTouchJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPendingJob(t, s)
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	before, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.TouchJob(ctx, job.ID))

	after, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, models.JobStatusProcessing, after.Status)
}

// --- Detection Results ---

func TestDetectionResult_FirstWriteWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPendingJob(t, s)
	rooms := []models.Room{{
		ID:        "room_001",
		Lines:     []models.Line{{Start: [2]int{0, 0}, End: [2]int{10, 0}}},
		Polygon:   [][2]int{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
		Area:      100,
		Perimeter: 40,
	}}

	first := &models.DetectionResult{
		ID:        uuid.New(),
		JobID:     job.ID,
		RoomCount: 1,
		Rooms:     rooms,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateDetectionResult(ctx, first))

	// A duplicate delivery writes a second result for the same job; it is
	// silently dropped.
	second := &models.DetectionResult{
		ID:        uuid.New(),
		JobID:     job.ID,
		RoomCount: 99,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateDetectionResult(ctx, second))

	got, err := s.GetDetectionResultByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 1, got.RoomCount)
	require.Len(t, got.Rooms, 1)
	assert.Equal(t, "room_001", got.Rooms[0].ID)
	assert.Equal(t, float64(100), got.Rooms[0].Area)
}

func TestDetectionResult_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetDetectionResultByJobID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "rs_abcde",
		Role:      models.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "rs_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
	assert.Equal(t, models.RoleUser, keys[0].Role)
}

func TestAPIKey_RevokeHidesKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "doomed-key",
		KeyHash:   "hash",
		KeyPrefix: "rs_gone1",
		Role:      models.RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "rs_gone1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Revoking twice reports not found.
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "used-key",
		KeyHash:   "hash",
		KeyPrefix: "rs_used1",
		Role:      models.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "rs_used1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}
