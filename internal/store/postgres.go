package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"roomscan/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, artifact_container, artifact_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OwnerID, job.Artifact.Container, job.Artifact.Key,
		job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, artifact_container, artifact_key, result_container, result_key,
		        status, room_count, error_detail, created_at, updated_at
		 FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to string, opts ...TransitionOption) (bool, error) {
	allowed := false
	for _, next := range validTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, fmt.Errorf("invalid job status transition: %s -> %s", from, to)
	}

	params := ApplyTransitionOptions(opts...)

	query := `UPDATE jobs SET status = $3, updated_at = $4`
	args := []any{id, from, to, time.Now().UTC()}
	argIdx := 5

	if params.Result != nil {
		query += fmt.Sprintf(", result_container = $%d, result_key = $%d", argIdx, argIdx+1)
		args = append(args, params.Result.Container, params.Result.Key)
		argIdx += 2
	}
	if params.RoomCount != nil {
		query += fmt.Sprintf(", room_count = $%d", argIdx)
		args = append(args, *params.RoomCount)
		argIdx++
	}
	if params.ErrorDetail != nil {
		query += fmt.Sprintf(", error_detail = $%d", argIdx)
		args = append(args, *params.ErrorDetail)
		argIdx++
	}

	// The status guard is the only concurrency control in the pipeline: of
	// two racing handlers, exactly one sees RowsAffected == 1.
	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Guard failed: distinguish a missing job from a lost race.
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) ListStuckJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, artifact_container, artifact_key, result_container, result_key,
		        status, room_count, error_detail, created_at, updated_at
		 FROM jobs WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC LIMIT $3`,
		models.JobStatusProcessing, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) TouchJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET updated_at = $2 WHERE id = $1 AND status = $3`,
		id, time.Now().UTC(), models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var resultContainer, resultKey *string
	err := row.Scan(&j.ID, &j.OwnerID, &j.Artifact.Container, &j.Artifact.Key,
		&resultContainer, &resultKey, &j.Status, &j.RoomCount, &j.ErrorDetail,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if resultContainer != nil && resultKey != nil {
		j.Result = &models.ArtifactRef{Container: *resultContainer, Key: *resultKey}
	}
	return &j, nil
}

// --- Detection results ---

func (s *PostgresStore) CreateDetectionResult(ctx context.Context, result *models.DetectionResult) error {
	rooms, err := json.Marshal(result.Rooms)
	if err != nil {
		return fmt.Errorf("marshal rooms: %w", err)
	}

	// ON CONFLICT DO NOTHING makes duplicate result deliveries harmless: the
	// first row written for a job id is the one that sticks.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO detection_results (id, job_id, room_count, rooms, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id) DO NOTHING`,
		result.ID, result.JobID, result.RoomCount, rooms, []byte(result.Metadata), result.CreatedAt)
	if err != nil {
		return fmt.Errorf("create detection result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDetectionResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.DetectionResult, error) {
	var r models.DetectionResult
	var rooms, metadata []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, room_count, rooms, metadata, created_at
		 FROM detection_results WHERE job_id = $1`, jobID,
	).Scan(&r.ID, &r.JobID, &r.RoomCount, &rooms, &metadata, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get detection result: %w", err)
	}
	if err := json.Unmarshal(rooms, &r.Rooms); err != nil {
		return nil, fmt.Errorf("unmarshal rooms: %w", err)
	}
	r.Metadata = metadata
	return &r, nil
}

// --- API Keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Role,
		key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, role, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, role, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Role,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
