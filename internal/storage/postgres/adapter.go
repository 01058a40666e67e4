package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connURL string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		token TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS instance_pairs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		source_instance_id TEXT NOT NULL,
		target_instance_id TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT 'push',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		only_protected_branches BOOLEAN NOT NULL DEFAULT FALSE,
		keep_divergent_refs BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_pairs_source ON instance_pairs(source_instance_id);
	CREATE INDEX IF NOT EXISTS idx_pairs_target ON instance_pairs(target_instance_id);

	CREATE TABLE IF NOT EXISTS mirrors (
		id TEXT PRIMARY KEY,
		pair_id TEXT NOT NULL,
		host_project_id INTEGER NOT NULL,
		remote_url TEXT NOT NULL,
		direction TEXT NOT NULL,
		remote_mirror_id INTEGER NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		update_status TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		last_synced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_mirrors_pair ON mirrors(pair_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveInstance inserts or updates an instance
func (s *postgresStorage) SaveInstance(ctx context.Context, instance *domain.GitLabInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, name, url, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			token = EXCLUDED.token,
			updated_at = EXCLUDED.updated_at
	`, instance.ID, instance.Name, instance.URL, instance.Token, instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID
func (s *postgresStorage) GetInstance(ctx context.Context, id string) (*domain.GitLabInstance, error) {
	instance := &domain.GitLabInstance{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, token, created_at, updated_at
		FROM instances WHERE id = $1
	`, id).Scan(&instance.ID, &instance.Name, &instance.URL, &instance.Token, &instance.CreatedAt, &instance.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("instance")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// ListInstances retrieves all instances
func (s *postgresStorage) ListInstances(ctx context.Context) ([]*domain.GitLabInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, token, created_at, updated_at
		FROM instances ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.GitLabInstance
	for rows.Next() {
		instance := &domain.GitLabInstance{}
		if err := rows.Scan(&instance.ID, &instance.Name, &instance.URL, &instance.Token, &instance.CreatedAt, &instance.UpdatedAt); err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// DeleteInstanceCascade removes an instance and everything referencing it in
// a single transaction
func (s *postgresStorage) DeleteInstanceCascade(ctx context.Context, id string) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to begin cascade delete", err)
	}
	defer tx.Rollback()

	mirrorRes, err := tx.ExecContext(ctx, `
		DELETE FROM mirrors WHERE pair_id IN (
			SELECT id FROM instance_pairs
			WHERE source_instance_id = $1 OR target_instance_id = $1
		)
	`, id)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to delete mirrors", err)
	}

	pairRes, err := tx.ExecContext(ctx, `
		DELETE FROM instance_pairs
		WHERE source_instance_id = $1 OR target_instance_id = $1
	`, id)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to delete pairs", err)
	}

	instRes, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to delete instance", err)
	}
	if n, err := instRes.RowsAffected(); err == nil && n == 0 {
		return 0, 0, apperrors.NewNotFoundError("instance")
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to commit cascade delete", err)
	}

	mirrors, _ := mirrorRes.RowsAffected()
	pairs, _ := pairRes.RowsAffected()
	return int(mirrors), int(pairs), nil
}

// SavePair inserts or updates an instance pair
func (s *postgresStorage) SavePair(ctx context.Context, pair *domain.InstancePair) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_pairs (
			id, name, source_instance_id, target_instance_id, direction,
			enabled, only_protected_branches, keep_divergent_refs, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			direction = EXCLUDED.direction,
			enabled = EXCLUDED.enabled,
			only_protected_branches = EXCLUDED.only_protected_branches,
			keep_divergent_refs = EXCLUDED.keep_divergent_refs,
			updated_at = EXCLUDED.updated_at
	`, pair.ID, pair.Name, pair.SourceInstanceID, pair.TargetInstanceID, string(pair.Direction),
		pair.Enabled, pair.OnlyProtectedBranches, pair.KeepDivergentRefs, pair.CreatedAt, pair.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pair: %w", err)
	}
	return nil
}

// GetPair retrieves an instance pair by ID
func (s *postgresStorage) GetPair(ctx context.Context, id string) (*domain.InstancePair, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_instance_id, target_instance_id, direction,
		       enabled, only_protected_branches, keep_divergent_refs, created_at, updated_at
		FROM instance_pairs WHERE id = $1
	`, id)
	pair, err := scanPair(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("pair")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	return pair, nil
}

// ListPairs retrieves all instance pairs
func (s *postgresStorage) ListPairs(ctx context.Context) ([]*domain.InstancePair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_instance_id, target_instance_id, direction,
		       enabled, only_protected_branches, keep_divergent_refs, created_at, updated_at
		FROM instance_pairs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.InstancePair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// DeletePair deletes an instance pair and its mirrors
func (s *postgresStorage) DeletePair(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError("failed to begin pair delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mirrors WHERE pair_id = $1`, id); err != nil {
		return apperrors.NewPersistenceError("failed to delete pair mirrors", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM instance_pairs WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewPersistenceError("failed to delete pair", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("pair")
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("failed to commit pair delete", err)
	}
	return nil
}

// SaveMirror inserts or updates a mirror
func (s *postgresStorage) SaveMirror(ctx context.Context, mirror *domain.Mirror) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirrors (
			id, pair_id, host_project_id, remote_url, direction, remote_mirror_id,
			enabled, update_status, last_error, last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			remote_url = EXCLUDED.remote_url,
			remote_mirror_id = EXCLUDED.remote_mirror_id,
			enabled = EXCLUDED.enabled,
			update_status = EXCLUDED.update_status,
			last_error = EXCLUDED.last_error,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
	`, mirror.ID, mirror.PairID, mirror.HostProjectID, mirror.RemoteURL, string(mirror.Direction),
		mirror.RemoteMirrorID, mirror.Enabled, mirror.UpdateStatus, mirror.LastError,
		mirror.LastSyncedAt, mirror.CreatedAt, mirror.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mirror: %w", err)
	}
	return nil
}

// GetMirror retrieves a mirror by ID
func (s *postgresStorage) GetMirror(ctx context.Context, id string) (*domain.Mirror, error) {
	row := s.db.QueryRowContext(ctx, mirrorSelect+` WHERE id = $1`, id)
	mirror, err := scanMirror(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("mirror")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mirror: %w", err)
	}
	return mirror, nil
}

// ListMirrorsByPair retrieves mirrors of a pair in creation order
func (s *postgresStorage) ListMirrorsByPair(ctx context.Context, pairID string) ([]*domain.Mirror, error) {
	return s.listMirrors(ctx, mirrorSelect+` WHERE pair_id = $1 ORDER BY created_at, id`, pairID)
}

// ListMirrorsByInstance retrieves mirrors whose pair references the instance
// on either side, in creation order
func (s *postgresStorage) ListMirrorsByInstance(ctx context.Context, instanceID string) ([]*domain.Mirror, error) {
	return s.listMirrors(ctx, mirrorSelect+`
		WHERE pair_id IN (
			SELECT id FROM instance_pairs
			WHERE source_instance_id = $1 OR target_instance_id = $1
		)
		ORDER BY created_at, id
	`, instanceID)
}

// UpdateMirrorStatus persists the result of a status poll
func (s *postgresStorage) UpdateMirrorStatus(ctx context.Context, id, status, lastError string, syncedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mirrors
		SET update_status = $1, last_error = $2, last_synced_at = $3, updated_at = NOW()
		WHERE id = $4
	`, status, lastError, syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update mirror status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("mirror")
	}
	return nil
}

// DeleteMirror deletes a mirror row
func (s *postgresStorage) DeleteMirror(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mirrors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mirror: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("mirror")
	}
	return nil
}

// DeleteMirrors deletes a set of mirror rows in one transaction
func (s *postgresStorage) DeleteMirrors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM mirrors WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return apperrors.NewPersistenceError("failed to delete mirrors", err)
	}
	return nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

const mirrorSelect = `
	SELECT id, pair_id, host_project_id, remote_url, direction, remote_mirror_id,
	       enabled, update_status, last_error, last_synced_at, created_at, updated_at
	FROM mirrors`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPair(row scanner) (*domain.InstancePair, error) {
	pair := &domain.InstancePair{}
	var direction string
	err := row.Scan(&pair.ID, &pair.Name, &pair.SourceInstanceID, &pair.TargetInstanceID,
		&direction, &pair.Enabled, &pair.OnlyProtectedBranches, &pair.KeepDivergentRefs,
		&pair.CreatedAt, &pair.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pair.Direction = domain.MirrorDirection(direction)
	return pair, nil
}

func scanMirror(row scanner) (*domain.Mirror, error) {
	mirror := &domain.Mirror{}
	var direction string
	var syncedAt sql.NullTime
	err := row.Scan(&mirror.ID, &mirror.PairID, &mirror.HostProjectID, &mirror.RemoteURL,
		&direction, &mirror.RemoteMirrorID, &mirror.Enabled, &mirror.UpdateStatus,
		&mirror.LastError, &syncedAt, &mirror.CreatedAt, &mirror.UpdatedAt)
	if err != nil {
		return nil, err
	}
	mirror.Direction = domain.MirrorDirection(direction)
	if syncedAt.Valid {
		mirror.LastSyncedAt = &syncedAt.Time
	}
	return mirror, nil
}

func (s *postgresStorage) listMirrors(ctx context.Context, query string, args ...interface{}) ([]*domain.Mirror, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrors: %w", err)
	}
	defer rows.Close()

	var mirrors []*domain.Mirror
	for rows.Next() {
		mirror, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, mirror)
	}
	return mirrors, rows.Err()
}
