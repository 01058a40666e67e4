package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		token TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS instance_pairs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		source_instance_id TEXT NOT NULL,
		target_instance_id TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT 'push',
		enabled INTEGER NOT NULL DEFAULT 1,
		only_protected_branches INTEGER NOT NULL DEFAULT 0,
		keep_divergent_refs INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
		enabled INTEGER NOT NULL DEFAULT 1,
		update_status TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		last_synced_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_mirrors_pair ON mirrors(pair_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveInstance inserts or updates an instance
func (s *sqliteStorage) SaveInstance(ctx context.Context, instance *domain.GitLabInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, name, url, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			token = excluded.token,
			updated_at = excluded.updated_at
	`, instance.ID, instance.Name, instance.URL, instance.Token, instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID
func (s *sqliteStorage) GetInstance(ctx context.Context, id string) (*domain.GitLabInstance, error) {
	instance := &domain.GitLabInstance{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, token, created_at, updated_at
		FROM instances WHERE id = ?
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
func (s *sqliteStorage) ListInstances(ctx context.Context) ([]*domain.GitLabInstance, error) {
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
// a single transaction. The remote cleanup phase has already run by the time
// this is called; if the transaction fails everything local rolls back, but
// remote side effects are not undone.
func (s *sqliteStorage) DeleteInstanceCascade(ctx context.Context, id string) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to begin cascade delete", err)
	}
	defer tx.Rollback()

	mirrorRes, err := tx.ExecContext(ctx, `
		DELETE FROM mirrors WHERE pair_id IN (
			SELECT id FROM instance_pairs
			WHERE source_instance_id = ? OR target_instance_id = ?
		)
	`, id, id)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to delete mirrors", err)
	}

	pairRes, err := tx.ExecContext(ctx, `
		DELETE FROM instance_pairs
		WHERE source_instance_id = ? OR target_instance_id = ?
	`, id, id)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to delete pairs", err)
	}

	instRes, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
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
func (s *sqliteStorage) SavePair(ctx context.Context, pair *domain.InstancePair) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_pairs (
			id, name, source_instance_id, target_instance_id, direction,
			enabled, only_protected_branches, keep_divergent_refs, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			direction = excluded.direction,
			enabled = excluded.enabled,
			only_protected_branches = excluded.only_protected_branches,
			keep_divergent_refs = excluded.keep_divergent_refs,
			updated_at = excluded.updated_at
	`, pair.ID, pair.Name, pair.SourceInstanceID, pair.TargetInstanceID, string(pair.Direction),
		pair.Enabled, pair.OnlyProtectedBranches, pair.KeepDivergentRefs, pair.CreatedAt, pair.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pair: %w", err)
	}
	return nil
}

// GetPair retrieves an instance pair by ID
func (s *sqliteStorage) GetPair(ctx context.Context, id string) (*domain.InstancePair, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_instance_id, target_instance_id, direction,
		       enabled, only_protected_branches, keep_divergent_refs, created_at, updated_at
		FROM instance_pairs WHERE id = ?
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
func (s *sqliteStorage) ListPairs(ctx context.Context) ([]*domain.InstancePair, error) {
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
func (s *sqliteStorage) DeletePair(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError("failed to begin pair delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mirrors WHERE pair_id = ?`, id); err != nil {
		return apperrors.NewPersistenceError("failed to delete pair mirrors", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM instance_pairs WHERE id = ?`, id)
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
func (s *sqliteStorage) SaveMirror(ctx context.Context, mirror *domain.Mirror) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirrors (
			id, pair_id, host_project_id, remote_url, direction, remote_mirror_id,
			enabled, update_status, last_error, last_synced_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_url = excluded.remote_url,
			remote_mirror_id = excluded.remote_mirror_id,
			enabled = excluded.enabled,
			update_status = excluded.update_status,
			last_error = excluded.last_error,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at
	`, mirror.ID, mirror.PairID, mirror.HostProjectID, mirror.RemoteURL, string(mirror.Direction),
		mirror.RemoteMirrorID, mirror.Enabled, mirror.UpdateStatus, mirror.LastError,
		mirror.LastSyncedAt, mirror.CreatedAt, mirror.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mirror: %w", err)
	}
	return nil
}

// GetMirror retrieves a mirror by ID
func (s *sqliteStorage) GetMirror(ctx context.Context, id string) (*domain.Mirror, error) {
	row := s.db.QueryRowContext(ctx, mirrorSelect+` WHERE id = ?`, id)
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
func (s *sqliteStorage) ListMirrorsByPair(ctx context.Context, pairID string) ([]*domain.Mirror, error) {
	return s.listMirrors(ctx, mirrorSelect+` WHERE pair_id = ? ORDER BY created_at, id`, pairID)
}

// ListMirrorsByInstance retrieves mirrors whose pair references the instance
// on either side, in creation order
func (s *sqliteStorage) ListMirrorsByInstance(ctx context.Context, instanceID string) ([]*domain.Mirror, error) {
	return s.listMirrors(ctx, mirrorSelect+`
		WHERE pair_id IN (
			SELECT id FROM instance_pairs
			WHERE source_instance_id = ? OR target_instance_id = ?
		)
		ORDER BY created_at, id
	`, instanceID, instanceID)
}

// UpdateMirrorStatus persists the result of a status poll
func (s *sqliteStorage) UpdateMirrorStatus(ctx context.Context, id, status, lastError string, syncedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mirrors
		SET update_status = ?, last_error = ?, last_synced_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
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
func (s *sqliteStorage) DeleteMirror(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mirrors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mirror: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("mirror")
	}
	return nil
}

// DeleteMirrors deletes a set of mirror rows in one transaction
func (s *sqliteStorage) DeleteMirrors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM mirrors WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return apperrors.NewPersistenceError("failed to delete mirrors", err)
	}
	return nil
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
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

func (s *sqliteStorage) listMirrors(ctx context.Context, query string, args ...interface{}) ([]*domain.Mirror, error) {
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
