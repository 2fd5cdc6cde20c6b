package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"notion_mirror/internal/domain"
)

type SyncMetaStore struct {
	db *sqlx.DB
}

func NewSyncMetaStore(db *sqlx.DB) *SyncMetaStore {
	return &SyncMetaStore{db: db}
}

// Get returns the sync metadata for the database, or nil when it has never
// been synced.
func (s *SyncMetaStore) Get(ctx context.Context, databaseID string) (*domain.SyncMeta, error) {
	var meta domain.SyncMeta
	query := `
		SELECT id, database_id, status, last_sync_time, record_count, error_message, total_synced
		FROM sync_meta
		WHERE database_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &meta, query, databaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// Update creates or replaces the database's sync metadata row in place.
func (s *SyncMetaStore) Update(ctx context.Context, meta *domain.SyncMeta) error {
	query := `
		INSERT INTO sync_meta (database_id, status, last_sync_time, record_count, error_message, total_synced)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (database_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_sync_time = EXCLUDED.last_sync_time,
			record_count = EXCLUDED.record_count,
			error_message = EXCLUDED.error_message,
			total_synced = EXCLUDED.total_synced`

	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx, query,
		meta.DatabaseID,
		meta.Status,
		meta.LastSyncTime,
		meta.RecordCount,
		meta.ErrorMessage,
		meta.TotalSynced,
	)
	return err
}
