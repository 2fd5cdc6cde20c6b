package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"notion_mirror/internal/domain"
)

type Source interface {
	DatabaseID() string
	FetchChanges(ctx context.Context, since time.Time) ([]domain.Record, error)
}

type RecordStore interface {
	Upsert(ctx context.Context, record *domain.Record, force bool) (int64, error)
	GetExistingByNotionIDs(ctx context.Context, databaseID string, ids []string) (map[string]time.Time, error)
	ArchiveMissing(ctx context.Context, databaseID string, keep []string) (int64, error)
	List(ctx context.Context, databaseID string, filter domain.RecordFilter) ([]domain.Record, error)
}

type SyncMetaStore interface {
	Get(ctx context.Context, databaseID string) (*domain.SyncMeta, error)
	Update(ctx context.Context, meta *domain.SyncMeta) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, record *domain.Record, isNew bool) error
	Close() error
}
