//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"notion_mirror/internal/domain"
)

func ptr[T any](v T) *T { return &v }

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_records.up.sql"),
			filepath.Join(migrationsPath, "002_create_sync_meta.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM records")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_meta")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func testRecord(notionID string, lastModified time.Time) *domain.Record {
	return &domain.Record{
		DatabaseID: "test-db",
		NotionID:   notionID,
		Title:      "Task " + notionID,
		Properties: domain.Properties{
			Week:        ptr(3.0),
			Phase:       ptr("Foundation"),
			Status:      ptr("In Progress"),
			Priority:    ptr("P0"),
			Category:    []string{"infra", "backend"},
			Description: ptr("do the work"),
			DueDate:     ptr("2025-07-01"),
		},
		CreatedTime:  lastModified.Add(-24 * time.Hour),
		LastModified: lastModified,
		URL:          "https://notion.so/" + notionID,
	}
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_Insert() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	id, err := store.Upsert(s.ctx, testRecord("p1", now), false)
	s.NoError(err)
	s.Greater(id, int64(0))

	var count int
	err = s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM records WHERE database_id = $1 AND notion_id = $2", "test-db", "p1")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_UpdateWhenNewer() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)
	older := now.Add(-1 * time.Hour)

	record := testRecord("p1", older)
	id1, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	record.Title = "Updated Title"
	record.LastModified = now
	id2, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)
	s.Equal(id1, id2)

	var title string
	err = s.db.GetContext(s.ctx, &title, "SELECT title FROM records WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("Updated Title", title)
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_SkipWhenOlder() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)
	older := now.Add(-1 * time.Hour)

	record := testRecord("p1", now)
	record.Title = "Newer Title"
	id1, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	record.Title = "Older Title"
	record.LastModified = older
	id2, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)
	s.Equal(id1, id2)

	var title string
	err = s.db.GetContext(s.ctx, &title, "SELECT title FROM records WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("Newer Title", title)
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_TieKeepsStored() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	record := testRecord("p1", now)
	record.Title = "First Write"
	id1, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	record.Title = "Second Write"
	id2, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)
	s.Equal(id1, id2)

	var title string
	err = s.db.GetContext(s.ctx, &title, "SELECT title FROM records WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("First Write", title)
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_ForceOverwritesOlder() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)
	older := now.Add(-1 * time.Hour)

	record := testRecord("p1", now)
	record.Title = "Newer Title"
	id1, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	record.Title = "Forced Title"
	record.LastModified = older
	id2, err := store.Upsert(s.ctx, record, true)
	s.NoError(err)
	s.Equal(id1, id2)

	var title string
	err = s.db.GetContext(s.ctx, &title, "SELECT title FROM records WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("Forced Title", title)
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_CreatedTimeImmutable() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)
	older := now.Add(-1 * time.Hour)

	record := testRecord("p1", older)
	originalCreated := record.CreatedTime
	id, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	record.CreatedTime = now
	record.LastModified = now
	_, err = store.Upsert(s.ctx, record, false)
	s.NoError(err)

	var created time.Time
	err = s.db.GetContext(s.ctx, &created, "SELECT created_time FROM records WHERE id = $1", id)
	s.NoError(err)
	s.WithinDuration(originalCreated, created, time.Second)
}

func (s *PostgresIntegrationSuite) TestRecordStore_Upsert_RoundTripsProperties() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	record := testRecord("p1", now)
	_, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	records, err := store.List(s.ctx, "test-db", domain.RecordFilter{})
	s.NoError(err)
	s.Require().Len(records, 1)

	got := records[0]
	s.Equal("p1", got.NotionID)
	s.Require().NotNil(got.Properties.Week)
	s.Equal(3.0, *got.Properties.Week)
	s.Require().NotNil(got.Properties.Status)
	s.Equal("In Progress", *got.Properties.Status)
	s.Equal([]string{"infra", "backend"}, []string(got.Properties.Category))
	s.Require().NotNil(got.Properties.DueDate)
	s.Equal("2025-07-01", *got.Properties.DueDate)
	s.Equal("https://notion.so/p1", got.URL)
}

func (s *PostgresIntegrationSuite) TestRecordStore_GetExisting_ReturnsCorrectMap() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := store.Upsert(s.ctx, testRecord(id, now), false)
		s.NoError(err)
	}

	result, err := store.GetExistingByNotionIDs(s.ctx, "test-db", []string{"p1", "p2", "missing"})
	s.NoError(err)
	s.Len(result, 2)
	s.Contains(result, "p1")
	s.Contains(result, "p2")
	s.NotContains(result, "missing")
	s.WithinDuration(now, result["p1"], time.Second)
}

func (s *PostgresIntegrationSuite) TestRecordStore_GetExisting_DifferentDatabases() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	record := testRecord("p1", now)
	_, err := store.Upsert(s.ctx, record, false)
	s.NoError(err)

	other := testRecord("p1", now)
	other.DatabaseID = "other-db"
	_, err = store.Upsert(s.ctx, other, false)
	s.NoError(err)

	result, err := store.GetExistingByNotionIDs(s.ctx, "test-db", []string{"p1"})
	s.NoError(err)
	s.Len(result, 1)

	result, err = store.GetExistingByNotionIDs(s.ctx, "unknown-db", []string{"p1"})
	s.NoError(err)
	s.Len(result, 0)
}

func (s *PostgresIntegrationSuite) TestRecordStore_ArchiveMissing() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := store.Upsert(s.ctx, testRecord(id, now), false)
		s.NoError(err)
	}

	archived, err := store.ArchiveMissing(s.ctx, "test-db", []string{"p1", "p3"})
	s.NoError(err)
	s.Equal(int64(1), archived)

	var isArchived bool
	err = s.db.GetContext(s.ctx, &isArchived,
		"SELECT is_archived FROM records WHERE database_id = $1 AND notion_id = $2", "test-db", "p2")
	s.NoError(err)
	s.True(isArchived)

	// Idempotent: already-archived rows are not counted again.
	archived, err = store.ArchiveMissing(s.ctx, "test-db", []string{"p1", "p3"})
	s.NoError(err)
	s.Equal(int64(0), archived)
}

func (s *PostgresIntegrationSuite) TestRecordStore_List_Filters() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	done := testRecord("p1", now)
	done.Properties.Status = ptr("Done")
	done.Properties.Week = ptr(1.0)
	_, err := store.Upsert(s.ctx, done, false)
	s.NoError(err)

	inProgress := testRecord("p2", now)
	_, err = store.Upsert(s.ctx, inProgress, false)
	s.NoError(err)

	records, err := store.List(s.ctx, "test-db", domain.RecordFilter{Status: ptr("Done")})
	s.NoError(err)
	s.Require().Len(records, 1)
	s.Equal("p1", records[0].NotionID)

	records, err = store.List(s.ctx, "test-db", domain.RecordFilter{
		Status: ptr("In Progress"),
		Week:   ptr(3.0),
	})
	s.NoError(err)
	s.Require().Len(records, 1)
	s.Equal("p2", records[0].NotionID)

	records, err = store.List(s.ctx, "test-db", domain.RecordFilter{Status: ptr("Blocked")})
	s.NoError(err)
	s.Len(records, 0)
}

func (s *PostgresIntegrationSuite) TestRecordStore_List_ExcludesArchived() {
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	live := testRecord("p1", now)
	_, err := store.Upsert(s.ctx, live, false)
	s.NoError(err)

	archived := testRecord("p2", now)
	archived.IsArchived = true
	_, err = store.Upsert(s.ctx, archived, false)
	s.NoError(err)

	records, err := store.List(s.ctx, "test-db", domain.RecordFilter{})
	s.NoError(err)
	s.Require().Len(records, 1)
	s.Equal("p1", records[0].NotionID)
}

func (s *PostgresIntegrationSuite) TestSyncMetaStore_GetMissing() {
	store := NewSyncMetaStore(s.db)

	meta, err := store.Get(s.ctx, "never-synced-db")
	s.NoError(err)
	s.Nil(meta)
}

func (s *PostgresIntegrationSuite) TestSyncMetaStore_UpdateAndGet() {
	store := NewSyncMetaStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	meta := &domain.SyncMeta{
		DatabaseID:   "test-db",
		Status:       domain.StatusSuccess,
		LastSyncTime: now,
		RecordCount:  42,
		TotalSynced:  100,
	}
	s.NoError(store.Update(s.ctx, meta))

	retrieved, err := store.Get(s.ctx, "test-db")
	s.NoError(err)
	s.Require().NotNil(retrieved)
	s.Equal(domain.StatusSuccess, retrieved.Status)
	s.Equal(42, retrieved.RecordCount)
	s.Equal(int64(100), retrieved.TotalSynced)
	s.Nil(retrieved.ErrorMessage)
	s.WithinDuration(now, retrieved.LastSyncTime, time.Second)
}

func (s *PostgresIntegrationSuite) TestSyncMetaStore_UpdateExisting() {
	store := NewSyncMetaStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	meta := &domain.SyncMeta{
		DatabaseID:   "test-db",
		Status:       domain.StatusRunning,
		LastSyncTime: now.Add(-1 * time.Hour),
		TotalSynced:  10,
	}
	s.NoError(store.Update(s.ctx, meta))

	msg := "fetch failed"
	meta.Status = domain.StatusError
	meta.ErrorMessage = &msg
	s.NoError(store.Update(s.ctx, meta))

	retrieved, err := store.Get(s.ctx, "test-db")
	s.NoError(err)
	s.Require().NotNil(retrieved)
	s.Equal(domain.StatusError, retrieved.Status)
	s.Require().NotNil(retrieved.ErrorMessage)
	s.Equal("fetch failed", *retrieved.ErrorMessage)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM sync_meta")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := store.Upsert(ctx, testRecord("tx-commit", now), false)
		return err
	})
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM records WHERE notion_id = $1", "tx-commit")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	store := NewRecordStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := store.Upsert(ctx, testRecord("tx-rollback", now), false); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM records WHERE notion_id = $1", "tx-rollback")
	s.NoError(err)
	s.Equal(0, count)
}
