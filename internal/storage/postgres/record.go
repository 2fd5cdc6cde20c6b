package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"notion_mirror/internal/domain"
)

type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

type recordRow struct {
	ID              int64          `db:"id"`
	DatabaseID      string         `db:"database_id"`
	NotionID        string         `db:"notion_id"`
	Title           string         `db:"title"`
	Week            *float64       `db:"week"`
	Phase           *string        `db:"phase"`
	PhaseNumber     *float64       `db:"phase_number"`
	Status          *string        `db:"status"`
	Priority        *string        `db:"priority"`
	Assignee        *string        `db:"assignee"`
	Category        pq.StringArray `db:"category"`
	Description     *string        `db:"description"`
	SuccessCriteria *string        `db:"success_criteria"`
	Dependencies    *string        `db:"dependencies"`
	Risks           *string        `db:"risks"`
	DueDate         *string        `db:"due_date"`
	CreatedTime     time.Time      `db:"created_time"`
	LastModified    time.Time      `db:"last_modified"`
	IsArchived      bool           `db:"is_archived"`
	URL             string         `db:"url"`
}

func (r recordRow) toDomain() domain.Record {
	return domain.Record{
		ID:         r.ID,
		DatabaseID: r.DatabaseID,
		NotionID:   r.NotionID,
		Title:      r.Title,
		Properties: domain.Properties{
			Week:            r.Week,
			Phase:           r.Phase,
			PhaseNumber:     r.PhaseNumber,
			Status:          r.Status,
			Priority:        r.Priority,
			Assignee:        r.Assignee,
			Category:        r.Category,
			Description:     r.Description,
			SuccessCriteria: r.SuccessCriteria,
			Dependencies:    r.Dependencies,
			Risks:           r.Risks,
			DueDate:         r.DueDate,
		},
		CreatedTime:  r.CreatedTime,
		LastModified: r.LastModified,
		IsArchived:   r.IsArchived,
		URL:          r.URL,
	}
}

// Upsert inserts the record or updates the existing row for the same
// (database_id, notion_id). Without force, the update only lands when the
// incoming last_modified is strictly newer; ties keep the stored copy.
// created_time is never part of the update set.
func (s *RecordStore) Upsert(ctx context.Context, record *domain.Record, force bool) (int64, error) {
	guard := "WHERE records.last_modified < EXCLUDED.last_modified"
	if force {
		guard = ""
	}

	query := fmt.Sprintf(`
		INSERT INTO records (
			database_id, notion_id, title,
			week, phase, phase_number, status, priority, assignee, category,
			description, success_criteria, dependencies, risks, due_date,
			created_time, last_modified, is_archived, url
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (database_id, notion_id) DO UPDATE SET
			title = EXCLUDED.title,
			week = EXCLUDED.week,
			phase = EXCLUDED.phase,
			phase_number = EXCLUDED.phase_number,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			assignee = EXCLUDED.assignee,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			success_criteria = EXCLUDED.success_criteria,
			dependencies = EXCLUDED.dependencies,
			risks = EXCLUDED.risks,
			due_date = EXCLUDED.due_date,
			last_modified = EXCLUDED.last_modified,
			is_archived = EXCLUDED.is_archived,
			url = EXCLUDED.url
		%s
		RETURNING id`, guard)

	exec := GetExecutor(ctx, s.db)
	p := record.Properties

	var id int64
	err := exec.QueryRowxContext(ctx, query,
		record.DatabaseID,
		record.NotionID,
		record.Title,
		p.Week,
		p.Phase,
		p.PhaseNumber,
		p.Status,
		p.Priority,
		p.Assignee,
		pq.Array(p.Category),
		p.Description,
		p.SuccessCriteria,
		p.Dependencies,
		p.Risks,
		p.DueDate,
		record.CreatedTime,
		record.LastModified,
		record.IsArchived,
		record.URL,
	).Scan(&id)

	if err == sql.ErrNoRows {
		// Guarded update did not fire; the stored row is as new or newer.
		err = exec.QueryRowxContext(ctx,
			"SELECT id FROM records WHERE database_id = $1 AND notion_id = $2",
			record.DatabaseID, record.NotionID,
		).Scan(&id)
	}

	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetExistingByNotionIDs returns notion_id → last_modified for the stored
// records among ids.
func (s *RecordStore) GetExistingByNotionIDs(ctx context.Context, databaseID string, ids []string) (map[string]time.Time, error) {
	if len(ids) == 0 {
		return make(map[string]time.Time), nil
	}

	query := `SELECT notion_id, last_modified FROM records WHERE database_id = $1 AND notion_id = ANY($2)`

	exec := GetExecutor(ctx, s.db)
	rows, err := exec.QueryxContext(ctx, query, databaseID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var notionID string
		var lastMod time.Time
		if err := rows.Scan(&notionID, &lastMod); err != nil {
			return nil, err
		}
		result[notionID] = lastMod
	}

	return result, rows.Err()
}

// ArchiveMissing soft-deletes live records of the database whose notion_id is
// not in keep. Called after a successful full sync, where keep is the
// complete upstream page set.
func (s *RecordStore) ArchiveMissing(ctx context.Context, databaseID string, keep []string) (int64, error) {
	query := `
		UPDATE records
		SET is_archived = TRUE
		WHERE database_id = $1
		  AND is_archived = FALSE
		  AND NOT (notion_id = ANY($2))`

	exec := GetExecutor(ctx, s.db)
	res, err := exec.ExecContext(ctx, query, databaseID, pq.Array(keep))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns the database's live records matching every set filter field.
func (s *RecordStore) List(ctx context.Context, databaseID string, filter domain.RecordFilter) ([]domain.Record, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, database_id, notion_id, title,
			week, phase, phase_number, status, priority, assignee, category,
			description, success_criteria, dependencies, risks, due_date,
			created_time, last_modified, is_archived, url
		FROM records
		WHERE database_id = $1 AND is_archived = FALSE`)

	args := []any{databaseID}
	addCond := func(column string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND %s = $%d", column, len(args))
	}

	if filter.Status != nil {
		addCond("status", *filter.Status)
	}
	if filter.Phase != nil {
		addCond("phase", *filter.Phase)
	}
	if filter.Priority != nil {
		addCond("priority", *filter.Priority)
	}
	if filter.Week != nil {
		addCond("week", *filter.Week)
	}

	var rows []recordRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, sb.String(), args...); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}
