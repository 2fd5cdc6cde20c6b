package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"notion_mirror/internal/domain"
)

// QueryService is the read-only view over mirrored records and sync metadata.
// It never touches sync state and is safe to call during an in-flight sync;
// callers may observe a mix of pre- and post-sync rows.
type QueryService struct {
	records  RecordStore
	syncMeta SyncMetaStore
	database string
	logger   *slog.Logger
}

func NewQueryService(records RecordStore, syncMeta SyncMetaStore, databaseID string, logger *slog.Logger) *QueryService {
	return &QueryService{
		records:  records,
		syncMeta: syncMeta,
		database: databaseID,
		logger:   logger.With("database_id", databaseID),
	}
}

// ListRecords returns live records matching the filters, sorted by the
// requested field (lastModified descending by default) and truncated to
// Limit when positive.
func (q *QueryService) ListRecords(ctx context.Context, opts domain.ListOptions) ([]domain.Record, error) {
	records, err := q.records.List(ctx, q.database, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "lastModified"
	}
	direction := opts.SortDirection
	if direction == "" {
		direction = domain.SortDesc
	}

	sort.SliceStable(records, func(i, j int) bool {
		cmp := compareRecords(&records[i], &records[j], sortBy)
		if direction == domain.SortDesc {
			return cmp > 0
		}
		return cmp < 0
	})

	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	return records, nil
}

// SyncStatus returns the database's sync metadata, or a never_synced default
// when no sync has ever been attempted.
func (q *QueryService) SyncStatus(ctx context.Context) (*domain.SyncMeta, error) {
	meta, err := q.syncMeta.Get(ctx, q.database)
	if err != nil {
		return nil, fmt.Errorf("get sync meta: %w", err)
	}
	if meta == nil {
		return &domain.SyncMeta{
			DatabaseID: q.database,
			Status:     domain.StatusNeverSynced,
		}, nil
	}
	return meta, nil
}

// compareRecords orders two records by a top-level field or a property.
// Missing values compare as the empty string, so they sort first ascending.
func compareRecords(a, b *domain.Record, field string) int {
	switch field {
	case "lastModified":
		return a.LastModified.Compare(b.LastModified)
	case "createdTime":
		return a.CreatedTime.Compare(b.CreatedTime)
	case "title":
		return strings.Compare(a.Title, b.Title)
	}

	av, aNum, aOK := propertyValue(&a.Properties, field)
	bv, bNum, bOK := propertyValue(&b.Properties, field)

	switch {
	case !aOK && !bOK:
		return 0
	case !aOK:
		return -1
	case !bOK:
		return 1
	case aNum != nil && bNum != nil:
		switch {
		case *aNum < *bNum:
			return -1
		case *aNum > *bNum:
			return 1
		}
		return 0
	default:
		return strings.Compare(av, bv)
	}
}

// propertyValue extracts a sortable property. Numeric fields come back with
// num set; everything else compares as a string. ok is false when the value
// is absent.
func propertyValue(p *domain.Properties, field string) (str string, num *float64, ok bool) {
	strVal := func(v *string) (string, *float64, bool) {
		if v == nil {
			return "", nil, false
		}
		return *v, nil, true
	}
	numVal := func(v *float64) (string, *float64, bool) {
		if v == nil {
			return "", nil, false
		}
		return fmt.Sprintf("%v", *v), v, true
	}

	switch field {
	case "week":
		return numVal(p.Week)
	case "phaseNumber":
		return numVal(p.PhaseNumber)
	case "phase":
		return strVal(p.Phase)
	case "status":
		return strVal(p.Status)
	case "priority":
		return strVal(p.Priority)
	case "assignee":
		return strVal(p.Assignee)
	case "description":
		return strVal(p.Description)
	case "successCriteria":
		return strVal(p.SuccessCriteria)
	case "dependencies":
		return strVal(p.Dependencies)
	case "risks":
		return strVal(p.Risks)
	case "dueDate":
		return strVal(p.DueDate)
	case "category":
		if len(p.Category) == 0 {
			return "", nil, false
		}
		return strings.Join(p.Category, ","), nil, true
	default:
		return "", nil, false
	}
}
