package domain

import "time"

// Record is one mirrored Notion page. Exactly one Record exists per
// (DatabaseID, NotionID) pair; CreatedTime is fixed at first insert and
// survives later updates even if Notion reports a different value.
type Record struct {
	ID           int64      `json:"id"`
	DatabaseID   string     `json:"databaseId"`
	NotionID     string     `json:"notionId"`
	Title        string     `json:"title"`
	Properties   Properties `json:"properties"`
	CreatedTime  time.Time  `json:"createdTime"`
	LastModified time.Time  `json:"lastModified"`
	IsArchived   bool       `json:"isArchived"`
	URL          string     `json:"url"`
}

// Properties are the timeline fields extracted from a Notion page. Nil means
// the property was absent or could not be resolved; extraction never fails.
type Properties struct {
	Week            *float64 `json:"week,omitempty"`
	Phase           *string  `json:"phase,omitempty"`
	PhaseNumber     *float64 `json:"phaseNumber,omitempty"`
	Status          *string  `json:"status,omitempty"`
	Priority        *string  `json:"priority,omitempty"`
	Assignee        *string  `json:"assignee,omitempty"`
	Category        []string `json:"category,omitempty"`
	Description     *string  `json:"description,omitempty"`
	SuccessCriteria *string  `json:"successCriteria,omitempty"`
	Dependencies    *string  `json:"dependencies,omitempty"`
	Risks           *string  `json:"risks,omitempty"`
	DueDate         *string  `json:"dueDate,omitempty"`
}

// RecordFilter holds exact-match predicates for record listings. Nil fields
// are ignored; archived records are always excluded.
type RecordFilter struct {
	Status   *string
	Phase    *string
	Priority *string
	Week     *float64
}

// SortDirection for record listings.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ListOptions control filtering, ordering and truncation of record listings.
// Zero values fall back to lastModified descending, unlimited.
type ListOptions struct {
	Filter        RecordFilter
	SortBy        string
	SortDirection SortDirection
	Limit         int
}
