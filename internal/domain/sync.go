package domain

import "time"

// SyncStatus is the lifecycle state of a database's sync metadata.
type SyncStatus string

const (
	StatusNeverSynced SyncStatus = "never_synced"
	StatusRunning     SyncStatus = "running"
	StatusSuccess     SyncStatus = "success"
	StatusError       SyncStatus = "error"
)

// SyncMode selects between refetching everything and only records changed
// since the watermark.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// SyncMeta tracks sync state for one Notion database. LastSyncTime is the
// completion time of the last successful sync and doubles as the incremental
// watermark; it is never advanced by a running or failed sync.
type SyncMeta struct {
	ID           int64      `db:"id" json:"-"`
	DatabaseID   string     `db:"database_id" json:"databaseId"`
	Status       SyncStatus `db:"status" json:"status"`
	LastSyncTime time.Time  `db:"last_sync_time" json:"lastSyncTime"`
	RecordCount  int        `db:"record_count" json:"recordCount"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage,omitempty"`
	TotalSynced  int64      `db:"total_synced" json:"totalSynced"`
}

// SyncResult holds the outcome of a single sync run.
type SyncResult struct {
	DatabaseID  string        `json:"databaseId"`
	Mode        SyncMode      `json:"mode"`
	Fetched     int           `json:"fetched"`
	Inserted    int           `json:"inserted"`
	Updated     int           `json:"updated"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Archived    int64         `json:"archived"`
	Published   int           `json:"published"`
	Retrying    bool          `json:"retrying"`
	NextAttempt int           `json:"nextAttempt,omitempty"`
	InFlight    bool          `json:"inFlight"`
	Duration    time.Duration `json:"-"`
}
