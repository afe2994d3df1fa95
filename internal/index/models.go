package index

import "time"

// Entry is one indexed file.
type Entry struct {
	Path       string
	TargetPath string
	ModTime    time.Time
	Size       int64
}

// Status is the outcome recorded for one target in one eviction run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDryRun  Status = "dry_run"
	StatusFailed  Status = "failed"
)

// HistoryRecord is one row of the append-only cleanup audit trail.
type HistoryRecord struct {
	ID                 int64     `json:"id"`
	RunID              string    `json:"run_id"`
	RunTimestamp       time.Time `json:"run_timestamp"`
	TargetPath         string    `json:"target_path"`
	Status             Status    `json:"status"`
	FilesRemovedByAge  int       `json:"files_removed_by_age"`
	FilesRemovedBySize int       `json:"files_removed_by_size"`
	BytesRemovedByAge  int64     `json:"bytes_removed_by_age"`
	BytesRemovedBySize int64     `json:"bytes_removed_by_size"`
	BytesRemovedTotal  int64     `json:"bytes_removed_total"`
	FilesFailed        int       `json:"files_failed"`
	Message            string    `json:"message"`
}

// TargetStats summarizes the index for one target.
type TargetStats struct {
	TargetPath  string    `json:"target_path"`
	Entries     int64     `json:"entries"`
	TotalBytes  int64     `json:"total_bytes"`
	RefreshedAt time.Time `json:"refreshed_at"`
	PrunedDirs  int       `json:"pruned_dirs"`
}

// Stats summarizes the whole index.
type Stats struct {
	TotalEntries  int64         `json:"total_entries"`
	TotalBytes    int64         `json:"total_bytes"`
	LastRefreshed time.Time     `json:"last_refreshed"`
	Targets       []TargetStats `json:"targets"`
}

// DatabaseHealth reports on the database file itself.
type DatabaseHealth struct {
	DBPath         string `json:"db_path"`
	DatabaseExists bool   `json:"database_exists"`
	JournalMode    string `json:"journal_mode"`
	IntegrityCheck string `json:"integrity_check"`
	SchemaVersion  int    `json:"schema_version"`
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
