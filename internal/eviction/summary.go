package eviction

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"cleanupd/internal/index"
	"cleanupd/internal/result"
)

// Phase names the rule that selected a file.
type Phase string

const (
	PhaseAge  Phase = "age"
	PhaseSize Phase = "size"
)

// FileResult is the outcome for one candidate file. On a dry run every
// candidate is Skipped.
type FileResult struct {
	Path    string         `json:"path"`
	Phase   Phase          `json:"phase"`
	Size    int64          `json:"size"`
	Outcome result.Outcome `json:"outcome"`
	Err     error          `json:"-"`
}

// Summary is what one Evict call did to one target.
type Summary struct {
	PolicyID       string        `json:"policy_id"`
	Target         string        `json:"target"`
	Status         index.Status  `json:"status"`
	DryRun         bool          `json:"dry_run"`
	FilesByAge     int           `json:"files_by_age"`
	FilesBySize    int           `json:"files_by_size"`
	BytesByAge     int64         `json:"bytes_by_age"`
	BytesBySize    int64         `json:"bytes_by_size"`
	FilesFailed    int           `json:"files_failed"`
	RemainingBytes int64         `json:"remaining_bytes"`
	Files          []FileResult  `json:"files,omitempty"`
	Message        string        `json:"message"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// BytesTotal is the sum over both phases.
func (s Summary) BytesTotal() int64 {
	return s.BytesByAge + s.BytesBySize
}

// FilesTotal is the number of files removed (or that would be) over both
// phases.
func (s Summary) FilesTotal() int {
	return s.FilesByAge + s.FilesBySize
}

// Outcome maps the history status onto the shared outcome vocabulary.
func (s Summary) Outcome() result.Outcome {
	if s.Status == index.StatusFailed {
		return result.Failed
	}
	return result.Success
}

// Record converts the summary into the history row appended for it.
func (s Summary) Record(runID string, at time.Time) index.HistoryRecord {
	return index.HistoryRecord{
		RunID:              runID,
		RunTimestamp:       at,
		TargetPath:         s.Target,
		Status:             s.Status,
		FilesRemovedByAge:  s.FilesByAge,
		FilesRemovedBySize: s.FilesBySize,
		BytesRemovedByAge:  s.BytesByAge,
		BytesRemovedBySize: s.BytesBySize,
		BytesRemovedTotal:  s.BytesTotal(),
		FilesFailed:        s.FilesFailed,
		Message:            s.Message,
	}
}

// Failed builds the summary for a target that was rejected before any work
// started.
func Failed(policyID, target string, err error) Summary {
	return Summary{
		PolicyID: policyID,
		Target:   target,
		Status:   index.StatusFailed,
		Message:  err.Error(),
		Err:      err,
	}
}

func (s *Summary) describe() string {
	verb := "removed"
	if s.DryRun {
		verb = "would remove"
	}
	parts := []string{fmt.Sprintf("%s %d files (%s)", verb, s.FilesTotal(), humanize.IBytes(uint64(s.BytesTotal())))}
	if s.FilesBySize > 0 {
		parts = append(parts, fmt.Sprintf("%d by quota", s.FilesBySize))
	}
	if s.FilesFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.FilesFailed))
	}
	return strings.Join(parts, ", ")
}
