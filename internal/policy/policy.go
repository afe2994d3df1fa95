package policy

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SchemaVersion is the only policy file version this build reads or writes.
const SchemaVersion = 1

// MonitorMethod selects the eviction policy applied to a target.
type MonitorMethod string

const (
	// MethodAge evicts files older than MaxFileAgeDays.
	MethodAge MonitorMethod = "age"
	// MethodSize evicts by age first, then oldest-first until the target
	// fits in MaxSizeBytes.
	MethodSize MonitorMethod = "size"
)

var (
	// ErrNotFound is returned when no policy file exists for an id.
	ErrNotFound = errors.New("policy not found")
	// ErrConflict is returned when a policy's target is already owned by
	// another policy.
	ErrConflict = errors.New("policy conflict")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Guard reports whether a path is off limits and resolves a path to the
// directory it actually names.
type Guard interface {
	IsProtected(path string) bool
	Normalize(path string) (string, error)
}

// DirectoryPolicy describes how one target directory is indexed and evicted.
type DirectoryPolicy struct {
	ID             string        `toml:"-" json:"id"`
	Version        int           `toml:"version" json:"version"`
	TargetPath     string        `toml:"target_path" json:"target_path"`
	MonitorMethod  MonitorMethod `toml:"monitor_method" json:"monitor_method"`
	MaxFileAgeDays int           `toml:"max_file_age_days" json:"max_file_age_days"`
	MaxSizeBytes   int64         `toml:"max_size_bytes,omitempty" json:"max_size_bytes,omitempty"`
	MaxDepth       *int          `toml:"max_depth,omitempty" json:"max_depth,omitempty"`
	Remove         bool          `toml:"remove" json:"remove"`
}

// DryRun reports whether the policy only logs what it would delete.
func (p DirectoryPolicy) DryRun() bool {
	return !p.Remove
}

// MaxAge returns the age threshold as a duration.
func (p DirectoryPolicy) MaxAge() time.Duration {
	return time.Duration(p.MaxFileAgeDays) * 24 * time.Hour
}

// Cutoff returns the modification time before which files count as expired.
func (p DirectoryPolicy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.MaxAge())
}

// DepthLabel renders MaxDepth for display.
func (p DirectoryPolicy) DepthLabel() string {
	if p.MaxDepth == nil {
		return "top-level"
	}
	return fmt.Sprintf("%d", *p.MaxDepth)
}

// ValidationError lists every problem found in one policy.
type ValidationError struct {
	ID       string
	Problems []string
}

func (e *ValidationError) Error() string {
	label := e.ID
	if label == "" {
		label = "policy"
	}
	return fmt.Sprintf("invalid %s: %s", label, strings.Join(e.Problems, "; "))
}

// Validate checks the policy against the schema and the guard. It cleans
// TargetPath in place.
func (p *DirectoryPolicy) Validate(guard Guard) error {
	var problems []string
	if !idPattern.MatchString(p.ID) {
		problems = append(problems, fmt.Sprintf("id %q must be 1-128 characters of letters, digits, '.', '_' or '-'", p.ID))
	}
	if p.Version != SchemaVersion {
		problems = append(problems, fmt.Sprintf("version must be %d, got %d", SchemaVersion, p.Version))
	}

	target := strings.TrimSpace(p.TargetPath)
	switch {
	case target == "":
		problems = append(problems, "target_path is required")
	case !filepath.IsAbs(target):
		problems = append(problems, fmt.Sprintf("target_path %q must be absolute", target))
	default:
		p.TargetPath = filepath.Clean(target)
		if guard != nil && guard.IsProtected(p.TargetPath) {
			problems = append(problems, fmt.Sprintf("target_path %q is a protected system path", p.TargetPath))
		}
	}

	switch p.MonitorMethod {
	case MethodAge:
	case MethodSize:
		if p.MaxSizeBytes <= 0 {
			problems = append(problems, "max_size_bytes must be positive for monitor_method \"size\"")
		}
	default:
		problems = append(problems, fmt.Sprintf("monitor_method must be %q or %q, got %q", MethodAge, MethodSize, p.MonitorMethod))
	}
	if p.MaxFileAgeDays <= 0 {
		problems = append(problems, "max_file_age_days must be positive")
	}
	if p.MaxSizeBytes < 0 {
		problems = append(problems, "max_size_bytes must not be negative")
	}
	if p.MaxDepth != nil && *p.MaxDepth < 0 {
		problems = append(problems, "max_depth must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{ID: p.ID, Problems: problems}
	}
	return nil
}

// Overlaps reports whether two cleaned absolute paths are equal or nested.
func Overlaps(a, b string) bool {
	if a == b {
		return true
	}
	return within(a, b) || within(b, a)
}

func within(parent, child string) bool {
	if parent == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
