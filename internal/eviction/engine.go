package eviction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
	"cleanupd/internal/result"
)

// Index is the slice of the index store the engine reads and prunes.
type Index interface {
	Expired(ctx context.Context, target string, cutoff time.Time) ([]index.Entry, error)
	Fresh(ctx context.Context, target string, cutoff time.Time) ([]index.Entry, error)
	FreshBytes(ctx context.Context, target string, cutoff time.Time) (int64, error)
	DeletePaths(ctx context.Context, paths []string) error
}

// Remover deletes one file.
type Remover interface {
	Remove(path string) error
}

// OSRemover removes files from the local filesystem.
type OSRemover struct{}

// Remove unlinks path.
func (OSRemover) Remove(path string) error {
	return os.Remove(path)
}

// Guard reports whether a path is off limits.
type Guard interface {
	IsProtected(path string) bool
}

// Engine applies age and quota rules to indexed targets.
type Engine struct {
	index   Index
	remover Remover
	guard   Guard
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs an Engine. A nil remover uses OSRemover.
func New(idx Index, remover Remover, guard Guard, logger *slog.Logger) *Engine {
	if remover == nil {
		remover = OSRemover{}
	}
	return &Engine{
		index:   idx,
		remover: remover,
		guard:   guard,
		logger:  logging.NewComponentLogger(logger, "evictor"),
		now:     time.Now,
	}
}

// Evict runs the policy's rules against its target once. It always returns
// a summary; index read and write failures are reported through Status and
// Message rather than aborting the caller's session.
func (e *Engine) Evict(ctx context.Context, p policy.DirectoryPolicy) Summary {
	start := time.Now()
	logger := logging.WithContext(ctx, e.logger).With(
		logging.Target(p.TargetPath),
		logging.PolicyID(p.ID),
	)

	if e.guard == nil || e.guard.IsProtected(p.TargetPath) {
		err := fmt.Errorf("target %q is protected", p.TargetPath)
		logging.WarnWithContext(logger, "eviction refused", "target_protected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "point the policy at a non-system directory"),
			logging.String(logging.FieldImpact, "nothing deleted for this target"),
		)
		s := Failed(p.ID, p.TargetPath, err)
		s.DryRun = p.DryRun()
		s.Duration = time.Since(start)
		return s
	}

	run := &evictRun{
		engine: e,
		logger: logger,
		policy: p,
		cutoff: p.Cutoff(e.now()),
		summary: Summary{
			PolicyID: p.ID,
			Target:   p.TargetPath,
			DryRun:   p.DryRun(),
		},
	}
	err := run.agePhase(ctx)
	if err == nil && p.MonitorMethod == policy.MethodSize {
		err = run.quotaPhase(ctx)
	}

	s := run.summary
	s.Duration = time.Since(start)
	switch {
	case err != nil:
		s.Status = index.StatusFailed
		s.Err = err
		s.Message = err.Error()
		logging.ErrorWithContext(logger, "eviction failed", "eviction_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the index database is readable and not locked"),
			logging.String(logging.FieldImpact, "target left partially evicted; the next run retries"),
		)
		return s
	case s.DryRun:
		s.Status = index.StatusDryRun
	default:
		s.Status = index.StatusSuccess
	}
	s.Message = s.describe()

	logger.Info("target evicted",
		logging.String("status", string(s.Status)),
		logging.Int("files_by_age", s.FilesByAge),
		logging.Int("files_by_size", s.FilesBySize),
		logging.Int64("bytes_total", s.BytesTotal()),
		logging.Int("files_failed", s.FilesFailed),
		logging.Bool(logging.FieldDryRun, s.DryRun),
		logging.Duration("duration", s.Duration),
		logging.String(logging.FieldEventType, "target_evicted"),
	)
	return s
}

type evictRun struct {
	engine  *Engine
	logger  *slog.Logger
	policy  policy.DirectoryPolicy
	cutoff  time.Time
	summary Summary
}

// agePhase removes every entry older than the cutoff.
func (r *evictRun) agePhase(ctx context.Context) error {
	expired, err := r.engine.index.Expired(ctx, r.policy.TargetPath, r.cutoff)
	if err != nil {
		return fmt.Errorf("read expired entries: %w", err)
	}
	var removed []string
	for _, entry := range expired {
		if r.removeFile(entry, PhaseAge) {
			r.summary.FilesByAge++
			r.summary.BytesByAge += entry.Size
			removed = append(removed, entry.Path)
		}
	}
	return r.forget(ctx, removed)
}

// quotaPhase removes the oldest remaining entries until the target fits in
// the quota. A failed delete frees nothing, so it does not count toward the
// goal.
func (r *evictRun) quotaPhase(ctx context.Context) error {
	remaining, err := r.engine.index.FreshBytes(ctx, r.policy.TargetPath, r.cutoff)
	if err != nil {
		return fmt.Errorf("sum remaining entries: %w", err)
	}
	quota := r.policy.MaxSizeBytes
	r.summary.RemainingBytes = remaining
	if remaining <= quota {
		return nil
	}
	fresh, err := r.engine.index.Fresh(ctx, r.policy.TargetPath, r.cutoff)
	if err != nil {
		return fmt.Errorf("read remaining entries: %w", err)
	}
	r.logger.Info("target over quota",
		logging.Int64("remaining_bytes", remaining),
		logging.Int64("max_size_bytes", quota),
		logging.String(logging.FieldEventType, "quota_exceeded"),
	)

	var removed []string
	for _, entry := range fresh {
		if remaining <= quota {
			break
		}
		if !r.removeFile(entry, PhaseSize) {
			continue
		}
		remaining -= entry.Size
		r.summary.FilesBySize++
		r.summary.BytesBySize += entry.Size
		removed = append(removed, entry.Path)
	}
	r.summary.RemainingBytes = remaining
	return r.forget(ctx, removed)
}

// removeFile deletes one file, or only logs it on a dry run. It reports
// whether the file counts as removed.
func (r *evictRun) removeFile(entry index.Entry, phase Phase) bool {
	res := FileResult{Path: entry.Path, Phase: phase, Size: entry.Size}
	defer func() { r.summary.Files = append(r.summary.Files, res) }()

	if r.summary.DryRun {
		res.Outcome = result.Skipped
		r.logger.Info("would delete file",
			logging.String("path", entry.Path),
			logging.Int64("size", entry.Size),
			logging.String("phase", string(phase)),
			logging.Bool(logging.FieldDryRun, true),
			logging.String(logging.FieldEventType, "file_delete_dry_run"),
		)
		return true
	}

	err := r.engine.remover.Remove(entry.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		res.Outcome = result.Failed
		res.Err = err
		r.summary.FilesFailed++
		logging.WarnWithContext(r.logger, "file delete failed; skipped", "file_delete_failed",
			logging.String("path", entry.Path),
			logging.String("phase", string(phase)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ownership and permissions of the file"),
			logging.String(logging.FieldImpact, "file stays on disk and in the index"),
		)
		return false
	}
	res.Outcome = result.Success
	r.logger.Debug("file deleted",
		logging.String("path", entry.Path),
		logging.Int64("size", entry.Size),
		logging.String("phase", string(phase)),
	)
	return true
}

// forget drops physically deleted paths from the index. Dry runs leave the
// index untouched.
func (r *evictRun) forget(ctx context.Context, paths []string) error {
	if r.summary.DryRun || len(paths) == 0 {
		return nil
	}
	if err := r.engine.index.DeletePaths(ctx, paths); err != nil {
		return fmt.Errorf("remove %d deleted files from index: %w", len(paths), err)
	}
	return nil
}
