package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
	"cleanupd/internal/result"
)

// IndexWriter receives the refreshed entries for a target.
type IndexWriter interface {
	ReplaceTarget(ctx context.Context, target string, entries []index.Entry, prunedDirs int) error
}

// Guard reports whether a path is off limits.
type Guard interface {
	IsProtected(path string) bool
}

// TargetResult summarizes one scan.
type TargetResult struct {
	PolicyID      string         `json:"policy_id"`
	Target        string         `json:"target"`
	Outcome       result.Outcome `json:"outcome"`
	DryRun        bool           `json:"dry_run"`
	Entries       int            `json:"entries"`
	Bytes         int64          `json:"bytes"`
	PrunedDirs    int            `json:"pruned_dirs"`
	PruneFailures int            `json:"prune_failures"`
	StatFailures  int            `json:"stat_failures"`
	Duration      time.Duration  `json:"duration"`
	Err           error          `json:"-"`
}

// Scanner walks target directories, prunes subtrees deeper than the policy
// allows, and refreshes the index with what remains.
type Scanner struct {
	index     IndexWriter
	guard     Guard
	logger    *slog.Logger
	removeAll func(string) error
	chmod     func(string, fs.FileMode) error
}

// New constructs a Scanner.
func New(idx IndexWriter, guard Guard, logger *slog.Logger) *Scanner {
	return &Scanner{
		index:     idx,
		guard:     guard,
		logger:    logging.NewComponentLogger(logger, "indexer"),
		removeAll: os.RemoveAll,
		chmod:     os.Chmod,
	}
}

// Scan processes one policy. It never panics on filesystem trouble: per-file
// and per-directory problems are counted and logged, and only an unreadable
// target root or a failed index commit marks the whole target failed.
func (s *Scanner) Scan(ctx context.Context, p policy.DirectoryPolicy) TargetResult {
	start := time.Now()
	res := TargetResult{PolicyID: p.ID, Target: p.TargetPath, DryRun: p.DryRun()}
	logger := logging.WithContext(ctx, s.logger).With(
		logging.Target(p.TargetPath),
		logging.PolicyID(p.ID),
	)
	finish := func(outcome result.Outcome, err error) TargetResult {
		res.Outcome = outcome
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	if s.guard == nil || s.guard.IsProtected(p.TargetPath) {
		err := fmt.Errorf("target %q is protected", p.TargetPath)
		logging.WarnWithContext(logger, "target skipped", "target_protected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "point the policy at a non-system directory"),
			logging.String(logging.FieldImpact, "target not indexed"),
		)
		return finish(result.Skipped, err)
	}

	root, err := resolveRoot(p.TargetPath)
	if err != nil {
		logging.WarnWithContext(logger, "target skipped", "target_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "create the directory or fix the policy's target_path"),
			logging.String(logging.FieldImpact, "target not indexed"),
		)
		return finish(result.Skipped, err)
	}

	w := &walk{scanner: s, logger: logger, root: root, maxDepth: p.MaxDepth, dryRun: p.DryRun()}
	if p.MaxDepth == nil {
		err = w.topLevel()
	} else {
		err = w.recursive()
	}
	res.PrunedDirs = w.pruned
	res.PruneFailures = w.pruneFailures
	res.StatFailures = w.statFailures
	if err != nil {
		logging.ErrorWithContext(logger, "scan failed", "scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the target directory"),
		)
		return finish(result.Failed, fmt.Errorf("enumerate %s: %w", root, err))
	}

	for _, e := range w.entries {
		res.Bytes += e.Size
	}
	res.Entries = len(w.entries)

	if err := s.index.ReplaceTarget(ctx, p.TargetPath, w.entries, w.pruned); err != nil {
		logging.ErrorWithContext(logger, "index refresh failed", "index_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the index database is writable and not locked"),
		)
		return finish(result.Failed, err)
	}

	logger.Info("target indexed",
		logging.Int("entries", res.Entries),
		logging.Int64("bytes", res.Bytes),
		logging.Int("pruned_dirs", res.PrunedDirs),
		logging.Int("prune_failures", res.PruneFailures),
		logging.Int("stat_failures", res.StatFailures),
		logging.Bool(logging.FieldDryRun, res.DryRun),
		logging.Duration("duration", time.Since(start)),
		logging.String(logging.FieldEventType, "target_indexed"),
	)
	return finish(result.Success, nil)
}

// resolveRoot returns the real directory behind target, or an error when it
// is missing or not a directory.
func resolveRoot(target string) (string, error) {
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("resolve target: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat target: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("target %q is not a directory", target)
	}
	return resolved, nil
}

type walk struct {
	scanner  *Scanner
	logger   *slog.Logger
	root     string
	maxDepth *int
	dryRun   bool

	entries       []index.Entry
	pruned        int
	pruneFailures int
	statFailures  int
}

// topLevel indexes the regular files directly inside root. Nothing is pruned.
func (w *walk) topLevel() error {
	dirEntries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, d := range dirEntries {
		if !d.Type().IsRegular() {
			continue
		}
		w.addFile(filepath.Join(w.root, d.Name()), d)
	}
	return nil
}

// recursive walks root top-down. Directories deeper than maxDepth are pruned
// and never descended into; files inside directories at depth <= maxDepth
// are indexed.
func (w *walk) recursive() error {
	limit := *w.maxDepth
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return err
			}
			w.statFailures++
			logging.WarnWithContext(w.logger, "entry unreadable; skipped", "scan_entry_unreadable",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions below the target"),
				logging.String(logging.FieldImpact, "entry and its contents not indexed"),
			)
			return nil
		}
		if d.IsDir() {
			if path == w.root {
				return nil
			}
			if depthOf(w.root, path) > limit {
				w.prune(path)
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.addFile(path, d)
		}
		return nil
	})
}

func (w *walk) addFile(path string, d fs.DirEntry) {
	info, err := d.Info()
	if err != nil {
		w.statFailures++
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("file vanished during scan", logging.String("path", path))
			return
		}
		logging.WarnWithContext(w.logger, "file stat failed; skipped", "scan_stat_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file not indexed this run"),
		)
		return
	}
	w.entries = append(w.entries, index.Entry{
		Path:    path,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	})
}

// depthOf returns how many path segments path lies below root. root itself
// is depth 0.
func depthOf(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
