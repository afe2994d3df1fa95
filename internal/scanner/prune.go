package scanner

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"cleanupd/internal/logging"
)

// prune deletes an over-depth directory, or only reports it on a dry run.
func (w *walk) prune(path string) {
	if w.dryRun {
		w.pruned++
		w.logger.Info("would remove over-depth directory",
			logging.String("path", path),
			logging.Bool(logging.FieldDryRun, true),
			logging.String(logging.FieldEventType, "prune_dry_run"),
		)
		return
	}
	if err := w.scanner.removeTree(path); err != nil {
		w.pruneFailures++
		logging.WarnWithContext(w.logger, "over-depth directory not removed", "prune_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ownership of the directory and its parent"),
			logging.String(logging.FieldImpact, "directory stays on disk; its files are not indexed"),
		)
		return
	}
	w.pruned++
	w.logger.Info("removed over-depth directory",
		logging.String("path", path),
		logging.String(logging.FieldEventType, "prune_removed"),
	)
}

// removeTree removes path recursively. On a permission error it makes the
// parent and every directory in the subtree owner-writable once and retries.
func (s *Scanner) removeTree(path string) error {
	err := s.removeAll(path)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return err
	}
	s.makeWritable(path)
	return s.removeAll(path)
}

func (s *Scanner) makeWritable(path string) {
	parent := filepath.Dir(path)
	if info, err := os.Lstat(parent); err == nil {
		_ = s.chmod(parent, info.Mode().Perm()|0o700)
	}
	// Directories are chmodded before WalkDir reads them, so subtrees that
	// were unreadable become walkable.
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if info, statErr := d.Info(); statErr == nil {
			_ = s.chmod(p, info.Mode().Perm()|0o700)
		}
		return nil
	})
}
