package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"cleanupd/internal/logging"
)

const (
	fileExt        = ".toml"
	lockFileName   = ".policies.lock"
	lockRetryDelay = 25 * time.Millisecond
)

// LoadIssue describes a policy file that was skipped during a snapshot.
type LoadIssue struct {
	ID   string
	Path string
	// TargetPath is set when the file parsed far enough to name one.
	TargetPath string
	Err        error
}

// Store reads and writes policy files in one directory.
//
// Readers take a shared lock on the directory's lock file and writers an
// exclusive one. Writes land in a temp file that is renamed over the target,
// so even a reader that ignores the lock sees the whole old file or the whole
// new one.
type Store struct {
	dir    string
	guard  Guard
	logger *slog.Logger
}

// NewStore returns a store over dir.
func NewStore(dir string, guard Guard, logger *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		guard:  guard,
		logger: logging.NewComponentLogger(logger, "policy-store"),
	}
}

// Dir returns the policy directory.
func (s *Store) Dir() string {
	return s.dir
}

// Snapshot loads every valid policy. Malformed or invalid files, and files
// whose target overlaps one already accepted, are reported as issues and
// skipped. Policies are returned sorted by id.
func (s *Store) Snapshot(ctx context.Context) ([]DirectoryPolicy, []LoadIssue, error) {
	unlock, err := s.lock(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	policies, issues, err := s.readAll()
	if err != nil {
		return nil, nil, err
	}
	for _, issue := range issues {
		logging.WarnWithContext(s.logger, "policy skipped", "policy_invalid",
			logging.PolicyID(issue.ID),
			logging.String("path", issue.Path),
			logging.Error(issue.Err),
			logging.String(logging.FieldErrorHint, "fix or remove the policy file"),
			logging.String(logging.FieldImpact, "target will not be scanned or evicted this run"),
		)
	}
	return policies, issues, nil
}

// Get returns the policy stored under id.
func (s *Store) Get(ctx context.Context, id string) (DirectoryPolicy, error) {
	if !idPattern.MatchString(id) {
		return DirectoryPolicy{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	unlock, err := s.lock(ctx, false)
	if err != nil {
		return DirectoryPolicy{}, err
	}
	defer unlock()

	p, err := s.readFile(s.pathFor(id), id)
	if errors.Is(err, fs.ErrNotExist) {
		return DirectoryPolicy{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, err
}

// Write validates p and stores it under p.ID, replacing any previous version.
// A policy whose target equals, contains, or lies inside another policy's
// target is rejected with ErrConflict.
func (s *Store) Write(ctx context.Context, p DirectoryPolicy) (DirectoryPolicy, error) {
	if p.Version == 0 {
		p.Version = SchemaVersion
	}
	if err := p.Validate(s.guard); err != nil {
		return DirectoryPolicy{}, err
	}

	unlock, err := s.lock(ctx, true)
	if err != nil {
		return DirectoryPolicy{}, err
	}
	defer unlock()

	existing, _, err := s.readAll()
	if err != nil {
		return DirectoryPolicy{}, err
	}
	resolved := s.resolve(p.TargetPath)
	for _, other := range existing {
		if other.ID == p.ID {
			continue
		}
		if Overlaps(s.resolve(other.TargetPath), resolved) {
			return DirectoryPolicy{}, fmt.Errorf("%w: target %q overlaps %q owned by policy %q",
				ErrConflict, p.TargetPath, other.TargetPath, other.ID)
		}
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return DirectoryPolicy{}, fmt.Errorf("encode policy %q: %w", p.ID, err)
	}
	if err := writeAtomic(s.dir, s.pathFor(p.ID), data); err != nil {
		return DirectoryPolicy{}, err
	}
	s.logger.Info("policy written",
		logging.PolicyID(p.ID),
		logging.Target(p.TargetPath),
		logging.String(logging.FieldEventType, "policy_written"),
	)
	return p, nil
}

// Delete removes the policy stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.pathFor(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return fmt.Errorf("delete policy %q: %w", id, err)
	}
	syncDir(s.dir)
	s.logger.Info("policy deleted",
		logging.PolicyID(id),
		logging.String(logging.FieldEventType, "policy_deleted"),
	)
	return nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

// lock takes the directory lock and returns its release func.
func (s *Store) lock(ctx context.Context, exclusive bool) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure policy directory: %w", err)
	}
	fl := flock.New(filepath.Join(s.dir, lockFileName))
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("lock policy directory: %w", err)
	}
	if !locked {
		return nil, errors.New("lock policy directory: not acquired")
	}
	return func() { _ = fl.Unlock() }, nil
}

func (s *Store) readAll() ([]DirectoryPolicy, []LoadIssue, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read policy directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) || !entry.Type().IsRegular() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		policies []DirectoryPolicy
		issues   []LoadIssue
	)
	for _, name := range names {
		id := strings.TrimSuffix(name, fileExt)
		path := filepath.Join(s.dir, name)
		p, err := s.readFile(path, id)
		if err != nil {
			issues = append(issues, LoadIssue{ID: id, Path: path, TargetPath: p.TargetPath, Err: err})
			continue
		}
		if owner, ok := s.overlapping(policies, p.TargetPath); ok {
			issues = append(issues, LoadIssue{ID: id, Path: path, TargetPath: p.TargetPath,
				Err: fmt.Errorf("%w: target %q overlaps %q owned by policy %q", ErrConflict, p.TargetPath, owner.TargetPath, owner.ID)})
			continue
		}
		policies = append(policies, p)
	}
	return policies, issues, nil
}

func (s *Store) readFile(path, id string) (DirectoryPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DirectoryPolicy{}, err
	}
	var p DirectoryPolicy
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&p); err != nil {
		return DirectoryPolicy{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	p.ID = id
	if err := p.Validate(s.guard); err != nil {
		// The decoded fields are kept so callers can still report the target.
		return p, err
	}
	return p, nil
}

// overlapping compares resolved targets, so a symlink and the directory it
// points at count as the same target.
func (s *Store) overlapping(accepted []DirectoryPolicy, target string) (DirectoryPolicy, bool) {
	resolved := s.resolve(target)
	for _, p := range accepted {
		if Overlaps(s.resolve(p.TargetPath), resolved) {
			return p, true
		}
	}
	return DirectoryPolicy{}, false
}

// resolve returns the symlink-resolved form of target. Validate has already
// rejected targets the guard cannot resolve, so the lexical fallback only
// covers a path that changed since.
func (s *Store) resolve(target string) string {
	if s.guard == nil {
		return target
	}
	resolved, err := s.guard.Normalize(target)
	if err != nil {
		return target
	}
	return resolved
}

func writeAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return fmt.Errorf("create temp policy file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp policy file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp policy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp policy file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp policy file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return fmt.Errorf("replace policy file: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes a directory entry change. Failures are ignored; the rename
// itself is already atomic.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
