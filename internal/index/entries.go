package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPathOwned is returned by ReplaceTarget when a file is already indexed
// under a different target.
var ErrPathOwned = errors.New("path indexed under another target")

// deleteChunk bounds the number of bound parameters per DELETE statement.
const deleteChunk = 500

// ReplaceTarget swaps the index contents for target with entries in a single
// transaction, and records when the refresh happened. Readers see either the
// complete old set or the complete new set.
func (s *Store) ReplaceTarget(ctx context.Context, target string, entries []Entry, prunedDirs int) error {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	refreshedAt := s.now().UTC().UnixNano()
	ctx = ensureContext(ctx)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_index WHERE target_path = ?`, target); err != nil {
			return fmt.Errorf("clear target: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO file_index (path, target_path, mtime_ns, size)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				mtime_ns = excluded.mtime_ns,
				size = excluded.size
			WHERE file_index.target_path = excluded.target_path`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			res, err := stmt.ExecContext(ctx, e.Path, target, e.ModTime.UnixNano(), e.Size)
			if err != nil {
				return fmt.Errorf("insert %s: %w", e.Path, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: %s", ErrPathOwned, e.Path)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_refresh (target_path, refreshed_at, entry_count, total_bytes, pruned_dirs)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(target_path) DO UPDATE SET
				refreshed_at = excluded.refreshed_at,
				entry_count = excluded.entry_count,
				total_bytes = excluded.total_bytes,
				pruned_dirs = excluded.pruned_dirs`,
			target, refreshedAt, len(entries), total, prunedDirs,
		); err != nil {
			return fmt.Errorf("record refresh: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace index for %s: %w", target, err)
	}
	return nil
}

// Expired returns the entries of target last modified strictly before cutoff.
func (s *Store) Expired(ctx context.Context, target string, cutoff time.Time) ([]Entry, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT path, target_path, mtime_ns, size FROM file_index
		WHERE target_path = ? AND mtime_ns < ?
		ORDER BY mtime_ns ASC, path ASC`,
		target, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query expired entries: %w", err)
	}
	return entries, nil
}

// Fresh returns the entries of target modified at or after cutoff, oldest
// first. Entries sharing a modification time are ordered by path.
func (s *Store) Fresh(ctx context.Context, target string, cutoff time.Time) ([]Entry, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT path, target_path, mtime_ns, size FROM file_index
		WHERE target_path = ? AND mtime_ns >= ?
		ORDER BY mtime_ns ASC, path ASC`,
		target, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query fresh entries: %w", err)
	}
	return entries, nil
}

// FreshBytes sums the sizes of the entries Fresh would return.
func (s *Store) FreshBytes(ctx context.Context, target string, cutoff time.Time) (int64, error) {
	var total sql.NullInt64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ensureContext(ctx),
			`SELECT SUM(size) FROM file_index WHERE target_path = ? AND mtime_ns >= ?`,
			target, cutoff.UnixNano(),
		).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("sum fresh entries: %w", err)
	}
	return total.Int64, nil
}

// Count returns the number of entries indexed for target.
func (s *Store) Count(ctx context.Context, target string) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ensureContext(ctx),
			`SELECT COUNT(1) FROM file_index WHERE target_path = ?`, target,
		).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// DeletePaths removes the given paths from the index in one transaction.
func (s *Store) DeletePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(paths); start += deleteChunk {
			end := min(start+deleteChunk, len(paths))
			chunk := paths[start:end]
			query := "DELETE FROM file_index WHERE path IN (" + placeholders(len(chunk)) + ")"
			args := make([]any, len(chunk))
			for i, p := range chunk {
				args[i] = p
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	ctx = ensureContext(ctx)
	var entries []Entry
	err := retryOnBusy(ctx, func() error {
		entries = entries[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e       Entry
		mtimeNS int64
	)
	if err := row.Scan(&e.Path, &e.TargetPath, &mtimeNS, &e.Size); err != nil {
		return Entry{}, err
	}
	e.ModTime = time.Unix(0, mtimeNS)
	return e, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}
	return string(buf)
}
