package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Stats reports index totals and the last refresh of every target. Targets
// are listed even when their last scan found nothing.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var stats Stats
	err := retryOnBusy(ctx, func() error {
		stats = Stats{}
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1), COALESCE(SUM(size), 0) FROM file_index`,
		).Scan(&stats.TotalEntries, &stats.TotalBytes); err != nil {
			return err
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT r.target_path, r.refreshed_at, r.pruned_dirs,
				COUNT(f.path), COALESCE(SUM(f.size), 0)
			FROM index_refresh r
			LEFT JOIN file_index f ON f.target_path = r.target_path
			GROUP BY r.target_path
			ORDER BY r.target_path`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				ts        TargetStats
				refreshed int64
			)
			if err := rows.Scan(&ts.TargetPath, &refreshed, &ts.PrunedDirs, &ts.Entries, &ts.TotalBytes); err != nil {
				return err
			}
			ts.RefreshedAt = fromUnixNano(refreshed)
			if ts.RefreshedAt.After(stats.LastRefreshed) {
				stats.LastRefreshed = ts.RefreshedAt
			}
			stats.Targets = append(stats.Targets, ts)
		}
		return rows.Err()
	})
	if err != nil {
		return Stats{}, fmt.Errorf("index stats: %w", err)
	}
	return stats, nil
}

// CheckHealth returns diagnostic information about the index database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("index database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat index database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("index database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&health.JournalMode); err != nil {
		return health, fmt.Errorf("read journal mode: %w", err)
	}
	health.JournalMode = strings.ToLower(health.JournalMode)

	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&health.IntegrityCheck); err != nil {
		return health, fmt.Errorf("integrity check: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		return health, fmt.Errorf("read schema version: %w", err)
	}
	return health, nil
}
