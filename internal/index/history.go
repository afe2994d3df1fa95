package index

import (
	"context"
	"fmt"
	"time"
)

// MaxHistoryLimit caps how many history rows one read returns.
const MaxHistoryLimit = 1000

// AppendHistory stores rec and returns its assigned id. A zero RunTimestamp
// is replaced by the current time.
func (s *Store) AppendHistory(ctx context.Context, rec HistoryRecord) (int64, error) {
	ts := rec.RunTimestamp
	if ts.IsZero() {
		ts = s.now()
	}
	if rec.Status == "" {
		rec.Status = StatusFailed
	}
	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ensureContext(ctx), `
			INSERT INTO cleanup_history (
				run_id, run_timestamp, target_path, status,
				files_removed_by_age, files_removed_by_size,
				bytes_removed_by_age, bytes_removed_by_size, bytes_removed_total,
				files_failed, message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, ts.UTC().UnixNano(), rec.TargetPath, string(rec.Status),
			rec.FilesRemovedByAge, rec.FilesRemovedBySize,
			rec.BytesRemovedByAge, rec.BytesRemovedBySize, rec.BytesRemovedTotal,
			rec.FilesFailed, rec.Message,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append history for %s: %w", rec.TargetPath, err)
	}
	return id, nil
}

// RecentHistory returns up to limit records, newest first. Records written in
// the same instant are ordered by descending id.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, MaxHistoryLimit)
	ctx = ensureContext(ctx)

	var records []HistoryRecord
	err := retryOnBusy(ctx, func() error {
		records = records[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, run_id, run_timestamp, target_path, status,
				files_removed_by_age, files_removed_by_size,
				bytes_removed_by_age, bytes_removed_by_size, bytes_removed_total,
				files_failed, message
			FROM cleanup_history
			ORDER BY run_timestamp DESC, id DESC
			LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanHistory(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return records, nil
}

func scanHistory(row rowScanner) (HistoryRecord, error) {
	var (
		rec    HistoryRecord
		tsNS   int64
		status string
	)
	if err := row.Scan(
		&rec.ID, &rec.RunID, &tsNS, &rec.TargetPath, &status,
		&rec.FilesRemovedByAge, &rec.FilesRemovedBySize,
		&rec.BytesRemovedByAge, &rec.BytesRemovedBySize, &rec.BytesRemovedTotal,
		&rec.FilesFailed, &rec.Message,
	); err != nil {
		return HistoryRecord{}, err
	}
	rec.RunTimestamp = time.Unix(0, tsNS).UTC()
	rec.Status = Status(status)
	return rec, nil
}
