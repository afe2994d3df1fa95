package index_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"cleanupd/internal/index"
	"cleanupd/internal/testsupport"
)

func seedEntries(target string, now time.Time, files map[string]struct {
	age  time.Duration
	size int64
}) []index.Entry {
	entries := make([]index.Entry, 0, len(files))
	for name, f := range files {
		entries = append(entries, index.Entry{
			Path:    filepath.Join(target, name),
			ModTime: now.Add(-f.age),
			Size:    f.size,
		})
	}
	return entries
}

func TestReplaceTargetSwapsRowsAtomically(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()
	day := 24 * time.Hour

	target := "/data/a"
	first := seedEntries(target, now, map[string]struct {
		age  time.Duration
		size int64
	}{
		"one": {40 * day, 100},
		"two": {20 * day, 200},
	})
	if err := store.ReplaceTarget(ctx, target, first, 0); err != nil {
		t.Fatalf("ReplaceTarget: %v", err)
	}
	if err := store.ReplaceTarget(ctx, "/data/b", []index.Entry{{Path: "/data/b/x", ModTime: now, Size: 7}}, 2); err != nil {
		t.Fatalf("ReplaceTarget b: %v", err)
	}

	second := []index.Entry{{Path: filepath.Join(target, "three"), ModTime: now, Size: 5}}
	if err := store.ReplaceTarget(ctx, target, second, 1); err != nil {
		t.Fatalf("ReplaceTarget second: %v", err)
	}

	n, err := store.Count(ctx, target)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", n)
	}
	if n, _ := store.Count(ctx, "/data/b"); n != 1 {
		t.Fatalf("expected other target untouched, got %d", n)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEntries != 2 || stats.TotalBytes != 12 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if len(stats.Targets) != 2 {
		t.Fatalf("expected two targets, got %+v", stats.Targets)
	}
	if stats.Targets[0].TargetPath != "/data/a" || stats.Targets[0].PrunedDirs != 1 {
		t.Fatalf("unexpected target stats: %+v", stats.Targets[0])
	}
	if stats.LastRefreshed.IsZero() {
		t.Fatal("expected last refresh timestamp")
	}
}

func TestReplaceTargetEmptyStillRecordsRefresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := store.ReplaceTarget(ctx, "/empty", nil, 0); err != nil {
		t.Fatalf("ReplaceTarget: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Targets) != 1 || stats.Targets[0].Entries != 0 {
		t.Fatalf("expected empty target listed, got %+v", stats.Targets)
	}
}

func TestReplaceTargetRefusesPathOwnedByAnotherTarget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()
	shared := index.Entry{Path: "/srv/real/a.bin", ModTime: now, Size: 10}

	if err := store.ReplaceTarget(ctx, "/srv/alias", []index.Entry{shared}, 0); err != nil {
		t.Fatalf("ReplaceTarget alias: %v", err)
	}
	err := store.ReplaceTarget(ctx, "/srv/real", []index.Entry{shared}, 0)
	if !errors.Is(err, index.ErrPathOwned) {
		t.Fatalf("expected ErrPathOwned, got %v", err)
	}
	if n, _ := store.Count(ctx, "/srv/alias"); n != 1 {
		t.Fatalf("rows of the first target changed: count=%d", n)
	}
	if n, _ := store.Count(ctx, "/srv/real"); n != 0 {
		t.Fatalf("failed refresh must roll back: count=%d", n)
	}

	// Re-scanning the owning target still updates its own rows.
	shared.Size = 20
	if err := store.ReplaceTarget(ctx, "/srv/alias", []index.Entry{shared}, 0); err != nil {
		t.Fatalf("rescan alias: %v", err)
	}
}

func TestExpiredAndFreshPartitionAtCutoff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()
	day := 24 * time.Hour
	target := "/data/t"

	entries := seedEntries(target, now, map[string]struct {
		age  time.Duration
		size int64
	}{
		"old":   {40 * day, 1},
		"mid":   {20 * day, 2},
		"new":   {5 * day, 4},
		"new-b": {5 * day, 8},
	})
	// Same mtime for the two newest files so ordering falls back to path.
	for i := range entries {
		if filepath.Base(entries[i].Path) == "new" {
			for j := range entries {
				if filepath.Base(entries[j].Path) == "new-b" {
					entries[j].ModTime = entries[i].ModTime
				}
			}
		}
	}
	if err := store.ReplaceTarget(ctx, target, entries, 0); err != nil {
		t.Fatalf("ReplaceTarget: %v", err)
	}

	cutoff := now.Add(-30 * day)
	expired, err := store.Expired(ctx, target, cutoff)
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	if len(expired) != 1 || filepath.Base(expired[0].Path) != "old" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}

	fresh, err := store.Fresh(ctx, target, cutoff)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	var names []string
	for _, e := range fresh {
		names = append(names, filepath.Base(e.Path))
	}
	if len(names) != 3 || names[0] != "mid" || names[1] != "new" || names[2] != "new-b" {
		t.Fatalf("unexpected fresh ordering: %v", names)
	}

	total, err := store.FreshBytes(ctx, target, cutoff)
	if err != nil {
		t.Fatalf("FreshBytes: %v", err)
	}
	if total != 14 {
		t.Fatalf("expected 14 fresh bytes, got %d", total)
	}

	if total, err := store.FreshBytes(ctx, "/nothing", cutoff); err != nil || total != 0 {
		t.Fatalf("expected zero bytes for unknown target, got %d err=%v", total, err)
	}
}

func TestDeletePathsRemovesInChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()
	target := "/bulk"

	var entries []index.Entry
	var paths []string
	for i := 0; i < 1200; i++ {
		p := filepath.Join(target, "f", strconv.Itoa(i))
		entries = append(entries, index.Entry{Path: p, ModTime: now, Size: 1})
		if i%2 == 0 {
			paths = append(paths, p)
		}
	}
	if err := store.ReplaceTarget(ctx, target, entries, 0); err != nil {
		t.Fatalf("ReplaceTarget: %v", err)
	}
	if err := store.DeletePaths(ctx, paths); err != nil {
		t.Fatalf("DeletePaths: %v", err)
	}
	n, err := store.Count(ctx, target)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 600 {
		t.Fatalf("expected 600 rows left, got %d", n)
	}
	if err := store.DeletePaths(ctx, nil); err != nil {
		t.Fatalf("DeletePaths(nil): %v", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, target := range []string{"/a", "/b", "/c"} {
		_, err := store.AppendHistory(ctx, index.HistoryRecord{
			RunID:             "run",
			RunTimestamp:      base.Add(time.Duration(i) * time.Minute),
			TargetPath:        target,
			Status:            index.StatusSuccess,
			FilesRemovedByAge: i,
			BytesRemovedTotal: int64(i * 10),
			Message:           "ok",
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	// Same timestamp as /c: id breaks the tie.
	if _, err := store.AppendHistory(ctx, index.HistoryRecord{
		RunID: "run", RunTimestamp: base.Add(2 * time.Minute), TargetPath: "/d", Status: index.StatusFailed,
	}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	records, err := store.RecentHistory(ctx, 3)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	order := []string{records[0].TargetPath, records[1].TargetPath, records[2].TargetPath}
	if order[0] != "/d" || order[1] != "/c" || order[2] != "/b" {
		t.Fatalf("unexpected order: %v", order)
	}
	if !records[1].RunTimestamp.Equal(base.Add(2*time.Minute)) || records[1].BytesRemovedTotal != 20 {
		t.Fatalf("unexpected record contents: %+v", records[1])
	}
	if records[0].Status != index.StatusFailed {
		t.Fatalf("expected failed status, got %q", records[0].Status)
	}
}

func TestConcurrentWritersShareDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	second := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			entries := []index.Entry{{Path: "/x/f", ModTime: now, Size: int64(i)}}
			errs <- first.ReplaceTarget(ctx, "/x", entries, 0)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := second.AppendHistory(ctx, index.HistoryRecord{RunID: "r", TargetPath: "/x", Status: index.StatusSuccess})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write failed: %v", err)
		}
	}
	records, err := first.RecentHistory(ctx, 100)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("expected 20 history rows, got %d", len(records))
	}
}

func TestCheckHealthReportsWAL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || health.JournalMode != "wal" || health.IntegrityCheck != "ok" || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := index.OpenPath("", time.Second); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenDetectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := index.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", cfg.Paths.DBPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err = index.Open(cfg)
	if !errors.Is(err, index.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
