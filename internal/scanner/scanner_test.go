package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/pathguard"
	"cleanupd/internal/policy"
	"cleanupd/internal/result"
	"cleanupd/internal/testsupport"
)

type recordingIndex struct {
	target  string
	entries []index.Entry
	pruned  int
	calls   int
	err     error
}

func (r *recordingIndex) ReplaceTarget(_ context.Context, target string, entries []index.Entry, pruned int) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.target = target
	r.entries = append([]index.Entry(nil), entries...)
	r.pruned = pruned
	return nil
}

func (r *recordingIndex) names(root string) []string {
	var out []string
	for _, e := range r.entries {
		rel, _ := filepath.Rel(root, e.Path)
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

func intPtr(v int) *int { return &v }

// buildTree creates root/f0, root/a/f1, root/a/b/f2, root/a/b/c/f3.
func buildTree(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(root, "f0"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "a", "f1"), 20)
	testsupport.WriteFile(t, filepath.Join(root, "a", "b", "f2"), 30)
	testsupport.WriteFile(t, filepath.Join(root, "a", "b", "c", "f3"), 40)
	return root
}

func newTestScanner(idx IndexWriter) *Scanner {
	return New(idx, pathguard.New([]string{"/etc", "/usr"}), logging.NewNop())
}

func testPolicy(root string, depth *int, remove bool) policy.DirectoryPolicy {
	return policy.DirectoryPolicy{
		ID:             "t",
		Version:        policy.SchemaVersion,
		TargetPath:     root,
		MonitorMethod:  policy.MethodAge,
		MaxFileAgeDays: 30,
		MaxDepth:       depth,
		Remove:         remove,
	}
}

func TestScanPrunesBeyondMaxDepth(t *testing.T) {
	root := buildTree(t)
	idx := &recordingIndex{}

	res := newTestScanner(idx).Scan(context.Background(), testPolicy(root, intPtr(1), true))
	if res.Outcome != result.Success {
		t.Fatalf("expected success, got %s (%v)", res.Outcome, res.Err)
	}
	if testsupport.Exists(t, filepath.Join(root, "a", "b")) {
		t.Fatal("expected depth-2 directory removed")
	}
	if !testsupport.Exists(t, filepath.Join(root, "a", "f1")) {
		t.Fatal("expected depth-1 file kept")
	}
	got := idx.names(root)
	want := []string{"a/f1", "f0"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected entries: got %v want %v", got, want)
	}
	if res.PrunedDirs != 1 || idx.pruned != 1 || res.Bytes != 30 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}

func TestScanDryRunLeavesTreeIntact(t *testing.T) {
	root := buildTree(t)
	idx := &recordingIndex{}

	res := newTestScanner(idx).Scan(context.Background(), testPolicy(root, intPtr(1), false))
	if res.Outcome != result.Success || !res.DryRun {
		t.Fatalf("expected dry-run success, got %+v", res)
	}
	if !testsupport.Exists(t, filepath.Join(root, "a", "b", "c", "f3")) {
		t.Fatal("dry run must not remove anything")
	}
	if res.PrunedDirs != 1 {
		t.Fatalf("expected one would-remove directory, got %d", res.PrunedDirs)
	}
	if got := idx.names(root); fmt.Sprint(got) != fmt.Sprint([]string{"a/f1", "f0"}) {
		t.Fatalf("expected over-depth files excluded from index, got %v", got)
	}
}

func TestScanDepthZeroPrunesEverySubdirectory(t *testing.T) {
	root := buildTree(t)
	idx := &recordingIndex{}

	res := newTestScanner(idx).Scan(context.Background(), testPolicy(root, intPtr(0), true))
	if res.Outcome != result.Success {
		t.Fatalf("unexpected outcome: %+v", res)
	}
	if testsupport.Exists(t, filepath.Join(root, "a")) {
		t.Fatal("expected depth-1 directory removed for max_depth 0")
	}
	if got := idx.names(root); fmt.Sprint(got) != fmt.Sprint([]string{"f0"}) {
		t.Fatalf("unexpected entries: %v", got)
	}
}

func TestScanWithoutDepthIndexesTopLevelOnly(t *testing.T) {
	root := buildTree(t)
	if err := os.Symlink(filepath.Join(root, "f0"), filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	idx := &recordingIndex{}

	res := newTestScanner(idx).Scan(context.Background(), testPolicy(root, nil, true))
	if res.Outcome != result.Success {
		t.Fatalf("unexpected outcome: %+v", res)
	}
	if res.PrunedDirs != 0 || !testsupport.Exists(t, filepath.Join(root, "a", "b", "c")) {
		t.Fatal("expected no pruning without max_depth")
	}
	if got := idx.names(root); fmt.Sprint(got) != fmt.Sprint([]string{"f0"}) {
		t.Fatalf("expected only the top-level regular file, got %v", got)
	}
}

func TestScanRetriesRemovalAfterPermissionError(t *testing.T) {
	root := buildTree(t)
	idx := &recordingIndex{}
	s := newTestScanner(idx)

	var attempts int
	var chmodded []string
	s.chmod = func(path string, mode fs.FileMode) error {
		chmodded = append(chmodded, path)
		return os.Chmod(path, mode)
	}
	s.removeAll = func(path string) error {
		attempts++
		if attempts == 1 {
			return &fs.PathError{Op: "unlinkat", Path: path, Err: fs.ErrPermission}
		}
		return os.RemoveAll(path)
	}

	res := s.Scan(context.Background(), testPolicy(root, intPtr(1), true))
	if res.Outcome != result.Success || res.PruneFailures != 0 || res.PrunedDirs != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", attempts)
	}
	if len(chmodded) == 0 {
		t.Fatal("expected chmod before retry")
	}
	if testsupport.Exists(t, filepath.Join(root, "a", "b")) {
		t.Fatal("expected directory removed after retry")
	}
}

func TestScanReportsPersistentRemovalFailure(t *testing.T) {
	root := buildTree(t)
	idx := &recordingIndex{}
	s := newTestScanner(idx)
	s.chmod = func(string, fs.FileMode) error { return nil }
	s.removeAll = func(path string) error {
		return &fs.PathError{Op: "unlinkat", Path: path, Err: fs.ErrPermission}
	}

	res := s.Scan(context.Background(), testPolicy(root, intPtr(1), true))
	if res.Outcome != result.Success {
		t.Fatalf("removal failure must not fail the scan: %+v", res)
	}
	if res.PruneFailures != 1 || res.PrunedDirs != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if got := idx.names(root); fmt.Sprint(got) != fmt.Sprint([]string{"a/f1", "f0"}) {
		t.Fatalf("unexpected entries: %v", got)
	}
}

func TestScanSkipsProtectedAndMissingTargets(t *testing.T) {
	idx := &recordingIndex{}
	s := newTestScanner(idx)

	res := s.Scan(context.Background(), testPolicy("/etc/nginx", intPtr(1), true))
	if res.Outcome != result.Skipped || res.Err == nil {
		t.Fatalf("expected protected target skipped, got %+v", res)
	}

	res = s.Scan(context.Background(), testPolicy(filepath.Join(t.TempDir(), "missing"), nil, true))
	if res.Outcome != result.Skipped {
		t.Fatalf("expected missing target skipped, got %+v", res)
	}

	file := filepath.Join(t.TempDir(), "file")
	testsupport.WriteFile(t, file, 1)
	res = s.Scan(context.Background(), testPolicy(file, nil, true))
	if res.Outcome != result.Skipped {
		t.Fatalf("expected non-directory target skipped, got %+v", res)
	}
	if idx.calls != 0 {
		t.Fatalf("expected no index writes, got %d", idx.calls)
	}
}

func TestScanFailsWhenIndexCommitFails(t *testing.T) {
	root := buildTree(t)
	idx := &recordingIndex{err: errors.New("database is locked")}

	res := newTestScanner(idx).Scan(context.Background(), testPolicy(root, nil, false))
	if res.Outcome != result.Failed || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestScanRefreshesRealIndex(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	root := buildTree(t)
	ctx := context.Background()

	s := New(store, pathguard.New(cfg.ProtectedPaths), logging.NewNop())
	if res := s.Scan(ctx, testPolicy(root, intPtr(3), false)); res.Outcome != result.Success {
		t.Fatalf("first scan: %+v", res)
	}
	if n, _ := store.Count(ctx, root); n != 4 {
		t.Fatalf("expected 4 entries, got %d", n)
	}

	if err := os.Remove(filepath.Join(root, "f0")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res := s.Scan(ctx, testPolicy(root, intPtr(3), false)); res.Outcome != result.Success {
		t.Fatalf("second scan: %+v", res)
	}
	if n, _ := store.Count(ctx, root); n != 3 {
		t.Fatalf("expected rescan to drop vanished file, got %d", n)
	}
}

func TestDepthOf(t *testing.T) {
	cases := map[string]int{
		"/r":       0,
		"/r/a":     1,
		"/r/a/b":   2,
		"/r/a/b/c": 3,
	}
	for path, want := range cases {
		if got := depthOf("/r", path); got != want {
			t.Errorf("depthOf(%q) = %d, want %d", path, got, want)
		}
	}
}
