package runner_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cleanupd/internal/config"
	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/pathguard"
	"cleanupd/internal/policy"
	"cleanupd/internal/result"
	"cleanupd/internal/rolelock"
	"cleanupd/internal/runner"
	"cleanupd/internal/testsupport"
)

const day = 24 * time.Hour

func quietOptions() runner.Options {
	return runner.Options{Logger: logging.NewNop()}
}

func writePolicy(t *testing.T, cfg *config.Config, p policy.DirectoryPolicy) {
	t.Helper()
	store := policy.NewStore(cfg.Paths.PolicyDir, pathguard.New(cfg.ProtectedPaths), logging.NewNop())
	if _, err := store.Write(context.Background(), p); err != nil {
		t.Fatalf("write policy %s: %v", p.ID, err)
	}
}

func agedTarget(t *testing.T) (string, string, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	now := time.Now()
	old := filepath.Join(root, "old.bin")
	fresh := filepath.Join(root, "fresh.bin")
	testsupport.WriteFileAged(t, old, 100, now, 40*day)
	testsupport.WriteFileAged(t, fresh, 100, now, 5*day)
	return root, old, fresh
}

func TestIndexThenEvict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root, old, fresh := agedTarget(t)
	writePolicy(t, cfg, policy.DirectoryPolicy{
		ID:             "scratch",
		TargetPath:     root,
		MonitorMethod:  policy.MethodAge,
		MaxFileAgeDays: 30,
		Remove:         true,
	})
	ctx := context.Background()

	idx, err := runner.RunIndexer(ctx, cfg, quietOptions())
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	if idx.Busy || len(idx.Scans) != 1 || idx.Scans[0].Entries != 2 || idx.Outcome() != result.Success {
		t.Fatalf("unexpected indexer report: %+v", idx)
	}

	ev, err := runner.RunEvictor(ctx, cfg, quietOptions())
	if err != nil {
		t.Fatalf("evictor: %v", err)
	}
	if len(ev.Evictions) != 1 || ev.Evictions[0].FilesByAge != 1 {
		t.Fatalf("unexpected evictor report: %+v", ev)
	}
	if testsupport.Exists(t, old) || !testsupport.Exists(t, fresh) {
		t.Fatal("expected only the expired file removed")
	}

	store := testsupport.MustOpenStore(t, cfg)
	history, err := store.RecentHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history record, got %d", len(history))
	}
	rec := history[0]
	if rec.RunID != ev.RunID || rec.TargetPath != root || rec.Status != index.StatusSuccess || rec.BytesRemovedTotal != 100 {
		t.Fatalf("unexpected history record: %+v", rec)
	}
	if n, _ := store.Count(ctx, root); n != 1 {
		t.Fatalf("expected evicted file dropped from index, got %d rows", n)
	}
	if _, ok := rolelock.HolderPID(cfg.Paths.LockDir, rolelock.RoleEvictor); ok {
		t.Fatal("expected evictor lock released")
	}
}

func TestEvictorRecordsInvalidPolicies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broken := filepath.Join(cfg.Paths.PolicyDir, "broken.toml")
	if err := os.WriteFile(broken, []byte("version = 1\ntarget_path = \"/etc\"\nmonitor_method = \"age\"\nmax_file_age_days = 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	garbage := filepath.Join(cfg.Paths.PolicyDir, "garbage.toml")
	if err := os.WriteFile(garbage, []byte("this is = = not toml"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	report, err := runner.RunEvictor(context.Background(), cfg, quietOptions())
	if err != nil {
		t.Fatalf("evictor: %v", err)
	}
	if report.Tally.Failed != 2 || len(report.Issues) != 2 {
		t.Fatalf("expected two failed targets, got %+v", report.Tally)
	}

	store := testsupport.MustOpenStore(t, cfg)
	history, err := store.RecentHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two failed records, got %d", len(history))
	}
	targets := map[string]index.HistoryRecord{}
	for _, rec := range history {
		if rec.Status != index.StatusFailed || rec.Message == "" {
			t.Fatalf("unexpected record: %+v", rec)
		}
		targets[rec.TargetPath] = rec
	}
	if _, ok := targets["/etc"]; !ok {
		t.Fatalf("expected protected policy recorded under its target, got %v", targets)
	}
	if _, ok := targets["policy:"+garbage]; !ok {
		t.Fatalf("expected unparsable policy recorded under its file, got %v", targets)
	}
}

func TestBusyRoleExitsCleanly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	held, err := rolelock.Acquire(cfg.Paths.LockDir, rolelock.RoleEvictor)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	report, err := runner.RunEvictor(context.Background(), cfg, quietOptions())
	if err != nil {
		t.Fatalf("busy role must not be an error: %v", err)
	}
	if !report.Busy || report.HolderPID != os.Getpid() {
		t.Fatalf("expected busy report naming this pid, got %+v", report)
	}

	// Other roles are independent.
	idx, err := runner.RunIndexer(context.Background(), cfg, quietOptions())
	if err != nil || idx.Busy {
		t.Fatalf("indexer should run while evictor is held: %+v %v", idx, err)
	}
}

func TestInterruptedSessionStopsBeforeTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root, old, _ := agedTarget(t)
	writePolicy(t, cfg, policy.DirectoryPolicy{
		ID:             "scratch",
		TargetPath:     root,
		MonitorMethod:  policy.MethodAge,
		MaxFileAgeDays: 30,
		Remove:         true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := runner.RunIndexer(ctx, cfg, quietOptions())
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	if !report.Interrupted || len(report.Scans) != 0 {
		t.Fatalf("expected interrupted session with no scans, got %+v", report)
	}
	if !testsupport.Exists(t, old) {
		t.Fatal("interrupted session touched the target")
	}
}

func TestRunWritesPerRunLog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	report, err := runner.RunIndexer(context.Background(), cfg, runner.Options{})
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	if report.LogPath == "" || !strings.HasPrefix(filepath.Base(report.LogPath), "indexer-"+report.RunID) {
		t.Fatalf("unexpected log path %q for run %s", report.LogPath, report.RunID)
	}
	data, err := os.ReadFile(report.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "session finished") {
		t.Fatalf("log missing session summary:\n%s", data)
	}
}

func TestServeAnswersUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		opts := quietOptions()
		opts.Ready = func(addr string) { ready <- addr }
		done <- runner.Serve(ctx, cfg, opts)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve never became ready")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if _, ok := rolelock.HolderPID(cfg.Paths.LockDir, rolelock.RoleAPI); !ok {
		t.Fatal("expected api role lock held while serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
