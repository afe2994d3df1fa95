package rolelock_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cleanupd/internal/rolelock"
)

func TestSecondAcquireIsBusy(t *testing.T) {
	dir := t.TempDir()

	first, err := rolelock.Acquire(dir, rolelock.RoleEvictor)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = rolelock.Acquire(dir, rolelock.RoleEvictor)
	if !errors.Is(err, rolelock.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	pid, ok := rolelock.HolderPID(dir, rolelock.RoleEvictor)
	if !ok || pid != os.Getpid() {
		t.Fatalf("expected holder pid %d, got %d ok=%v", os.Getpid(), pid, ok)
	}

	// Other roles are independent.
	indexer, err := rolelock.Acquire(dir, rolelock.RoleIndexer)
	if err != nil {
		t.Fatalf("indexer Acquire: %v", err)
	}
	if err := indexer.Release(); err != nil {
		t.Fatalf("indexer Release: %v", err)
	}
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := rolelock.Acquire(dir, rolelock.RoleIndexer)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "indexer.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, stat err=%v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release should be a no-op: %v", err)
	}

	again, err := rolelock.Acquire(dir, rolelock.RoleIndexer)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	defer again.Release()
}

func TestStaleLockFileIsReused(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "api.pid"), []byte("999999\n"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}
	lock, err := rolelock.Acquire(dir, rolelock.RoleAPI)
	if err != nil {
		t.Fatalf("Acquire over stale file: %v", err)
	}
	defer lock.Release()
	if pid, _ := rolelock.HolderPID(dir, rolelock.RoleAPI); pid != os.Getpid() {
		t.Fatalf("expected pid rewritten, got %d", pid)
	}
}

func TestAcquireFailsWhenDirectoryUnusable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := rolelock.Acquire(file, rolelock.RoleEvictor)
	if err == nil || errors.Is(err, rolelock.ErrBusy) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestAcquireRejectsBadRole(t *testing.T) {
	if _, err := rolelock.Acquire(t.TempDir(), "../x"); err == nil {
		t.Fatal("expected error for role containing a separator")
	}
}
