package pathguard

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestIsProtectedDefaults(t *testing.T) {
	g := New([]string{"/", "/etc", "/var", "/usr"})

	cases := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/etc", true},
		{"/etc/foo", true},
		{"/etc/nginx/conf.d", true},
		{"/var/log/../lib", true},
		{"/etcetera/data", false},
		{"/home/user/data", false},
		{"", true},
	}
	for _, tc := range cases {
		if got := g.IsProtected(tc.path); got != tc.want {
			t.Errorf("IsProtected(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestIsProtectedFollowsSymlinks(t *testing.T) {
	base := t.TempDir()
	protected := filepath.Join(base, "protected")
	if err := os.MkdirAll(filepath.Join(protected, "inner"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(base, "sneaky")
	if err := os.Symlink(protected, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	g := New([]string{protected})
	if !g.IsProtected(filepath.Join(link, "inner")) {
		t.Fatal("expected symlinked path into protected root to be protected")
	}
	if !g.IsProtected(filepath.Join(link, "not-yet-created", "deeper")) {
		t.Fatal("expected missing path beneath symlink to resolve into protected root")
	}
	if g.IsProtected(filepath.Join(base, "elsewhere")) {
		t.Fatal("expected sibling directory to be allowed")
	}
}

func TestIsProtectedSymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	realDir := filepath.Join(base, "real")
	if err := os.Mkdir(realDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	alias := filepath.Join(base, "alias")
	if err := os.Symlink(realDir, alias); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	g := New([]string{alias})
	if !g.IsProtected(filepath.Join(realDir, "x")) {
		t.Fatal("expected real location of symlinked root to be protected")
	}
}

func TestIsProtectedFailsClosed(t *testing.T) {
	g := newGuard([]string{"/etc"}, func(string) (string, error) {
		return "", fs.ErrPermission
	})
	if !g.IsProtected("/home/user/data") {
		t.Fatal("expected normalization failure to report protected")
	}

	g = newGuard([]string{"/etc"}, func(p string) (string, error) {
		if p == "/" {
			return p, nil
		}
		return "", &fs.PathError{Op: "lstat", Path: p, Err: fs.ErrNotExist}
	})
	if g.IsProtected("/home/user/data") {
		t.Fatal("expected missing path resolved against existing ancestor to be allowed")
	}
	if _, err := g.Normalize("/home/user/data"); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
}
