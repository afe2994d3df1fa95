package pathguard

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Guard decides whether a path lies on or beneath a protected root.
type Guard struct {
	roots    []string
	resolver func(string) (string, error)
}

// New builds a guard over the given protected roots. Roots are normalized the
// same way candidate paths are, so a symlinked root still protects its real
// location.
func New(roots []string) *Guard {
	return newGuard(roots, filepath.EvalSymlinks)
}

func newGuard(roots []string, resolver func(string) (string, error)) *Guard {
	g := &Guard{resolver: resolver}
	seen := make(map[string]struct{}, len(roots))
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		g.roots = append(g.roots, p)
	}
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		// Keep the lexical form as well: a root that is itself a symlink is
		// protected both where it points and by name.
		add(filepath.Clean(abs))
		if resolved, err := g.normalize(root); err == nil {
			add(resolved)
		}
	}
	return g
}

// Roots returns the normalized protected roots.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// IsProtected reports whether path equals or is contained in a protected root.
// A path that cannot be normalized is reported as protected.
func (g *Guard) IsProtected(path string) bool {
	if strings.TrimSpace(path) == "" {
		return true
	}
	resolved, err := g.normalize(path)
	if err != nil {
		return true
	}
	for _, root := range g.roots {
		if contains(root, resolved) {
			return true
		}
	}
	return false
}

// Normalize returns the absolute, cleaned, symlink-resolved form of path. For a
// path whose tail does not exist yet, the deepest existing ancestor is
// resolved and the missing segments are re-appended.
func (g *Guard) Normalize(path string) (string, error) {
	return g.normalize(path)
}

func (g *Guard) normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	var missing []string
	current := abs
	for {
		resolved, err := g.resolver(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

// contains reports whether candidate is root or lies beneath it. The
// filesystem root only matches itself; every other path is trivially inside
// it, which is not what protecting "/" means.
func contains(root, candidate string) bool {
	if candidate == root {
		return true
	}
	if root == string(os.PathSeparator) {
		return false
	}
	return strings.HasPrefix(candidate, root+string(os.PathSeparator))
}
