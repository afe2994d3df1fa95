package rolelock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// Roles that hold a singleton lock.
const (
	RoleIndexer = "indexer"
	RoleEvictor = "evictor"
	RoleAPI     = "api"
)

// ErrBusy reports that another process already holds the role lock.
var ErrBusy = errors.New("role lock held by another process")

// acquireAttempts bounds retries when the lock file vanishes underneath us,
// which happens when the previous holder removes it between our open and our
// lock.
const acquireAttempts = 3

// Lock is a held singleton role lock.
type Lock struct {
	role string
	path string
	fl   *flock.Flock
}

// Acquire takes the exclusive lock for role in dir without blocking. It
// returns an error wrapping ErrBusy when another process holds it. Any other
// error means the lock file could not be created or locked at all.
func Acquire(dir, role string) (*Lock, error) {
	if strings.TrimSpace(role) == "" || strings.ContainsRune(role, filepath.Separator) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, role+".pid")

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		fl := flock.New(path)
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !locked {
			if pid, ok := readPID(path); ok {
				return nil, fmt.Errorf("%w: %s (pid %d)", ErrBusy, role, pid)
			}
			return nil, fmt.Errorf("%w: %s", ErrBusy, role)
		}

		// The previous holder may have unlinked the file after we opened it;
		// then we hold a lock nobody else can see. Start over on a fresh file.
		if _, err := os.Stat(path); err != nil {
			_ = fl.Unlock()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			_ = fl.Unlock()
			return nil, fmt.Errorf("write pid to %s: %w", path, err)
		}
		return &Lock{role: role, path: path, fl: fl}, nil
	}
	return nil, fmt.Errorf("lock %s: file kept disappearing", path)
}

// Role returns the locked role name.
func (l *Lock) Role() string { return l.role }

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file and then drops the lock. Removing first means
// no waiting process can lock the old file after we let go. Release is safe
// to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil || !l.fl.Locked() {
		return nil
	}
	removeErr := os.Remove(l.path)
	if errors.Is(removeErr, fs.ErrNotExist) {
		removeErr = nil
	}
	unlockErr := l.fl.Unlock()
	if removeErr != nil {
		return fmt.Errorf("remove lock file: %w", removeErr)
	}
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	return nil
}

// HolderPID returns the PID recorded in the role's lock file, if any. It does
// not check whether the lock is actually held.
func HolderPID(dir, role string) (int, bool) {
	return readPID(filepath.Join(dir, role+".pid"))
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
