package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cleanupd/internal/config"
	"cleanupd/internal/eviction"
	"cleanupd/internal/logging"
	"cleanupd/internal/pathguard"
	"cleanupd/internal/policy"
	"cleanupd/internal/result"
	"cleanupd/internal/rolelock"
	"cleanupd/internal/scanner"
)

// Options configures one role run.
type Options struct {
	// Logger replaces the per-run logger. When nil a logger writing to
	// stderr and <log_dir>/<role>-<run_id>.log is built from the config.
	Logger *slog.Logger
	// Remover replaces the filesystem remover used by the evictor.
	Remover eviction.Remover
	// Now replaces the clock used for history timestamps.
	Now func() time.Time
	// Ready is called with the bound address once the control plane
	// accepts connections.
	Ready func(addr string)
}

// SessionReport summarizes one indexer or evictor run.
type SessionReport struct {
	Role        string                 `json:"role"`
	RunID       string                 `json:"run_id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	LogPath     string                 `json:"log_path,omitempty"`
	Busy        bool                   `json:"busy"`
	HolderPID   int                    `json:"holder_pid,omitempty"`
	Interrupted bool                   `json:"interrupted"`
	Tally       result.Tally           `json:"tally"`
	Issues      []policy.LoadIssue     `json:"-"`
	Scans       []scanner.TargetResult `json:"scans,omitempty"`
	Evictions   []eviction.Summary     `json:"evictions,omitempty"`
}

// Outcome is the worst outcome over the session's targets.
func (r SessionReport) Outcome() result.Outcome {
	return r.Tally.Worst()
}

// session is the per-run state shared by the roles. base is handed to
// components, which add the context fields themselves; logger already
// carries them.
type session struct {
	cfg     *config.Config
	role    string
	runID   string
	base    *slog.Logger
	logger  *slog.Logger
	logPath string
	lock    *rolelock.Lock
	guard   *pathguard.Guard
	now     func() time.Time
}

// errBusy is returned by begin when another process holds the role.
var errBusy = errors.New("role busy")

// begin takes the role lock and sets up logging. When the role is held
// elsewhere it logs one warning and returns a report marked Busy along with
// errBusy.
func begin(ctx context.Context, cfg *config.Config, role string, opts Options) (*session, context.Context, SessionReport, error) {
	if cfg == nil {
		return nil, ctx, SessionReport{}, errors.New("config is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	report := SessionReport{Role: role, StartedAt: now().UTC()}

	lock, err := rolelock.Acquire(cfg.Paths.LockDir, role)
	if err != nil {
		if errors.Is(err, rolelock.ErrBusy) {
			logger := opts.Logger
			if logger == nil {
				if fallback, _, logErr := logging.NewFromConfig(cfg, "", ""); logErr == nil {
					logger = fallback
				}
			}
			report.Busy = true
			report.HolderPID, _ = rolelock.HolderPID(cfg.Paths.LockDir, role)
			report.FinishedAt = now().UTC()
			logging.WarnWithContext(logger, "another instance is running; exiting", "role_busy",
				logging.String(logging.FieldRole, role),
				logging.Int("holder_pid", report.HolderPID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "wait for the running instance to finish"),
				logging.String(logging.FieldImpact, "this invocation did nothing"),
			)
			return nil, ctx, report, errBusy
		}
		return nil, ctx, report, fmt.Errorf("acquire %s lock: %w", role, err)
	}

	s := &session{
		cfg:     cfg,
		role:    role,
		runID:   uuid.NewString(),
		lock:    lock,
		guard:   pathguard.New(cfg.ProtectedPaths),
		now:     now,
	}
	report.RunID = s.runID

	if opts.Logger != nil {
		s.base = opts.Logger
	} else {
		logger, logPath, err := logging.NewFromConfig(cfg, role, s.runID)
		if err != nil {
			_ = lock.Release()
			return nil, ctx, report, fmt.Errorf("init logger: %w", err)
		}
		s.base = logger
		s.logPath = logPath
		report.LogPath = logPath
	}

	ctx = logging.WithRole(logging.WithRunID(ctx, s.runID), role)
	s.logger = logging.WithContext(ctx, s.base)

	if s.logPath != "" {
		removed := logging.CleanupOldLogs(s.logger, cfg.Paths.LogDir, role+"-*.log", cfg.Logging.RetentionDays, s.logPath)
		if removed > 0 {
			s.logger.Debug("old run logs pruned", logging.Int("removed", removed))
		}
	}

	s.logger.Info("session started",
		logging.String("lock_path", lock.Path()),
		logging.Int("pid", os.Getpid()),
		logging.String("log_path", s.logPath),
		logging.String(logging.FieldEventType, "session_started"),
	)
	return s, ctx, report, nil
}

// end releases the role lock and logs the session summary.
func (s *session) end(report *SessionReport) {
	report.FinishedAt = s.now().UTC()
	s.logger.Info("session finished",
		logging.String("outcome", string(report.Outcome())),
		logging.Int("succeeded", report.Tally.Succeeded),
		logging.Int("skipped", report.Tally.Skipped),
		logging.Int("failed", report.Tally.Failed),
		logging.Int("policy_issues", len(report.Issues)),
		logging.Bool("interrupted", report.Interrupted),
		logging.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		logging.String(logging.FieldEventType, "session_finished"),
	)
	if err := s.lock.Release(); err != nil {
		logging.WarnWithContext(s.logger, "role lock release failed", "role_lock_release_failed",
			logging.String("lock_path", s.lock.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the stale lock file if no instance is running"),
		)
	}
}

// snapshot loads the policies for this run. The policy store is built over
// the configured directory with the session's guard.
func (s *session) snapshot(ctx context.Context) ([]policy.DirectoryPolicy, []policy.LoadIssue, error) {
	store := policy.NewStore(s.cfg.Paths.PolicyDir, s.guard, s.logger)
	policies, issues, err := store.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load policies from %s: %w", filepath.Clean(s.cfg.Paths.PolicyDir), err)
	}
	s.logger.Info("policies loaded",
		logging.Int("policies", len(policies)),
		logging.Int("issues", len(issues)),
		logging.String(logging.FieldEventType, "policies_loaded"),
	)
	return policies, issues, nil
}

// interrupted reports whether a shutdown signal arrived. Targets are never
// cut short; the session stops before starting the next one.
func (s *session) interrupted(ctx context.Context, remaining int) bool {
	if ctx.Err() == nil {
		return false
	}
	logging.WarnWithContext(s.logger, "shutdown requested; stopping before next target", "session_interrupted",
		logging.Int("remaining_targets", remaining),
		logging.String(logging.FieldImpact, "remaining targets wait for the next run"),
	)
	return true
}
