package runner

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"cleanupd/internal/config"
	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/result"
	"cleanupd/internal/rolelock"
	"cleanupd/internal/scanner"
)

// RunIndexer performs one indexing session: every valid policy's target is
// pruned to its depth limit and its files recorded in the index. A busy role
// is not an error; the returned report has Busy set.
func RunIndexer(cmdCtx context.Context, cfg *config.Config, opts Options) (SessionReport, error) {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, ctx, report, err := begin(signalCtx, cfg, rolelock.RoleIndexer, opts)
	if errors.Is(err, errBusy) {
		return report, nil
	}
	if err != nil {
		return report, err
	}
	defer s.end(&report)

	// Work on a target is never cancelled midway.
	workCtx := context.WithoutCancel(ctx)

	store, err := index.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(s.logger, "open index failed", "index_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.db_path and run 'cleanupd config validate'"),
		)
		return report, err
	}
	defer store.Close()

	policies, issues, err := s.snapshot(workCtx)
	if err != nil {
		return report, err
	}
	report.Issues = issues
	for range issues {
		report.Tally.Add(result.Skipped)
	}

	sc := scanner.New(store, s.guard, s.base)
	for i, p := range policies {
		if s.interrupted(ctx, len(policies)-i) {
			report.Interrupted = true
			break
		}
		res := sc.Scan(workCtx, p)
		report.Scans = append(report.Scans, res)
		report.Tally.Add(res.Outcome)
	}
	return report, nil
}
