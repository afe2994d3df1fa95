package runner

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"cleanupd/internal/config"
	"cleanupd/internal/eviction"
	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
	"cleanupd/internal/result"
	"cleanupd/internal/rolelock"
)

// RunEvictor performs one eviction session. Every attempted target,
// including policies rejected while loading, appends exactly one history
// record carrying the session's run id.
func RunEvictor(cmdCtx context.Context, cfg *config.Config, opts Options) (SessionReport, error) {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, ctx, report, err := begin(signalCtx, cfg, rolelock.RoleEvictor, opts)
	if errors.Is(err, errBusy) {
		return report, nil
	}
	if err != nil {
		return report, err
	}
	defer s.end(&report)

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

	record := func(sum eviction.Summary) {
		report.Evictions = append(report.Evictions, sum)
		outcome := sum.Outcome()
		if _, err := store.AppendHistory(workCtx, sum.Record(s.runID, report.StartedAt)); err != nil {
			outcome = result.Failed
			logging.ErrorWithContext(s.logger, "history append failed", "history_append_failed",
				logging.Target(sum.Target),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the index database is writable"),
			)
		}
		report.Tally.Add(outcome)
	}

	for _, issue := range issues {
		record(eviction.Failed(issue.ID, issueTarget(issue), issue.Err))
	}

	engine := eviction.New(store, opts.Remover, s.guard, s.base)
	for i, p := range policies {
		if s.interrupted(ctx, len(policies)-i) {
			report.Interrupted = true
			break
		}
		record(engine.Evict(workCtx, p))
	}
	return report, nil
}

// issueTarget names the history row of a policy that failed to load. When
// the file never got as far as naming a target, the policy file stands in.
func issueTarget(issue policy.LoadIssue) string {
	if issue.TargetPath != "" {
		return issue.TargetPath
	}
	return fmt.Sprintf("policy:%s", issue.Path)
}
