package runner

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"cleanupd/internal/config"
	"cleanupd/internal/controlplane"
	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
	"cleanupd/internal/rolelock"
	"cleanupd/internal/usage"
)

// Serve runs the control plane until the context ends or a shutdown signal
// arrives. Like the other roles it holds a singleton lock and treats a busy
// role as a clean exit.
func Serve(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, ctx, report, err := begin(signalCtx, cfg, rolelock.RoleAPI, opts)
	if errors.Is(err, errBusy) {
		return nil
	}
	if err != nil {
		return err
	}
	defer s.end(&report)

	store, err := index.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(s.logger, "open index failed", "index_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.db_path and run 'cleanupd config validate'"),
		)
		return err
	}
	defer store.Close()

	srv, err := controlplane.New(cfg.API.Bind, cfg.API.Token, controlplane.Deps{
		Policies: policy.NewStore(cfg.Paths.PolicyDir, s.guard, s.logger),
		Index:    store,
		Usage:    usage.NewCollector(store, s.logger),
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if opts.Ready != nil {
		opts.Ready(srv.Addr())
	}

	<-ctx.Done()
	srv.Stop()
	s.logger.Info("control plane shutting down", logging.String(logging.FieldEventType, "api_stopped"))
	return nil
}
