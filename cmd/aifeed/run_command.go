package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ai_feed/internal/httpapi"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

			if err := ensureParentDir(cfg.LockPath); err != nil {
				return err
			}
			lock := flock.New(cfg.LockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another aifeed instance is already running (lock %s)", cfg.LockPath)
			}
			defer func() { _ = lock.Unlock() }()

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(runCtx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			log.Info("starting ingestion loop",
				"interval", cfg.Scheduler.Interval,
				"workers", cfg.Scheduler.Workers,
				"http_addr", cfg.HTTPAddr)

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				a.scheduler.Run(gctx)
				return nil
			})
			if cfg.HTTPAddr != "" {
				srv := httpapi.New(a.store, a.scheduler, a.orchestrator, log)
				g.Go(func() error {
					return srv.ListenAndServe(gctx, cfg.HTTPAddr)
				})
			}
			err = g.Wait()

			log.Info("ingestion loop stopped")
			return err
		},
	}
}
