package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var monitorOnce bool

// monitorCmd crawls the monitored pages, either once or on a schedule.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Crawl monitored pages for knowledge base updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if n, err := a.scheduler.ApplyTargetsFile(ctx, cfg.Monitor.TargetsFile); err != nil {
			logger.Warn("failed to load monitor targets", zap.Error(err))
		} else {
			logger.Info("monitor targets loaded", zap.Int("targets", n))
		}

		if monitorOnce {
			a.scheduler.Tick(ctx)
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.scheduler.Run(gctx) })
		g.Go(func() error { return a.scheduler.WatchTargetsFile(gctx, cfg.Monitor.TargetsFile) })
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run one crawl pass and exit")
}
