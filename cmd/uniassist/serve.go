package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr        string
	serveWithMonitor bool
)

// serveCmd runs the HTTP server (and, optionally, the crawl scheduler).
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP query server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
		if err != nil {
			shutdownTimeout = 10 * time.Second
		}

		g, gctx := errgroup.WithContext(ctx)
		if serveWithMonitor {
			if n, err := a.scheduler.ApplyTargetsFile(gctx, cfg.Monitor.TargetsFile); err != nil {
				logger.Warn("failed to load monitor targets", zap.Error(err))
			} else {
				logger.Info("monitor targets loaded", zap.Int("targets", n))
			}
			g.Go(func() error { return a.scheduler.Run(gctx) })
			g.Go(func() error { return a.scheduler.WatchTargetsFile(gctx, cfg.Monitor.TargetsFile) })
		}
		g.Go(func() error { return a.srv.Run(gctx, addr, shutdownTimeout) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveWithMonitor, "with-monitor", true, "run the periodic crawl scheduler alongside the server")
}
