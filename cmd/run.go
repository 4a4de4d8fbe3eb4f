package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yourusername/site-monitor/api"
	"github.com/yourusername/site-monitor/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runMonitor runs the engine, and the HTTP server when withWeb is set,
// until SIGINT or SIGTERM. The reload signal rebuilds every task from the
// store.
func runMonitor(config core.Config, logger *zap.Logger, withWeb bool) error {
	defer logger.Sync()

	daemon := core.NewDaemonManager(config.DataDir)
	if err := daemon.WritePID(); err != nil {
		return err
	}
	defer daemon.RemovePID()

	app, err := core.NewApp(config, core.AppOptions{Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if sig, ok := core.ReloadSignal(); ok {
		g.Go(func() error {
			reload := make(chan os.Signal, 1)
			signal.Notify(reload, sig)
			defer signal.Stop(reload)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-reload:
					if err := app.ReloadTargets(gctx); err != nil {
						logger.Error("target reload failed", zap.Error(err))
						continue
					}
					logger.Info("targets reloaded", zap.Int("tasks", app.GetStatus().ActiveTasks))
				}
			}
		})
	}
	if withWeb {
		server := api.NewServer(app, config.Web)
		server.PrintStartupInfo()
		g.Go(func() error {
			return server.Run(gctx)
		})
	} else {
		fmt.Println("✅ 监控已启动，按 Ctrl+C 停止")
	}

	err = g.Wait()
	if stopErr := app.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
