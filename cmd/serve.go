package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves departures over HTTP and websockets",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

const staticSyncInterval = 1 * time.Hour

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("poll-interval", server.DefaultPollInterval, "How often to poll the realtime feed")
	v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	v.BindPFlag("refresh.poll_interval", serveCmd.Flags().Lookup("poll-interval"))
}

func serve(cmd *cobra.Command, args []string) error {
	e, err := LoadEngine(false)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	logger.Info("starting caltrain server",
		"http_addr", cfg.Server.Addr,
		"storage", cfg.Storage.Backend,
		"redis", cfg.Redis.Addr != "",
		"poll_interval", cfg.Refresh.PollInterval,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = syncStatic(ctx, e, false)
	if err != nil {
		// The API still serves what's stored
		logger.Error("static sync failed", "error", err)
	}

	hub := server.NewHub(logger)
	poller := server.NewPoller(e, hub, logger)
	poller.Interval = cfg.Refresh.PollInterval
	srv := server.New(e, hub, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go hub.Run(ctx)
	go poller.Run(ctx)
	go staticSyncLoop(ctx, e)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func staticSyncLoop(ctx context.Context, e *caltrain.Engine) {
	ticker := time.NewTicker(staticSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := syncStatic(ctx, e, false)
			if err != nil {
				logger.Warn("static sync failed", "error", err)
			}
		}
	}
}
