package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the collection loop and the HTTP control API",
		Long: `Validates every collector, starts the periodic collection loop (unless
collector.autostart is false) and serves the status, control and event query
API until interrupted.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()
	manager := appInstance.GetManager()

	if !manager.InitializeAll(ctx) {
		logger.Warn("some collectors failed readiness checks", zap.Any("readiness", manager.Readiness()))
	}
	if cfg.Collector.Autostart {
		manager.StartLoop(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(manager, appInstance.GetStore(), api.Options{APIKey: cfg.Server.APIKey}, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			manager.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	manager.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := manager.Wait(shutdownCtx); err != nil {
		logger.Warn("collection loop did not exit before shutdown deadline", zap.Error(err))
	}
	return nil
}
