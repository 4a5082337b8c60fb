// Package cmd defines and implements the CLI commands for the crisis collector.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/app"
	"github.com/crisiswatch/crisis-collector/internal/collector"
	"github.com/crisiswatch/crisis-collector/internal/config"
	"github.com/crisiswatch/crisis-collector/internal/crisis"
	"github.com/crisiswatch/crisis-collector/internal/logging"
	"github.com/crisiswatch/crisis-collector/internal/telemetry"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
// Tests inject a mock through newApp.
type App interface {
	Close(ctx context.Context) error
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStore() crisis.EventStore
	GetManager() *collector.Manager
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile     string
		logger      *zap.Logger
		tracing     *sdktrace.TracerProvider
		appInstance App
	)

	// shutdown releases whatever PersistentPreRunE managed to build. It is safe
	// to call more than once.
	shutdown := func(ctx context.Context) error {
		var errs []error
		if appInstance != nil {
			if err := appInstance.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close application: %w", err))
			}
			appInstance = nil
		} else if logger != nil {
			// The app flushes the logger itself; without one it is flushed here.
			_ = logger.Sync()
		}
		logger = nil
		if tracing != nil {
			if err := tracing.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
			}
			tracing = nil
		}
		return errors.Join(errs...)
	}

	cmd := &cobra.Command{
		Use:   "crisis-collector",
		Short: "Collects crisis-related news events from configured sites.",
		Long: `crisis-collector periodically scrapes a catalog of news sites, keeps the
articles that describe a crisis, classifies them by event type and stores them
as structured events that can be queried over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			tracing, err = telemetry.InitTracerProvider(cmd.Context(), telemetry.ServiceName)
			if err != nil {
				return errors.Join(fmt.Errorf("init tracing: %w", err), shutdown(cmd.Context()))
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return errors.Join(
					fmt.Errorf("failed to initialize application services: %w", err),
					shutdown(context.WithoutCancel(cmd.Context())),
				)
			}
			appInstance = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		// Cobra skips this hook when RunE fails; failing subcommands shut down
		// through closeOnError instead.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults and CRISIS_* env vars apply without it")

	for _, sub := range []*cobra.Command{newServeCmd(), newCollectCmd()} {
		sub.RunE = closeOnError(sub.RunE, shutdown)
		cmd.AddCommand(sub)
	}
	return cmd
}

// closeOnError wraps run so that a failure still releases application services.
func closeOnError(
	run func(*cobra.Command, []string) error,
	shutdown func(context.Context) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := run(cmd, args); err != nil {
			return errors.Join(err, shutdown(context.WithoutCancel(cmd.Context())))
		}
		return nil
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
