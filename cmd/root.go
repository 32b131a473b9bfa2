// Package cmd implements the releasewatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/app"
	"github.com/JakeFAU/release-watcher/internal/config"
	"github.com/JakeFAU/release-watcher/internal/logging"
	"github.com/JakeFAU/release-watcher/internal/scheduler"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands use. Tests inject a fake through newApp.
type App interface {
	Serve(ctx context.Context) error
	PollOnce(ctx context.Context) (scheduler.Report, error)
	LookupRecent(ctx context.Context, filter string) (string, error)
	LookupDetail(ctx context.Context, code, id string) (string, error)
	Close()
}

type wiredApp struct {
	*app.App
}

func (w wiredApp) PollOnce(ctx context.Context) (scheduler.Report, error) {
	return w.Service.PollOnce(ctx)
}

func (w wiredApp) LookupRecent(ctx context.Context, filter string) (string, error) {
	return w.Service.LookupRecent(ctx, filter)
}

func (w wiredApp) LookupDetail(ctx context.Context, code, id string) (string, error) {
	return w.Service.LookupDetail(ctx, code, id)
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return wiredApp{a}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "releasewatch",
		Short: "Watches film and series release sites and announces new releases.",
		Long: `releasewatch polls the listing pages of configured release sites,
remembers every release it has seen and sends each new one to the
subscribed chats.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd(), newPollCmd(), newRecentCmd(), newDetailCmd())
	return cmd
}

func appFrom(cmd *cobra.Command) (App, error) {
	a, ok := cmd.Context().Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
