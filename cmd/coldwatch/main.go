// Command coldwatch ingests cold-chain telemetry and escalates temperature
// alerts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coldwatch/coldwatch/internal/app"
	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "coldwatch",
		Short:         "Cold-chain telemetry ingestion and alert escalation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run ingestion, reminders, the HTTP API and the command poller",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath, func(ctx context.Context, a *app.App, log logger.Logger) error {
					source, err := app.SourceFor(a.Settings, log)
					if err != nil {
						return err
					}
					return a.Serve(ctx, source)
				})
			},
		},
		&cobra.Command{
			Use:   "bot",
			Short: "Run only the Telegram command poller",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath, func(ctx context.Context, a *app.App, _ logger.Logger) error {
					return a.RunBot(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath, func(_ context.Context, a *app.App, log logger.Logger) error {
					log.Info("schema up to date", logger.String("database", a.Store.Dialect()))
					return nil
				})
			},
		},
	)
	return root
}

// run loads settings, builds the App and calls fn with a context cancelled
// on SIGINT or SIGTERM.
func run(parent context.Context, configPath string, fn func(context.Context, *app.App, logger.Logger) error) error {
	settings, err := conf.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.NewZapLogger(os.Stdout, logger.LogLevel(settings.Log.Level), &logger.Options{
		Format:  settings.Log.Format,
		Service: "coldwatch",
	})
	defer func() { _ = log.Sync() }()

	flush, err := app.InitSentry(settings.Sentry, version)
	if err != nil {
		return err
	}
	defer flush()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(settings, log)
	if err != nil {
		log.Error("startup failed", logger.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("closing database failed", logger.Error(err))
		}
	}()

	if err := fn(ctx, a, log); err != nil {
		log.Error("coldwatch terminated", logger.Error(err))
		return err
	}
	return nil
}
