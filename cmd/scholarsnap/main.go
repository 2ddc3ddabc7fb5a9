// Package main is the entry point for the scholarsnap CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ScholarSnap/internal/app"
	"ScholarSnap/internal/config"
	"ScholarSnap/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "scholarsnap",
	Short: "Email a summary of the newest arXiv paper to a recipient list",
	Long: `scholarsnap fetches the newest paper from an arXiv category, extracts its
text, asks a language model for a formatted summary and emails it to every
configured recipient who has not been notified today.

Runs can be triggered once (run), on an in-process interval or cron schedule
(serve), or through a Redis task queue (beat enqueues, worker executes).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (default: $SCHOLARSNAP_CONFIG, then defaults and environment)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config, if present")
}

type appFunc func(ctx context.Context, a *app.Application, logger *slog.Logger) error

// withApp loads configuration, builds the application and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn appFunc) error {
	return runApp(cmd, config.Load, app.New, fn)
}

// withQueueApp is withApp for commands that only use the task queue.
func withQueueApp(cmd *cobra.Command, fn appFunc) error {
	return runApp(cmd, config.LoadQueue,
		func(_ context.Context, cfg config.Config, logger *slog.Logger) (*app.Application, error) {
			return app.NewQueueClient(cfg, logger), nil
		}, fn)
}

func runApp(
	cmd *cobra.Command,
	load func(string) (config.Config, error),
	build func(context.Context, config.Config, *slog.Logger) (*app.Application, error),
	fn appFunc,
) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := load(path)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	return fn(ctx, a, logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
