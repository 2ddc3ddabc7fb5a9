package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ScholarSnap/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform exactly one run and exit",
	Long: `run fetches, summarizes and emails the newest paper once. The exit status
is non-zero when the run fails; a run with nothing to do succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			result, err := a.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.String())
			if !result.OK() {
				return fmt.Errorf("run failed: %s: %w", result.Reason, result.Err)
			}
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on the configured interval or cron schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			return a.Serve(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd)
}
