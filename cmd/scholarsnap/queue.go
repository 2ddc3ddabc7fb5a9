package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ScholarSnap/internal/app"
)

var beatCmd = &cobra.Command{
	Use:   "beat",
	Short: "Enqueue a run request on the beat cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueueApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			return a.Beat(ctx)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume run requests from the task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			return a.Worker(ctx)
		})
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit one run request and print its task id",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueueApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			id, err := a.Enqueue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result TASK_ID",
	Short: "Print the stored result of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueueApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			res, err := a.TaskResult(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		})
	},
}

func init() {
	rootCmd.AddCommand(beatCmd, workerCmd, enqueueCmd, resultCmd)
}
