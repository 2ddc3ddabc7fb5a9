package main

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ScholarSnap/internal/app"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the notification log table and index",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			return a.InitDB(ctx)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the most recent notification log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			records, err := a.History(ctx, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SENT AT\tRECIPIENT\tPAPER")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.SentAt.Format(time.DateTime), r.Recipient, r.PaperTitle)
			}
			return w.Flush()
		})
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of entries to show")
	rootCmd.AddCommand(initDBCmd, historyCmd)
}
