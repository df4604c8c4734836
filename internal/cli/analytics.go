package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"github.com/suPer8Hu/mas-assistant/internal/db"
	"github.com/suPer8Hu/mas-assistant/internal/events"
)

func newAnalyticsCmd(e *env) *cobra.Command {
	var (
		email   string
		outcome string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "List stored orchestration events, newest first",
		Long: `List the analytics rows the worker persisted from the event queue.

Examples:
  masctl analytics --outcome fallback
  masctl analytics --email jane@example.org -n 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := db.Connect(e.cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			rows, err := chat.NewRepo(gdb).ListAnalytics(cmd.Context(), chat.AnalyticsFilter{
				UserHash: events.HashUser(email),
				Outcome:  outcome,
				Limit:    limit,
			})
			if err != nil {
				return fmt.Errorf("list analytics: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			for _, r := range rows {
				fmt.Fprintf(out, "%s  %-8s %-10s %-9s %-20s tokens=%d %dms crm=%t kb=%t\n",
					r.At.Format("2006-01-02 15:04:05"), r.Outcome, r.Slot, r.Provider, r.Model,
					r.TokensUsed, r.ResponseTimeMS, r.HadCRMData, r.HadKnowledgeBase)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "only events for this user")
	cmd.Flags().StringVar(&outcome, "outcome", "", "ok, fallback or invalid")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "max rows")
	return cmd
}
