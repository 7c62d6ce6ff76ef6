// File: cmd/sessions.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/store"
)

// newSessionsCmd groups queries against the local session store.
func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Query finished investigation sessions",
	}
	sessionsCmd.AddCommand(newSessionsListCmd(), newSessionsShowCmd())
	return sessionsCmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		outcome string
		limit   int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer st.Close() //nolint:errcheck

			summaries, err := st.ListSessions(ctx, schemas.Outcome(outcome), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "no sessions stored")
				return nil
			}
			fmt.Fprintf(out, "%-36s %-44s %-20s %-5s %-7s %-9s %s\n",
				"SESSION", "URL", "OUTCOME", "STEPS", "WALLETS", "COST", "STARTED")
			for _, s := range summaries {
				fmt.Fprintf(out, "%-36s %-44s %-20s %-5d %-7d $%-8.4f %s\n",
					s.ID, truncateCell(s.TargetURL, 44), s.Outcome, s.StepCount,
					s.WalletCount, s.CostUSD, s.StartedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome (completed, needs_manual_review, budget_exceeded, failed)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of sessions to list")
	return listCmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one stored session as JSON, steps and wallets included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer st.Close() //nolint:errcheck

			sess, err := st.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func truncateCell(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
