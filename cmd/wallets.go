// File: cmd/wallets.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexlabs-io/lurehound/internal/store"
)

// newWalletsCmd creates the `wallets` command, which lists every deposit
// address harvested across stored sessions.
func newWalletsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallets",
		Short: "List harvested wallet addresses across all stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer st.Close() //nolint:errcheck

			records, err := st.ListWallets(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no wallets stored")
				return nil
			}
			fmt.Fprintf(out, "%-8s %-8s %-46s %-14s %-5s %s\n",
				"SYMBOL", "NETWORK", "ADDRESS", "METHOD", "CONF", "SITE")
			for _, rec := range records {
				w := rec.Wallet
				fmt.Fprintf(out, "%-8s %-8s %-46s %-14s %.2f  %s\n",
					w.Symbol, w.Network, w.Address, w.Method, w.Confidence,
					truncateCell(rec.TargetURL, 44))
			}
			return nil
		},
	}
}
