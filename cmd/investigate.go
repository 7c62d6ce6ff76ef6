// File: cmd/investigate.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/internal/monitor"
	"github.com/vexlabs-io/lurehound/internal/observability"
	"github.com/vexlabs-io/lurehound/internal/orchestrator"
	"github.com/vexlabs-io/lurehound/internal/reason"
	"github.com/vexlabs-io/lurehound/internal/store"
)

const timeRound = 100 * time.Millisecond

// newInvestigateCmd creates the `investigate` command, which runs the full
// active-interaction pipeline against one or more target URLs.
func newInvestigateCmd() *cobra.Command {
	investigateCmd := &cobra.Command{
		Use:   "investigate [urls...]",
		Short: "Run active investigations against the given target URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			applyInvestigateOverrides(cmd)

			urls := make([]string, 0, len(args))
			for _, raw := range args {
				urls = append(urls, normalizeURL(raw))
			}
			logger.Info("Starting investigations",
				zap.Strings("urls", urls),
				zap.Int("max_concurrent", cfg.Admission.MaxConcurrent),
			)

			reasoner, err := reason.NewReasoner(cfg.Reasoner, logger)
			if err != nil {
				return fmt.Errorf("initializing reasoner: %w", err)
			}
			defer reasoner.Close() //nolint:errcheck

			deps := orchestrator.Deps{
				Reasoner: reasoner,
				Drivers:  orchestrator.ChromeDrivers(cfg, logger),
			}

			if cfg.Store.Enabled {
				st, err := store.Open(ctx, cfg.Store.Path)
				if err != nil {
					return fmt.Errorf("opening session store: %w", err)
				}
				defer st.Close() //nolint:errcheck
				deps.Store = st
			}

			if eventsPath, _ := cmd.Flags().GetString("events"); eventsPath != "" {
				f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("opening events file: %w", err)
				}
				defer f.Close() //nolint:errcheck
				deps.ExtraSinks = append(deps.ExtraSinks, monitor.NewJSONLSink(f))
			}

			// The monitor boundary runs for the duration of the batch so an
			// operator can watch progress and answer guidance requests.
			if cfg.Monitor.Enabled {
				server := monitor.NewServer(logger)
				deps.Monitor = server
				serveCtx, stopServing := context.WithCancel(ctx)
				defer stopServing()
				go func() {
					if err := server.Start(serveCtx, cfg.Monitor.ListenAddr); err != nil {
						logger.Error("Monitor API failed", zap.Error(err))
					}
				}()
			}

			o, err := orchestrator.New(cfg, deps, logger)
			if err != nil {
				return err
			}

			results := o.InvestigateAll(ctx, urls)
			printResults(cmd, results)

			if err := ctx.Err(); err != nil {
				return fmt.Errorf("investigation batch aborted: %w", err)
			}
			return batchError(results)
		},
	}

	investigateCmd.Flags().Float64("ceiling", 0, "Per-investigation cost ceiling in USD (overrides config)")
	investigateCmd.Flags().Int("max-concurrent", 0, "Maximum concurrent investigations (overrides config)")
	investigateCmd.Flags().Bool("monitor", false, "Serve the monitoring/guidance API for this run")
	investigateCmd.Flags().Bool("no-store", false, "Skip persisting sessions to the local store")
	investigateCmd.Flags().String("events", "", "Append every session event as JSON lines to this file")
	investigateCmd.Flags().String("playbook-dir", "", "Directory of playbook definitions (overrides config)")
	return investigateCmd
}

// applyInvestigateOverrides folds explicitly-set flags into the resolved
// config before any component reads it.
func applyInvestigateOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("ceiling") {
		cfg.Budget.CeilingUSD, _ = flags.GetFloat64("ceiling")
		cfg.Budget.Enabled = cfg.Budget.CeilingUSD > 0
	}
	if flags.Changed("max-concurrent") {
		if n, _ := flags.GetInt("max-concurrent"); n > 0 {
			cfg.Admission.MaxConcurrent = n
		}
	}
	if flags.Changed("monitor") {
		cfg.Monitor.Enabled, _ = flags.GetBool("monitor")
	}
	if flags.Changed("no-store") {
		if skip, _ := flags.GetBool("no-store"); skip {
			cfg.Store.Enabled = false
		}
	}
	if flags.Changed("playbook-dir") {
		cfg.Playbooks.Dir, _ = flags.GetString("playbook-dir")
	}
}

func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

func printResults(cmd *cobra.Command, results []orchestrator.Result) {
	out := cmd.OutOrStdout()
	for _, res := range results {
		if res.Err != nil && res.Session == nil {
			fmt.Fprintf(out, "%-50s error: %v\n", res.URL, res.Err)
			continue
		}
		fmt.Fprintf(out, "%-50s %-20s steps=%-3d wallets=%-2d cost=$%.4f (%s)\n",
			res.URL, res.Session.Outcome, res.Session.StepCount(),
			len(res.Session.Wallets), res.CostUSD, res.Duration.Round(timeRound))
	}
}

// batchError maps batch results to the process exit status: the command
// fails only when every investigation failed outright.
func batchError(results []orchestrator.Result) error {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed == len(results) && failed > 0 {
		return errors.New("all investigations failed")
	}
	return nil
}
