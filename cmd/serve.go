// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vexlabs-io/lurehound/internal/monitor"
	"github.com/vexlabs-io/lurehound/internal/observability"
)

// newServeCmd creates the `serve` command. It runs the monitoring/guidance
// HTTP boundary on its own, which is mostly useful for poking at the API;
// during real runs `investigate --monitor` serves the same boundary with
// live investigations registered on it.
func newServeCmd() *cobra.Command {
	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the monitoring and guidance HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Monitor.ListenAddr
			}
			server := monitor.NewServer(observability.GetLogger())
			return server.Start(cmd.Context(), addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "listen", "", "Listen address (defaults to the configured one)")
	return serveCmd
}
