// File: cmd/playbook.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexlabs-io/lurehound/internal/playbook"
)

// newPlaybookCmd groups playbook maintenance subcommands.
func newPlaybookCmd() *cobra.Command {
	playbookCmd := &cobra.Command{
		Use:   "playbook",
		Short: "Inspect and validate playbook definitions",
	}
	playbookCmd.AddCommand(newPlaybookListCmd(), newPlaybookValidateCmd())
	return playbookCmd
}

func newPlaybookListCmd() *cobra.Command {
	var dir string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the playbooks loaded from the playbook directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = cfg.Playbooks.Dir
			}
			pbs := playbook.LoadDir(dir)
			out := cmd.OutOrStdout()
			if len(pbs) == 0 {
				fmt.Fprintf(out, "no playbooks found in %s\n", dir)
				return nil
			}
			fmt.Fprintf(out, "%-28s %-40s %-6s %s\n", "ID", "URL PATTERN", "STEPS", "ENABLED")
			for _, pb := range pbs {
				fmt.Fprintf(out, "%-28s %-40s %-6d %t\n", pb.ID, pb.URLPattern, len(pb.Steps), pb.Enabled)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&dir, "dir", "", "Playbook directory (defaults to the configured one)")
	return listCmd
}

func newPlaybookValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate playbook definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				pb, err := playbook.LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "OK   %s (%s, %d steps)\n", path, pb.ID, len(pb.Steps))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d playbooks failed validation", failed, len(args))
			}
			return nil
		},
	}
}
