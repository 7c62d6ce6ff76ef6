// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/internal/config"
	"github.com/vexlabs-io/lurehound/internal/observability"
)

// cfg holds the resolved configuration for the lifetime of one command
// execution. It is set by the root PersistentPreRunE before any RunE fires.
var cfg *config.Config

// NewRootCommand builds a fresh command tree. A new instance per execution
// keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "lurehound",
		Short: "Lurehound actively investigates scam investment sites.",
		Long: `Lurehound drives a disposable browser through suspected scam investment
sites with synthetic identities, registering accounts and extracting the
cryptocurrency deposit addresses the operators hand out.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cfgFile)
			if err != nil {
				// Fall back to a console logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "lurehound",
				})
				return err
			}
			cfg = loaded
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./lurehound.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newInvestigateCmd(),
		newPlaybookCmd(),
		newSessionsCmd(),
		newWalletsCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with a signal-aware context supplied by main.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// loadConfig reads the config file and environment, layered over defaults.
// A missing config file is fine; env vars and defaults carry the run.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("lurehound")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LUREHOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return config.NewConfigFromViper(v)
}
