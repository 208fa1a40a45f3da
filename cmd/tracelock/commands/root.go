package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/internal/app"
	"github.com/tracelock/tracelock/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tracelock",
	Short: "Deterministic evidence ledger for external configuration state",
	Long: `tracelock captures point-in-time snapshots of external configuration
state, detects drift between them, and records tamper-evident evidence
bundles explaining every published conclusion.

Everything the ledger stores is append-only and hash-pinned: the same
logical state always canonicalizes to the same SHA-256 hash, and every
evidence bundle can be regenerated byte-for-byte from its own recorded
inputs.

COMMON WORKFLOWS:
  tracelock capture --inventory state.json   # snapshot the current inventory
  tracelock diff --from snap-a --to snap-b   # detect drift between snapshots
  tracelock evidence --from snap-a --to snap-b
  tracelock verify ev-1234                   # replay a bundle and compare
  tracelock pack ev-1234                     # assemble the external package
  tracelock retention enforce                # apply age/count ceilings`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			runVersion(cmd, nil)
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return initConfig(cmd)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tracelock/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides config)")
	rootCmd.PersistentFlags().Bool("version", false, "show version information")

	rootCmd.AddCommand(newCaptureCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newEvidenceCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newPackCommand())
	rootCmd.AddCommand(newSnapshotsCommand())
	rootCmd.AddCommand(newRetentionCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
}

func initConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if tenant, _ := cmd.Flags().GetString("tenant"); tenant != "" {
		cfg.TenantID = tenant
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg.Validate()
}

// getApp wires the component graph for one command invocation.
func getApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), cfg)
}
