// Package cli wires the exporter commands. The root command loads the
// configuration and reconfigures the global logger; the subcommands run
// the document store exporter, the AWS exporter, and the linkage report.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/config"
)

// cfgFile holds the configuration file path passed via --config. When
// empty, configuration comes from defaults and environment variables.
var cfgFile string

// cfg is the loaded configuration, populated by the root command's
// PersistentPreRunE before any subcommand runs.
var cfg *config.Config

// RootCmd is the entry point of the sw360-dashboard CLI.
var RootCmd = &cobra.Command{
	Use:   "sw360-dashboard",
	Short: "SW360 dashboard exporter for CouchDB and AWS metrics",
	Long: `SW360 Dashboard Exporter

Collects catalogue statistics from the SW360 CouchDB document store and
infrastructure telemetry from AWS CloudWatch and EC2, and pushes the
resulting gauges to a Prometheus Pushgateway.

Configuration comes from defaults, an optional config file, legacy
environment variables (COUCHDB_HOST, PUSHGATEWAY_URL, ...) and
SW360_DASHBOARD_-prefixed environment variables, in increasing order of
precedence.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfiguration,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: defaults plus environment)")
	RootCmd.PersistentFlags().Bool("dry-run", false,
		"report what would be pushed without writing views or pushing metrics")

	RootCmd.AddCommand(couchdbCmd)
	RootCmd.AddCommand(cloudwatchCmd)
	RootCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(linkageCmd)
	RootCmd.AddCommand(versionCmd)
}

func loadConfiguration(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cmd.Flags().Changed("dry-run") {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		loaded.DryRun = dryRun
	}
	if err := config.ValidateConfig(loaded); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	common.ConfigureLogger(common.Logger, common.LoggerConfig{
		Level:      common.LogLevel(loaded.Logging.Level),
		Format:     loaded.Logging.Format,
		TimeFormat: common.DefaultLoggerConfig().TimeFormat,
	})

	cfg = loaded
	return nil
}
