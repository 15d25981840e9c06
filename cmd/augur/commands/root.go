package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dyluth/augur/internal/printer"
)

var (
	logLevel  string
	logFormat string

	// out is replaced in tests to capture command output.
	out = printer.Default()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "augur",
	Short: "Augur - client-predicted activity replication",
	Long: `Augur runs the server and client nodes of a client-predicted activity
replication core: a tag-filtered event bus, replicated activities with
client prediction, and reconciliation of predicted state against the
server's authoritative snapshots.

Nodes are configured through AUGUR_* environment variables and an
activity catalog (augur.yml).`,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging(logrus.StandardLogger(), logLevel, logFormat)
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed by the printer package, not by Cobra
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json or text)")
}

func configureLogging(logger *logrus.Logger, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return out.Error(
			"invalid log level",
			fmt.Sprintf("Unknown level: %s", level),
			[]string{"Valid levels: trace, debug, info, warn, error"},
		)
	}
	logger.SetLevel(lvl)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return out.Error(
			"invalid log format",
			fmt.Sprintf("Unknown format: %s", format),
			[]string{"Valid formats: json, text"},
		)
	}
	return nil
}
