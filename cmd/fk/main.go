// fk operates Flowkeeper strategy logs from the command line: execute
// commands, inspect the tree, repair and compact logs, move history
// between files, or follow a log live.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowkeeper-org/fk-engine/internal/config"
	"github.com/flowkeeper-org/fk-engine/internal/logging"
)

var (
	cfgFile   string
	closeLogs func() error
	settings  config.Settings
	quietFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "fk",
	Short: "fk - Flowkeeper strategy log toolkit",
	Long: `Operate Flowkeeper strategy logs: execute commands against the
entity tree, dump its current state, repair or compact a damaged log,
export and import history, or watch a log live.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := config.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		settings = config.Load()
		_, closeLogs = logging.Setup(logging.Options{
			Level: settings.LogLevel,
			File:  settings.LogFile,
			Quiet: quietFlag,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogs != nil {
			closeLogs()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ~/.flowkeeper/config.yaml)")
	pf.String("data-file", "", "Strategy log file")
	pf.String("username", "", "Local user identity")
	pf.String("full-name", "", "Display name used when a new log is bootstrapped")
	pf.String("passphrase", "", "Per-line encryption passphrase")
	pf.Bool("ignore-errors", false, "Skip bad log lines instead of aborting")
	pf.Bool("ignore-invalid-sequence", false, "Accept sequence gaps on incoming strategies")
	pf.String("log-file", "", "Mirror diagnostics into a rotating log file")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "Log to the file sink only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
