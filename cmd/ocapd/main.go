package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/ocap/logging"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose bool
	dbPath  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ocapd",
	Short: "ocapd - object-capability kernel daemon",
	Long: `ocapd hosts vats in separate workers and routes messages between them
through a persistent kernel store.

Control requests are JSON-RPC messages, one per line, read from stdin and
answered on stdout. Logs go to stderr.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := logging.DefaultConfig()
		if verbose {
			config.Level = "debug"
		}
		var err error
		if logger, err = logging.New(config); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path of the sqlite kernel store")

	runCmd.Flags().StringVar(&configURL, "config", "", "kernel config URL (toml, yaml or json)")
	runCmd.Flags().StringVar(&clusterURL, "cluster", "", "cluster config URL launched on start")
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "time allowed for workers to stop")

	rootCmd.AddCommand(runCmd, queryCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
