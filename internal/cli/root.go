package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	debug      bool
	verbose    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "xrpld",
	Short: "goXRPLd - XRPL-style ledger consensus node",
	Long: `goXRPLd is an idiomatic Go implementation of an XRPL-style ledger
consensus core (LedgerConsensus, LedgerAcquire, NetworkOPs, ValidationCollection).
This is NOT a direct translation of the C++ rippled implementation but rather a
native Go implementation that follows Go conventions and patterns while keeping
the same consensus algorithm.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (xrpld.toml); accepted but not read by any subcommand")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging; accepted but not read by any subcommand")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging; accepted but not read by any subcommand")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}
