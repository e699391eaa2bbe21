// Command sievecore is a debug/ops CLI over the compile-and-run pipeline:
// compile a script, dump or hexdump a compiled binary, dry-run it against
// a fixture message, or inspect a binary interactively. It is not the
// mailbox-delivery front end the core spec excludes — every subcommand
// here operates on the public API spec.md §6 already names.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sievecore/sievecore/internal/config"
	"github.com/sievecore/sievecore/internal/logging"
	"github.com/sievecore/sievecore/internal/sieve/engine"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Shared state, built in PersistentPreRunE
	logger *zap.Logger
	eng    *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "sievecore",
	Short: "sievecore - Sieve (RFC 5228) compiler and bytecode interpreter debug CLI",
	Long: `sievecore compiles Sieve scripts to bytecode and runs them against
fixture messages. Its compile, dump, hexdump, test and inspect
subcommands wrap engine and binary-container operations for ops and
debugging use: not a mail delivery agent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		var err error
		logger, err = logging.New(level, "console")
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		cfg := config.DefaultConfig()
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		}

		eng, err = engine.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing engine: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a sievecore.yaml config file (default: built-in defaults)")

	rootCmd.AddCommand(
		compileCmd,
		dumpCmd,
		hexdumpCmd,
		testCmd,
		inspectCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
