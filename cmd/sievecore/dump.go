package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bin "github.com/sievecore/sievecore/internal/sieve/binary"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <binary.sievebin>",
	Short: "Print a human-readable disassembly of a compiled binary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bin.Load(args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		return bin.Dump(os.Stdout, b, eng.Registry())
	},
}

var hexdumpCmd = &cobra.Command{
	Use:   "hexdump <binary.sievebin>",
	Short: "Print the raw block layout of a compiled binary in hex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bin.Load(args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		return bin.Hexdump(os.Stdout, b)
	},
}
