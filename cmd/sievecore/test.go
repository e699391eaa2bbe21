package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	bin "github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

// fixture is the YAML document `sievecore test` loads to build a
// sievenv.FakeMessage for a dry run; there is no production Message
// implementation in this core (spec.md §1 leaves the mail store out of
// scope), so the debug CLI exercises the same in-memory fake the test
// suite does.
type fixture struct {
	Size    uint64              `yaml:"size"`
	Headers map[string][]string `yaml:"headers"`
}

func actionName(a sievenv.Action) string {
	switch a {
	case sievenv.ActionKeep:
		return "keep"
	case sievenv.ActionFileInto:
		return "fileinto"
	case sievenv.ActionRedirect:
		return "redirect"
	case sievenv.ActionReject:
		return "reject"
	case sievenv.ActionDiscard:
		return "discard"
	case sievenv.ActionVacation:
		return "vacation"
	default:
		return "unknown"
	}
}

func loadFixture(path string) (*sievenv.FakeMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return sievenv.NewFakeMessage(f.Size, f.Headers), nil
}

var testCmd = &cobra.Command{
	Use:   "test <binary.sievebin> <fixture.yaml>",
	Short: "Dry-run a compiled binary against a fixture message",
	Long: `Loads a compiled binary and a YAML fixture describing a message
(size and headers), runs it through the interpreter, and prints the
resulting actions without committing them (spec.md §6 "instance.test...
print the result set instead of committing").`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bin.Load(args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		msg, err := loadFixture(args[1])
		if err != nil {
			return err
		}

		env := sievenv.NewFakeEnv()
		res, err := eng.Test(context.Background(), b, msg, env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		}
		fmt.Printf("status: %s\n", res.Status)
		for _, a := range res.Actions {
			fmt.Printf("  %s mailbox=%q address=%q reason=%q (%s)\n",
				actionName(a.Kind), a.Mailbox, a.Address, a.Reason, a.Location)
		}
		return nil
	},
}
