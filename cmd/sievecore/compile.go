package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sievecore/sievecore/internal/sieve/engine"
)

var (
	compileOut   string
	compileWatch bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <script.sieve>",
	Short: "Compile a Sieve script to a binary container",
	Long: `Parses, validates, and generates bytecode for a Sieve script,
writing the resulting binary container to --out (default:
<script>.sievebin).

With --watch, sievecore recompiles every time the script file changes,
reporting each compile's diagnostics instead of exiting after the first
one — a development-loop aid, not part of the core's public API.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileOut, "out", "o", "", "output path for the compiled binary (default: <script>.sievebin)")
	compileCmd.Flags().BoolVar(&compileWatch, "watch", false, "recompile on every change to the script file")
}

func runCompile(cmd *cobra.Command, args []string) error {
	scriptPath := args[0]
	out := compileOut
	if out == "" {
		out = scriptPath + ".sievebin"
	}

	if err := compileOnce(scriptPath, out); err != nil {
		if !compileWatch {
			return err
		}
		logger.Warn("compile failed", zap.Error(err))
	}
	if !compileWatch {
		return nil
	}
	return watchAndRecompile(scriptPath, out)
}

func compileOnce(scriptPath, out string) error {
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", scriptPath, err)
	}

	res, err := eng.Compile(string(src), scriptPath)
	if err != nil {
		var nv *engine.NotValidError
		if errors.As(err, &nv) {
			printDiagnostics(nv.Handler)
		}
		return err
	}
	if err := res.Binary.Save(out); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Printf("compiled %s -> %s\n", scriptPath, out)
	return nil
}

// watchAndRecompile debounces fsnotify write events on scriptPath and
// recompiles on each settled change, the same debounce-then-act shape
// the teacher's MangleWatcher uses for its own filesystem watch loop.
func watchAndRecompile(scriptPath, out string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(scriptPath); err != nil {
		return fmt.Errorf("watching %s: %w", scriptPath, err)
	}

	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", scriptPath)

	const debounce = 200 * time.Millisecond
	var pending *time.Timer
	recompile := func() {
		if err := compileOnce(scriptPath, out); err != nil {
			logger.Warn("recompile failed", zap.Error(err))
		}
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounce, recompile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}

