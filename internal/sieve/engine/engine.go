// Package engine wires C1-C9 behind the public API spec.md §6 describes:
// one long-lived Engine (spec.md's engine_init) holding the frozen
// extension registry, and per-call Compile/Open/Execute/Test operations
// that each own their own diagnostics handler and interpreter.
//
// Grounded on the teacher's cmd/nerd/main.go bootstrap sequencing
// (build logger → build subsystem → run) for New, and the teacher's
// internal/jit dispatch-loop-as-a-reusable-component shape for treating
// the interpreter as just another stage behind a facade.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sievecore/sievecore/internal/config"
	bin "github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/ext/core"
	"github.com/sievecore/sievecore/internal/sieve/generator"
	"github.com/sievecore/sievecore/internal/sieve/interp"
	"github.com/sievecore/sievecore/internal/sieve/parser"
	"github.com/sievecore/sievecore/internal/sieve/registry"
	"github.com/sievecore/sievecore/internal/sieve/result"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
	"github.com/sievecore/sievecore/internal/sieve/validator"
)

// CompilerVersion is the compiler-version field Compile stamps into every
// Binary it produces (binary.Header.CompilerVersion).
const CompilerVersion = uint16(1)

// Engine is the long-lived, process-wide handle spec.md §5/§6 calls
// engine_init's Instance: it owns the frozen extension registry and the
// config/logger pair every Compile/Open/Execute/Test call shares.
type Engine struct {
	reg    *registry.Registry
	cfg    *config.Config
	logger *zap.Logger
}

// New builds an Engine: registers "@core" and its companion placeholder
// extensions, applies cfg's enabled-extension list, then freezes the
// registry (spec.md §5 "After engine_init() returns, the registry is
// read-only outside of set_string()").
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := registry.New()
	if _, err := reg.Register(core.Extension(), true); err != nil {
		return nil, fmt.Errorf("engine: registering core extension: %w", err)
	}
	for _, def := range core.CompanionExtensions() {
		if _, err := reg.Register(def, false); err != nil {
			return nil, fmt.Errorf("engine: registering companion extension %q: %w", def.Name, err)
		}
	}
	if err := reg.SetString(cfg.Extensions.Enabled); err != nil {
		return nil, fmt.Errorf("engine: applying enabled-extension list: %w", err)
	}
	reg.Freeze()

	return &Engine{reg: reg, cfg: cfg, logger: logger}, nil
}

// SetExtensions re-narrows the enabled-extension list (spec.md §6
// "instance.set_extensions"). It is the one mutation SetString's doc
// comment permits after Freeze.
func (e *Engine) SetExtensions(names []string) error {
	return e.reg.SetString(names)
}

// Registry exposes the frozen registry, e.g. for cmd/sievecore's dump and
// inspect commands which need it to resolve opcode mnemonics.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// CompileResult bundles a successful compile's binary with the
// diagnostics handler that recorded any non-fatal warnings along the way.
type CompileResult struct {
	Binary      *bin.Binary
	Diagnostics *errs.Handler
}

// Compile parses, validates, and generates src (spec.md §6
// "instance.compile"), returning NotValid-equivalent as a non-nil error
// wrapping the diagnostics handler's report when validation fails.
func (e *Engine) Compile(src, scriptName string) (*CompileResult, error) {
	h := errs.New(e.cfg.Limits.MaxErrors, e.logger)

	p := parser.New(src, scriptName, h)
	script := p.Parse()
	if !h.OK() {
		return nil, &NotValidError{Handler: h}
	}

	v := validator.New(e.reg, h, scriptName)
	v.Validate(script)
	if !h.OK() {
		return nil, &NotValidError{Handler: h}
	}

	g := generator.New(e.reg, h, scriptName)
	meta := bin.SourceMeta{SourcePath: scriptName}
	binOut, err := g.Generate(script, meta, CompilerVersion)
	if err != nil {
		return nil, fmt.Errorf("engine: generate: %w", err)
	}
	if !h.OK() {
		return nil, &NotValidError{Handler: h}
	}

	return &CompileResult{Binary: binOut, Diagnostics: h}, nil
}

// Open loads a cached binary from path if present and not stale against
// src's metadata, recompiling and saving otherwise (spec.md §6
// "instance.open": load cached binary or recompile).
func (e *Engine) Open(path, src, scriptName string, meta bin.SourceMeta) (*bin.Binary, error) {
	cached, err := bin.Load(path)
	if err == nil {
		if ok, _ := cached.IsExecutable(e.reg); ok && !cached.IsStale(meta, bin.FormatVersion) {
			return cached, nil
		}
	}

	res, err := e.Compile(src, scriptName)
	if err != nil {
		return nil, err
	}
	res.Binary.Meta = meta
	if err := res.Binary.Save(path); err != nil {
		e.logger.Warn("engine: caching compiled binary failed", zap.String("path", path), zap.Error(err))
	}
	return res.Binary, nil
}

// ExecuteResult bundles one execute()/test() call's outcome: the
// interpreter's exit status, the actions it accumulated (committed for
// Execute, merely reported for Test), and the commit status when
// committed.
type ExecuteResult struct {
	Status  interp.ExitStatus
	Actions []result.PendingAction
	Commit  result.Status
}

// Execute runs b against msg/env and commits the resulting actions
// (spec.md §6 "instance.execute").
func (e *Engine) Execute(ctx context.Context, b *bin.Binary, msg sievenv.Message, env sievenv.Env) (*ExecuteResult, error) {
	return e.run(ctx, b, msg, env, true)
}

// Test runs b against msg/env exactly as Execute does, but never commits
// the actions against env — it is a dry run (spec.md §6 "instance.test...
// print the result set instead of committing").
func (e *Engine) Test(ctx context.Context, b *bin.Binary, msg sievenv.Message, env sievenv.Env) (*ExecuteResult, error) {
	return e.run(ctx, b, msg, env, false)
}

func (e *Engine) run(ctx context.Context, b *bin.Binary, msg sievenv.Message, env sievenv.Env, commit bool) (*ExecuteResult, error) {
	if ok, missing := b.IsExecutable(e.reg); !ok {
		return &ExecuteResult{Status: interp.ExitBinCorrupt}, fmt.Errorf("engine: binary depends on unavailable extension %q", missing)
	}

	h := errs.New(e.cfg.Limits.MaxErrors, e.logger)
	in, err := interp.New(b, e.reg, env, msg, h, e.cfg.Limits.CPUBudget())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	set := result.New()
	status, runErr := in.Run(ctx, set)
	if status != interp.ExitOK {
		// spec.md §5 "on overrun ... partial results are discarded (never
		// committed)"; the same applies to any non-OK interpreter exit.
		return &ExecuteResult{Status: status, Actions: set.Actions()}, runErr
	}

	if set.HasRejectAndKeep() {
		h.Error(errs.Location{Script: b.Meta.SourcePath}, "reject and keep are both pending in the same result")
		status = interp.ExitFailure
	}

	if !commit {
		return &ExecuteResult{Status: status, Actions: set.Actions()}, nil
	}

	if status == interp.ExitFailure {
		// spec.md §7 "A runtime error sets the exit status to FAILURE
		// (triggering implicit keep)": commit only the implicit keep,
		// never the conflicting reject/keep actions that caused it.
		if err := env.Keep(ctx, ""); err != nil {
			return &ExecuteResult{Status: status, Actions: set.Actions(), Commit: result.StatusKeepFailed},
				fmt.Errorf("engine: implicit keep after reject/keep conflict: %w", err)
		}
		return &ExecuteResult{Status: status, Actions: set.Actions(), Commit: result.StatusOK}, nil
	}

	commitStatus, commitErr := set.Execute(ctx, env)
	if commitErr != nil {
		e.logger.Warn("engine: commit reported partial failure", zap.Error(commitErr))
	}
	return &ExecuteResult{Status: status, Actions: set.Actions(), Commit: commitStatus}, nil
}

// NotValidError wraps a diagnostics handler that recorded one or more
// errors during Compile, matching spec.md §6's compile() NotValid
// outcome.
type NotValidError struct {
	Handler *errs.Handler
}

func (e *NotValidError) Error() string {
	return fmt.Sprintf("engine: script not valid: %d error(s)", e.Handler.ErrorCount())
}

// ExitCode maps an ExitStatus to the numeric taxonomy spec.md §6
// preserves ("OK=1, FAILURE=0, TEMP_FAILURE=-1, BIN_CORRUPT=-2,
// KEEP_FAILED=-3") for callers that need the legacy integer contract
// rather than the Go sum type.
func ExitCode(status interp.ExitStatus, commit result.Status) int {
	if status == interp.ExitOK && commit == result.StatusKeepFailed {
		return -3
	}
	switch status {
	case interp.ExitOK:
		return 1
	case interp.ExitFailure:
		return 0
	case interp.ExitTempFailure:
		return -1
	case interp.ExitBinCorrupt:
		return -2
	default:
		return 0
	}
}

// Budget exposes the configured CPU-time budget, e.g. for cmd/sievecore
// to report alongside a test run.
func (e *Engine) Budget() time.Duration { return e.cfg.Limits.CPUBudget() }
