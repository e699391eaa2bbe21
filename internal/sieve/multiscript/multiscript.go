// Package multiscript chains several compiled scripts against one message,
// each step's actions accumulating into its own result.Set that carries
// forward only the upstream discard flag (result.Set.AdoptUpstream), with
// every step's Set committed in chain order at the very end (spec.md §4.8
// "Multiscript mode chains result sets across several compiled scripts,
// committing only at the end and allowing downstream scripts to observe
// upstream keep-equivalence via a flag").
//
// Grounded on spec.md §4.8/§6 directly — no example repo carries a
// chained-pipeline-with-shared-accumulator of this exact shape — with the
// Run/WillDiscard/Finish method split mirroring the teacher's multi-step
// OODA loop (cmd_instruction.go: accumulate state across steps, commit/
// report once at the end).
package multiscript

import (
	"context"
	"fmt"
	"time"

	"github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/interp"
	"github.com/sievecore/sievecore/internal/sieve/registry"
	"github.com/sievecore/sievecore/internal/sieve/result"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

// StepResult records one chain member's own interpreter outcome, and
// whether the chain would discard the message if it stopped here.
type StepResult struct {
	ScriptName  string
	Status      interp.ExitStatus
	WillDiscard bool
}

// Chain runs a sequence of compiled binaries against one message, each
// contributing its own result.Set, with the discard flag threaded
// forward via AdoptUpstream and every Set committed together at Finish.
type Chain struct {
	reg   *registry.Registry
	sets  []*result.Set
	steps []StepResult
}

// NewChain starts a multiscript chain resolving opcodes against reg.
func NewChain(reg *registry.Registry) *Chain {
	return &Chain{reg: reg}
}

// WillDiscard reports whether, given every step run so far, the message
// would end up discarded if the chain stopped here (spec.md §4.8
// "allowing downstream scripts to observe upstream keep-equivalence").
func (c *Chain) WillDiscard() bool {
	if len(c.steps) == 0 {
		return false
	}
	return c.steps[len(c.steps)-1].WillDiscard
}

// Run executes b as the next step of the chain against msg/env, seeding
// its result.Set from the previous step's discard flag (spec.md §6's
// per-script "run" operation). Any non-OK interpreter exit is returned
// with the run error; the step's Set is still kept and committed by
// Finish, and later Run calls are not refused.
func (c *Chain) Run(ctx context.Context, scriptName string, b *binary.Binary, msg sievenv.Message, env sievenv.Env, h *errs.Handler, budget time.Duration) (StepResult, error) {
	set := result.New()
	if n := len(c.sets); n > 0 {
		set.AdoptUpstream(c.sets[n-1])
	}

	in, err := interp.New(b, c.reg, env, msg, h, budget)
	if err != nil {
		return StepResult{}, fmt.Errorf("multiscript: %s: %w", scriptName, err)
	}

	status, runErr := in.Run(ctx, set)
	c.sets = append(c.sets, set)
	sr := StepResult{ScriptName: scriptName, Status: status, WillDiscard: set.WillDiscard()}
	c.steps = append(c.steps, sr)

	if status != interp.ExitOK {
		return sr, runErr
	}
	return sr, nil
}

// Finish commits every step's Set in chain order, exactly once for the
// whole chain (spec.md "committing only at the end"). The overall status
// is StatusKeepFailed if any step's commit ended that way.
func (c *Chain) Finish(ctx context.Context, env sievenv.Env) (result.Status, error) {
	overall := result.StatusOK
	var firstErr error
	for _, set := range c.sets {
		st, err := set.Execute(ctx, env)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if st == result.StatusKeepFailed {
			overall = result.StatusKeepFailed
		}
	}
	return overall, firstErr
}

// Steps returns each chain member's own interpreter outcome, in run
// order, for diagnostics/dry-run reporting.
func (c *Chain) Steps() []StepResult {
	out := make([]StepResult, len(c.steps))
	copy(out, c.steps)
	return out
}

// Actions returns every step's accumulated (not-yet-committed) actions,
// concatenated in run order, for dry-run reporting.
func (c *Chain) Actions() []result.PendingAction {
	var out []result.PendingAction
	for _, set := range c.sets {
		out = append(out, set.Actions()...)
	}
	return out
}
