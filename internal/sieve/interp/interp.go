// Package interp implements the Interpreter (spec.md C8): the bytecode
// dispatch loop that walks a binary.Binary's CODE block, calling each
// opcode's registered ExecuteFn and accumulating actions into a
// result.Set, under a periodically-sampled CPU-time budget.
//
// Grounded on spec.md §4.7's state machine (pc, test_result, jump_stack,
// resource_budget) combined with the teacher's internal/jit dispatch loop
// shape (fetch-decode-execute over a flat instruction slice) and, as a
// secondary reference for a small fixed-opcode VM loop, gerzhan-chain's
// txscript.Engine.Step (not the teacher — informal grounding only).
package interp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	bin "github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/registry"
	"github.com/sievecore/sievecore/internal/sieve/result"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

// ExitStatus is the outcome spec.md §6 reports for one execute()/test()
// call.
type ExitStatus int

const (
	ExitOK ExitStatus = iota
	ExitFailure
	ExitTempFailure
	ExitBinCorrupt
)

func (s ExitStatus) String() string {
	switch s {
	case ExitOK:
		return "OK"
	case ExitFailure:
		return "FAILURE"
	case ExitTempFailure:
		return "TEMP_FAILURE"
	case ExitBinCorrupt:
		return "BIN_CORRUPT"
	default:
		return "UNKNOWN"
	}
}

// ErrStop is returned by the core STOP opcode's ExecuteFn to end
// dispatch successfully (spec.md §4.7 "STOP — terminate successfully").
var ErrStop = errors.New("interp: stop")

// Temporary is implemented by runtime errors that should map to
// TEMP_FAILURE rather than FAILURE (spec.md §6's exit-status taxonomy):
// transient backend trouble (e.g. a redirect's outbound connection
// timing out) as opposed to a permanent script/data problem.
type Temporary interface {
	Temporary() bool
}

// ErrBudgetExceeded is returned when the resource budget is exhausted
// mid-dispatch; it is Temporary so exhausting CPU time under load maps to
// TEMP_FAILURE, not FAILURE (an operator raising the budget or retrying
// later can still succeed, unlike a genuinely malformed script).
type errBudgetExceeded struct{}

func (errBudgetExceeded) Error() string { return "interp: resource budget exceeded" }
func (errBudgetExceeded) Temporary() bool { return true }

// ErrBudgetExceeded is the sentinel value for errors.Is matching.
var ErrBudgetExceeded error = errBudgetExceeded{}

// Interpreter executes one binary.Binary against one sievenv.Env, handing
// each registered ExecuteFn an execCtx (a registry.OpContext) so it can
// read its own operands and the test-result register.
type Interpreter struct {
	b   *bin.Binary
	reg *registry.Registry
	env sievenv.Env
	msg sievenv.Message
	h   *errs.Handler

	strings map[uint64]string
	extDeps []string

	pc         int
	testResult bool

	budget time.Duration
	start  time.Time

	TraceID uuid.UUID
}

// New returns an Interpreter ready to Run b against env/msg. msg may be nil
// for scripts that never reach a test opcode needing message content
// (e.g. a bare `keep;`); budget is the CPU-time cap (spec.md §4.7
// "resource_budget"), zero meaning unlimited.
func New(b *bin.Binary, reg *registry.Registry, env sievenv.Env, msg sievenv.Message, h *errs.Handler, budget time.Duration) (*Interpreter, error) {
	table, err := bin.DecodeStringTable(b.StringTable)
	if err != nil {
		return nil, fmt.Errorf("interp: %w", err)
	}
	depNames := make([]string, len(b.ExtDeps))
	for i, d := range b.ExtDeps {
		depNames[i] = d.Name
	}
	return &Interpreter{
		b:       b,
		reg:     reg,
		env:     env,
		msg:     msg,
		h:       h,
		strings: table,
		extDeps: depNames,
		budget:  budget,
		TraceID: uuid.New(),
	}, nil
}

// Run dispatches opcodes from pc 0 until STOP, end of code, or an error,
// accumulating actions into set (spec.md §4.7, §6).
func (i *Interpreter) Run(ctx context.Context, set *result.Set) (ExitStatus, error) {
	i.start = time.Now()
	i.pc = 0

	for i.pc < len(i.b.Code) {
		if err := ctx.Err(); err != nil {
			return ExitTempFailure, err
		}
		if i.budget > 0 && time.Since(i.start) > i.budget {
			return ExitTempFailure, ErrBudgetExceeded
		}

		op, err := i.fetch()
		if err != nil {
			return ExitBinCorrupt, err
		}
		if op.ExecuteFn == nil {
			return ExitBinCorrupt, fmt.Errorf("%w: opcode %q has no ExecuteFn", bin.ErrCorrupt, op.Mnemonic)
		}

		ctrl, err := op.ExecuteFn(execCtx{i, set, ctx})
		if err != nil {
			if errors.Is(err, ErrStop) {
				return ExitOK, nil
			}
			var temp Temporary
			if errors.As(err, &temp) && temp.Temporary() {
				return ExitTempFailure, err
			}
			return ExitFailure, err
		}
		if ctrl.Jump {
			i.pc = int(ctrl.Target)
		}
	}
	return ExitOK, nil
}

// fetch reads the opcode byte(s) at pc, resolving core vs. two-level
// extension encoding (spec.md §4.5), advancing pc past them.
func (i *Interpreter) fetch() (registry.Opcode, error) {
	if i.pc >= len(i.b.Code) {
		return registry.Opcode{}, fmt.Errorf("%w: pc past end of code", bin.ErrCorrupt)
	}
	wire := i.b.Code[i.pc]
	i.pc++

	if wire < registry.CustomStart {
		op, ok := i.reg.CoreOpcode(wire)
		if !ok {
			return registry.Opcode{}, fmt.Errorf("%w: unregistered core opcode 0x%02x", bin.ErrCorrupt, wire)
		}
		return op, nil
	}

	extIndex := int(wire - registry.CustomStart)
	if extIndex >= len(i.extDeps) {
		return registry.Opcode{}, fmt.Errorf("%w: opcode references unknown extension index %d", bin.ErrCorrupt, extIndex)
	}
	if i.pc >= len(i.b.Code) {
		return registry.Opcode{}, fmt.Errorf("%w: truncated extension opcode", bin.ErrCorrupt)
	}
	sub := i.b.Code[i.pc]
	i.pc++
	op, ok := i.reg.ExtOpcode(i.extDeps[extIndex], sub)
	if !ok {
		return registry.Opcode{}, fmt.Errorf("%w: unregistered extension opcode %s.0x%02x", bin.ErrCorrupt, i.extDeps[extIndex], sub)
	}
	return op, nil
}

// ExecContext is the concrete capability set an extension's ExecuteFn
// gets beyond the bare registry.OpContext it's declared to accept: the
// program counter (for computing a relative jump target), the
// context.Context for the call, the script environment, the result set
// actions accumulate into, and the diagnostics handler. ExecuteFns type-
// assert their registry.OpContext parameter to this interface to reach
// them — registry.OpContext stays minimal so packages that only dump
// bytecode (internal/sieve/binary) never need to satisfy this larger
// shape.
type ExecContext interface {
	registry.OpContext
	PC() int
	Context() context.Context
	Env() sievenv.Env
	Message() sievenv.Message
	Results() *result.Set
	Errors() *errs.Handler
}

// execCtx adapts an *Interpreter plus its per-call result.Set and
// context.Context into registry.OpContext, so ExecuteFns registered by
// extensions can reach the script environment and result set through the
// HookEnv-style indirection without the interp package exposing its
// internals.
type execCtx struct {
	i   *Interpreter
	set *result.Set
	ctx context.Context
}

func (e execCtx) ReadByte() (byte, error) {
	if e.i.pc >= len(e.i.b.Code) {
		return 0, fmt.Errorf("%w: truncated operand stream", bin.ErrCorrupt)
	}
	b := e.i.b.Code[e.i.pc]
	e.i.pc++
	return b, nil
}

func (e execCtx) ReadVarint() (uint64, error) {
	v, n := binary.Uvarint(e.i.b.Code[e.i.pc:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated varint operand", bin.ErrCorrupt)
	}
	e.i.pc += n
	return v, nil
}

func (e execCtx) ReadString() (string, error) {
	off, err := e.ReadVarint()
	if err != nil {
		return "", err
	}
	return e.i.strings[off], nil
}

func (e execCtx) ReadInt32() (int32, error) {
	if e.i.pc+4 > len(e.i.b.Code) {
		return 0, fmt.Errorf("%w: truncated jump operand", bin.ErrCorrupt)
	}
	v := int32(binary.LittleEndian.Uint32(e.i.b.Code[e.i.pc : e.i.pc+4]))
	e.i.pc += 4
	return v, nil
}

func (e execCtx) TestResult() bool { return e.i.testResult }

func (e execCtx) SetTestResult(v bool) { e.i.testResult = v }

// PC reports the current program counter, for ExecuteFns computing a
// jump target relative to "just after this instruction's operands"
// (spec.md §4.7 "JMP(off) — set pc += off").
func (e execCtx) PC() int { return e.i.pc }

// Context returns the execution's context.Context, for ExecuteFns that
// call into sievenv.Env (which takes one).
func (e execCtx) Context() context.Context { return e.ctx }

// Env returns the script environment.
func (e execCtx) Env() sievenv.Env { return e.i.env }

// Message returns the message being filtered, or nil if none was supplied.
func (e execCtx) Message() sievenv.Message { return e.i.msg }

// Results returns the result set actions accumulate into.
func (e execCtx) Results() *result.Set { return e.set }

// Errors returns the diagnostics handler for runtime warnings.
func (e execCtx) Errors() *errs.Handler { return e.i.h }
