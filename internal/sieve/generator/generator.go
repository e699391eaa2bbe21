// Package generator implements the Bytecode Generator (spec.md C6): a
// single linear walk over a validated AST that emits the opcode stream,
// the deduplicated string table, and the extension-dependency list that
// become a binary.Binary.
//
// Grounded on the teacher's internal/jit bytecode emission pass (a
// similar single-pass AST-to-bytes walk with backpatched jump targets)
// generalized from its fixed instruction set to the registry's
// dynamically-registered, two-level (core / extension) opcode space.
package generator

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	astpkg "github.com/sievecore/sievecore/internal/sieve/ast"
	bin "github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/registry"
)

// Generator walks a validated ast.Script and produces a binary.Binary. It
// implements registry.GenEnv, so command/tag Generate hooks drive it
// directly rather than the generator knowing anything about individual
// extensions.
type Generator struct {
	reg        *registry.Registry
	errs       *errs.Handler
	scriptName string

	code     []byte
	strings  *bin.StringTable
	extDeps  []bin.ExtDep
	extIndex map[string]int
}

// New returns a Generator bound to reg (for opcode/extension lookups) and
// errsHandler (for Generate-time diagnostics, e.g. a capability lookup
// that fails at generation time).
func New(reg *registry.Registry, errsHandler *errs.Handler, scriptName string) *Generator {
	return &Generator{
		reg:        reg,
		errs:       errsHandler,
		scriptName: scriptName,
		strings:    bin.NewStringTable(),
		extIndex:   make(map[string]int),
	}
}

// Generate produces the Binary for a validated script. The caller is
// responsible for having run the validator first; Generate assumes every
// Command/Test node's ExtID is resolved.
func (g *Generator) Generate(script *astpkg.Script, meta bin.SourceMeta, compilerVersion uint16) (*bin.Binary, error) {
	if err := g.GenerateBlock(script.Commands); err != nil {
		return nil, err
	}
	return &bin.Binary{
		Header:      bin.Header{CompilerVersion: compilerVersion},
		Code:        g.code,
		StringTable: g.strings.Bytes(),
		ExtDeps:     g.extDeps,
		Meta:        meta,
		CompileID:   uuid.New(),
	}, nil
}

// Errors implements registry.HookEnv.
func (g *Generator) Errors() *errs.Handler { return g.errs }

// Registry implements registry.HookEnv.
func (g *Generator) Registry() *registry.Registry { return g.reg }

// extDepIndex returns name's position in the binary's EXT_DEPS table,
// assigning it one on first use (spec.md §4.5 "ext_index").
func (g *Generator) extDepIndex(name string) int {
	if idx, ok := g.extIndex[name]; ok {
		return idx
	}
	idx := len(g.extDeps)
	g.extIndex[name] = idx
	g.extDeps = append(g.extDeps, bin.ExtDep{Name: name, Version: "1"})
	return idx
}

// EmitOpcode implements registry.GenEnv.
func (g *Generator) EmitOpcode(op registry.Opcode) {
	if op.Owner == "" || op.Owner == registry.CoreExtensionName {
		g.code = append(g.code, op.Code)
		return
	}
	idx := g.extDepIndex(op.Owner)
	g.code = append(g.code, registry.CustomStart+byte(idx), op.Code)
}

// EmitVarint implements registry.GenEnv.
func (g *Generator) EmitVarint(v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	g.code = append(g.code, buf[:n]...)
}

// EmitString implements registry.GenEnv.
func (g *Generator) EmitString(s string) {
	g.EmitVarint(g.strings.Intern(s))
}

// EmitByte implements registry.GenEnv.
func (g *Generator) EmitByte(b byte) {
	g.code = append(g.code, b)
}

// EmitInt32 implements registry.GenEnv.
func (g *Generator) EmitInt32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	g.code = append(g.code, buf[:]...)
}

// Offset implements registry.GenEnv.
func (g *Generator) Offset() uint32 { return uint32(len(g.code)) }

// ReserveJump implements registry.GenEnv.
func (g *Generator) ReserveJump(op registry.Opcode) int {
	g.EmitOpcode(op)
	pos := len(g.code)
	g.EmitInt32(0)
	return pos
}

// PatchJump implements registry.GenEnv. Jumps are encoded as signed
// offsets relative to the instruction pointer immediately after the
// 4-byte operand (spec.md §4.5 "Jumps as relative offsets"; §4.7 "JMP(off)
// — set pc += off"), so the stored value is target - (pos+4).
func (g *Generator) PatchJump(pos int, target uint32) {
	rel := int32(target) - int32(pos+4)
	binary.LittleEndian.PutUint32(g.code[pos:pos+4], uint32(rel))
}

// GenerateBlock implements registry.GenEnv: it dispatches each command to
// its descriptor's Generate hook, which is responsible for emitting its
// own opcode(s) and recursing into GenerateBlock/GenerateTest for any
// nested block or condition. "if" is special-cased the same way
// anyof/allof are special-cased in GenerateTest: it and the run of
// elsif/else commands that follow it are lowered together by
// generateIfChain rather than through per-command Generate hooks, since
// only the generator can see the whole chain and backpatch across it.
func (g *Generator) GenerateBlock(cmds []*astpkg.Command) error {
	i := 0
	for i < len(cmds) {
		cmd := cmds[i]
		if cmd.Name == "if" {
			consumed, err := g.generateIfChain(cmds[i:])
			if err != nil {
				return err
			}
			i += consumed
			continue
		}

		desc, ok := g.reg.LookupCommand(cmd.Name)
		if !ok {
			return fmt.Errorf("generator: %q: no command descriptor (validator should have rejected this)", cmd.Name)
		}
		if desc.Hooks.Generate != nil {
			if err := desc.Hooks.Generate(cmd, g); err != nil {
				return fmt.Errorf("generator: %q: %w", cmd.Name, err)
			}
		}
		i++
	}
	return nil
}

// generateIfChain lowers chain[0] ("if") together with the contiguous run
// of "elsif"/"else" commands that follow it, so only one branch's body
// ever runs: each "if"/"elsif" body ends with a JMP to the chain's end,
// backpatched once the chain's length is known, and each "elsif"/"else"
// is itself only reached by falling through a prior branch's JMP_IF_FALSE
// (spec.md §8 scenario 2: "if size :over 1K {discard} else {keep}" on a
// 2000-byte message must commit only the discard, never keep too).
// Returns how many of chain's leading commands it consumed.
func (g *Generator) generateIfChain(chain []*astpkg.Command) (int, error) {
	jmpIfFalse, ok := g.reg.CoreOpcode(registry.OpJmpIfFalse)
	if !ok {
		return 0, fmt.Errorf("generator: core opcode JMP_IF_FALSE not registered")
	}
	jmp, ok := g.reg.CoreOpcode(registry.OpJmp)
	if !ok {
		return 0, fmt.Errorf("generator: core opcode JMP not registered")
	}

	var endFixups []int
	n := 0
	for n < len(chain) {
		cmd := chain[n]
		if cmd.Name == "else" {
			n++
			if err := g.GenerateBlock(cmd.Block); err != nil {
				return 0, err
			}
			break
		}
		if n > 0 && cmd.Name != "elsif" {
			break
		}
		n++

		if err := g.GenerateTest(cmd.Test); err != nil {
			return 0, err
		}
		falseFixup := g.ReserveJump(jmpIfFalse)
		if err := g.GenerateBlock(cmd.Block); err != nil {
			return 0, err
		}
		if n < len(chain) && (chain[n].Name == "elsif" || chain[n].Name == "else") {
			endFixups = append(endFixups, g.ReserveJump(jmp))
		}
		g.PatchJump(falseFixup, g.Offset())
	}

	end := g.Offset()
	for _, pos := range endFixups {
		g.PatchJump(pos, end)
	}
	return n, nil
}

// GenerateTest implements registry.GenEnv: logical combinators are
// lowered to short-circuiting jumps over OpJmpIfTrue/OpJmpIfFalse/
// OpNotResult; a leaf test dispatches to its own descriptor's Generate
// hook, which leaves the boolean outcome in the interpreter's
// test-result register.
func (g *Generator) GenerateTest(t *astpkg.Test) error {
	switch t.Kind {
	case astpkg.TestNot:
		if len(t.Children) != 1 {
			return fmt.Errorf("generator: not: expected exactly one child test")
		}
		if err := g.GenerateTest(t.Children[0]); err != nil {
			return err
		}
		op, ok := g.reg.CoreOpcode(registry.OpNotResult)
		if !ok {
			return fmt.Errorf("generator: core opcode OpNotResult not registered")
		}
		g.EmitOpcode(op)
		return nil

	case astpkg.TestAnyOf:
		return g.generateCombinator(t.Children, registry.OpJmpIfTrue)

	case astpkg.TestAllOf:
		return g.generateCombinator(t.Children, registry.OpJmpIfFalse)

	case astpkg.TestLeaf:
		desc, ok := g.reg.LookupTest(t.Name)
		if !ok {
			return fmt.Errorf("generator: %q: no test descriptor (validator should have rejected this)", t.Name)
		}
		if desc.Hooks.Generate == nil {
			return fmt.Errorf("generator: %q: test descriptor has no Generate hook", t.Name)
		}
		return desc.Hooks.Generate(t, g)

	default:
		return fmt.Errorf("generator: unknown test kind %d", t.Kind)
	}
}

// generateCombinator lowers anyof/allof: generate each child in turn,
// short-circuiting via shortCircuitCode (OpJmpIfTrue for anyof,
// OpJmpIfFalse for allof) to a shared end label once any child decides
// the outcome; the last child's own test-result register value is used
// unmodified when no short-circuit fires.
func (g *Generator) generateCombinator(children []*astpkg.Test, shortCircuitCode byte) error {
	if len(children) == 0 {
		return fmt.Errorf("generator: anyof/allof: no children")
	}
	op, ok := g.reg.CoreOpcode(shortCircuitCode)
	if !ok {
		return fmt.Errorf("generator: core short-circuit opcode not registered")
	}

	var fixups []int
	for i, child := range children {
		if err := g.GenerateTest(child); err != nil {
			return err
		}
		if i < len(children)-1 {
			fixups = append(fixups, g.ReserveJump(op))
		}
	}
	end := g.Offset()
	for _, pos := range fixups {
		g.PatchJump(pos, end)
	}
	return nil
}
