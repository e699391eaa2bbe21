// Package registry implements the Extension Registry (spec.md C2): it
// assigns stable integer ids to extensions, tracks which are loaded,
// required, and enabled, and holds the capability table. It also defines
// the hook and opcode interfaces that let the validator, generator, and
// interpreter dispatch into extension-owned code without those packages
// importing each other — the registry package sits at the bottom of the
// import graph and only ast, errs, and sievenv sit below it.
//
// Grounded on the teacher's internal/world/parser_factory.go: a registry of
// named, capability-queryable components (there, CodeParsers keyed by file
// extension; here, Sieve extensions keyed by name) looked up through one
// dispatch point.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sievecore/sievecore/internal/sieve/ast"
	"github.com/sievecore/sievecore/internal/sieve/errs"
)

// CommandKind distinguishes a command descriptor from a test descriptor;
// both share the same shape (spec.md §3 "Command descriptor (static)").
type CommandKind int

const (
	KindCommand CommandKind = iota
	KindTest
)

// Unbounded marks MaxPositional as having no upper bound.
const Unbounded = -1

// HookEnv is what a tag/command validate hook can see: the error handler
// for this compilation and the registry itself (to look up sibling
// extensions, e.g. the comparator meta-extension looking up a named
// comparator).
type HookEnv interface {
	Errors() *errs.Handler
	Registry() *Registry
}

// GenEnv is what a command/test generate hook can see: HookEnv plus the
// bytecode emission primitives. Implemented by internal/sieve/generator.
type GenEnv interface {
	HookEnv

	// EmitOpcode writes a single opcode byte (the code must have been
	// obtained by resolving an Opcode via the registry, so extension
	// opcodes get the right EXT_OPCODE|ext_index encoding).
	EmitOpcode(op Opcode)
	// EmitVarint writes an unsigned base-128 varint operand.
	EmitVarint(v uint64)
	// EmitString writes a deduplicated string-table reference.
	EmitString(s string)
	// EmitByte writes one raw byte (used for single-byte selector
	// operands such as core's comparator and match-type codes).
	EmitByte(b byte)
	// EmitInt32 writes a raw little-endian jump-target placeholder; pair
	// with ReserveJump/PatchJump to back-patch it once the target offset
	// is known.
	EmitInt32(v int32)
	// ReserveJump emits a core jump opcode (op must have been obtained
	// from CoreOpcode) followed by a zeroed Int32 placeholder, and
	// returns the byte offset of that placeholder for a later PatchJump.
	ReserveJump(op Opcode) int
	// PatchJump overwrites the Int32 placeholder at pos (as returned by
	// ReserveJump) with the signed offset from pos+4 to target, matching
	// the interpreter's `pc += off` jump semantics.
	PatchJump(pos int, target uint32)
	// Offset reports the current write position in the code block, i.e.
	// the absolute offset the next EmitOpcode call will land at.
	Offset() uint32
	// GenerateBlock emits the nested command sequence of a command's
	// block (e.g. an `if`'s body), returning once all sub-commands have
	// been generated.
	GenerateBlock(cmds []*ast.Command) error
	// GenerateTest emits the test tree; logical combinators (anyof/allof/
	// not) are lowered here using short-circuiting core jump opcodes, and
	// leaf tests dispatch to their descriptor's Generate hook. On return,
	// the interpreter's test-result register holds the tree's value.
	GenerateTest(t *ast.Test) error
}

// CommandHooks are the per-construct callbacks spec.md §4.4 describes.
// Registered runs once, at registration time, and may fail registration.
// PreValidate runs before tag/positional resolution and may attach an
// opaque Context to the node. Validate runs after all tags and positionals
// have been resolved.
type CommandHooks struct {
	Registered  func(reg *Registry) error
	PreValidate func(n ast.Node, env HookEnv) error
	Validate    func(n ast.Node, env HookEnv) error
	Generate    func(n ast.Node, env GenEnv) error
}

// PositionalSpec declares the expected ast.ArgKind of one positional
// argument slot, used by the validator's step 5
// (validate_positional_argument) to type-check and to lift a single
// String into a StringList where expected (spec.md §4.4 step 5).
// Positions beyond len(Positionals) on a variadic descriptor (Unbounded
// MaxPositional) are accepted without a kind check.
type PositionalSpec struct {
	Name string
	Kind ast.ArgKind
}

// CommandDescriptor is the static shape of a registered command or test
// (spec.md §3 "Command descriptor").
type CommandDescriptor struct {
	Name          string
	Kind          CommandKind
	MinPositional int
	MaxPositional int // Unbounded for no upper bound
	Positionals   []PositionalSpec
	AllowBlock    bool
	IsRequireLike bool
	Hooks         CommandHooks

	// Owner is the registering extension's name, filled in by the
	// registry at load time.
	Owner string
}

// TagHooks are the per-tag callbacks spec.md §4.4 step 4 describes.
type TagHooks struct {
	// InstanceOf decides membership in a polymorphic tag family by name
	// (e.g. all address-part modifiers share one family); nil for a plain
	// keyword tag that only ever matches its own Identifier exactly.
	InstanceOf func(name string) bool
	// Validate may detach the tag from the argument list, mutate the
	// owning command's Context, or consume following positional
	// arguments (by returning how many extra arguments it consumed).
	Validate func(tagName string, n ast.Node, argIndex int, env HookEnv) (consumed int, err error)
	// Generate emits the tag's bytecode contribution (e.g. an optional
	// COMPARATOR operand); nil if the tag contributes nothing to
	// bytecode (pure validation-time effect).
	Generate func(tagName string, n ast.Node, env GenEnv) error
}

// TagDescriptor is the static shape of a registered tag (spec.md §3 "Tag
// descriptor").
type TagDescriptor struct {
	Identifier string
	Hooks      TagHooks

	// Owner is the registering extension's name, filled in by the
	// registry at load time.
	Owner string
}

// Control is what an opcode's ExecuteFn returns to the interpreter's
// dispatch loop: either "fall through to the next instruction" or "jump to
// an absolute program counter".
type Control struct {
	Jump   bool
	Target uint32
}

// Continue is the Control value for "advance past this instruction's
// operands and dispatch the next opcode".
var Continue = Control{}

// JumpTo returns a Control that sets the program counter to target.
func JumpTo(target uint32) Control { return Control{Jump: true, Target: target} }

// OperandReader reads the inline operand stream for the opcode currently
// being executed or dumped.
type OperandReader interface {
	ReadByte() (byte, error)
	ReadVarint() (uint64, error)
	ReadString() (string, error)
	ReadInt32() (int32, error)
}

// OpContext is what an opcode's ExecuteFn sees: its own operand stream
// and the test-result register. The runtime collaborators (script
// environment, result set, error handler) are reached by asserting to
// interp.ExecContext. Implemented by internal/sieve/interp's execCtx.
type OpContext interface {
	OperandReader

	TestResult() bool
	SetTestResult(v bool)
}

// DumpContext is what an opcode's DumpFn sees when producing a symbolic
// disassembly line: its operand stream plus a string-table resolver
// (string operands are written as table offsets; DumpFn wants the text).
type DumpContext interface {
	OperandReader
	ResolveString(tableOffset string) string
}

// Opcode is the static shape of one instruction (spec.md §3 "Opcode").
type Opcode struct {
	Mnemonic string
	// Code is the opcode byte for core opcodes (Code < CustomStart) or the
	// per-extension sub-code for extension opcodes (the wire byte is
	// synthesized by the generator/interpreter as CustomStart+ext_index,
	// followed by Code as the sub-code byte).
	Code      byte
	DumpFn    func(DumpContext) (string, error)
	ExecuteFn func(OpContext) (Control, error)

	// Owner is the registering extension's name, filled in by the
	// registry at load time so EmitOpcode can tell a core opcode from an
	// extension-owned one without a second lookup.
	Owner string
}

// CustomStart is the first opcode byte reserved for extension opcodes
// (spec.md §3).
const CustomStart = 0x20

// Well-known core control-flow opcode codes, registered by ext/core under
// CoreExtensionName. The generator references these directly (rather
// than through LookupTest/LookupCommand) when lowering the logical test
// combinators (anyof/allof/not) and control commands (if/elsif/else),
// since those are structural AST shapes, not named constructs looked up
// by name.
const (
	OpJmpIfTrue  byte = 0x01
	OpJmpIfFalse byte = 0x02
	OpJmp        byte = 0x03
	OpNotResult  byte = 0x04
)

// OperandClass groups interchangeable operands so the bytecode reader can
// dispatch on class id then body (spec.md §3 "Operand").
type OperandClass int

const (
	ClassComparator OperandClass = iota
	ClassMatchType
	ClassAddressPart
	ClassString
	ClassNumber
	ClassStringList
)

// Operand is the static shape of one opcode operand (spec.md §3
// "Operand").
type Operand struct {
	Name     string
	Class    OperandClass
	Optional bool
}

// Capability is a named, extension-owned string queried by name (spec.md
// §4.2).
type Capability struct {
	Name      string
	GetString func() string
	OwningExt string
}

// ExtensionDef is what a caller passes to Register/Require: the static
// description of one Sieve extension (spec.md §3 "Extension
// registration").
type ExtensionDef struct {
	Name string

	Commands []CommandDescriptor
	Tests    []CommandDescriptor
	Tags     []TagDescriptor
	Opcodes  []Opcode

	Load            func(reg *Registry) error
	ValidatorLoad   func(reg *Registry) error
	GeneratorLoad   func(reg *Registry) error
	BinaryLoad      func(reg *Registry) error
	InterpreterLoad func(reg *Registry) error
	Unload          func(reg *Registry) error
}

// extState is the mutable per-extension bookkeeping the registry owns.
type extState struct {
	def      ExtensionDef
	id       int  // dense registration-order id, stable for the process
	extID    int  // external id exposed to lookups; -1 when disabled
	required bool
	loaded   bool
	index    int // always -1; the generator tracks dependency-table positions itself
}

// Registry is the process-wide (or per-test) extension registry. Per
// spec.md §5, it is written only during init/configure and is read-only
// during compile/execute; Frozen() reports whether configuration has
// closed.
type Registry struct {
	mu sync.Mutex

	byName map[string]*extState
	order  []*extState // registration order; index i has id i

	commands map[string]*CommandDescriptor
	tests    map[string]*CommandDescriptor
	tags     []*TagDescriptor // registration order, for InstanceOf scanning

	capabilities map[string]*Capability

	// coreOpcodes holds the opcodes registered by the "@core" pseudo
	// extension, keyed directly by their wire byte (Code must be <
	// CustomStart by convention). extOpcodes holds every other
	// extension's opcodes, keyed by extension name then by the
	// extension-local sub-code byte; the wire encoding for these is
	// CustomStart+ext_index followed by the sub-code (spec.md §4.5).
	coreOpcodes map[byte]Opcode
	extOpcodes  map[string]map[byte]Opcode

	frozen bool
}

// CoreExtensionName is the reserved pseudo-extension name under which
// core opcodes (spec.md "Core opcodes have codes below a fixed cutoff")
// are registered; it is excluded from ListString like any other '@'
// pseudo-extension.
const CoreExtensionName = "@core"

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byName:       make(map[string]*extState),
		commands:     make(map[string]*CommandDescriptor),
		tests:        make(map[string]*CommandDescriptor),
		capabilities: make(map[string]*Capability),
		coreOpcodes:  make(map[byte]Opcode),
		extOpcodes:   make(map[string]map[byte]Opcode),
	}
}

// Register adds an extension definition, optionally loading it
// immediately. Registering the same name twice is idempotent with respect
// to id: the new definition is bound to the existing id (spec.md §4.2
// invariants).
func (r *Registry) Register(def ExtensionDef, load bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.byName[def.Name]; ok {
		st.def = def
		if load && !st.loaded {
			if err := r.loadLocked(st); err != nil {
				return st.id, err
			}
		}
		return st.id, nil
	}

	st := &extState{def: def, id: len(r.order), extID: -1, index: -1}
	r.byName[def.Name] = st
	r.order = append(r.order, st)

	if load {
		if err := r.loadLocked(st); err != nil {
			return st.id, err
		}
	}
	return st.id, nil
}

// Require registers (if needed) and loads ext, marking it required:
// required extensions cannot be disabled by SetString and are always
// loaded regardless of the enabled-extension list.
func (r *Registry) Require(def ExtensionDef) (int, error) {
	r.mu.Lock()
	st, ok := r.byName[def.Name]
	if !ok {
		r.mu.Unlock()
		id, err := r.Register(def, false)
		if err != nil {
			return id, err
		}
		r.mu.Lock()
		st = r.byName[def.Name]
	}
	st.required = true
	err := r.loadLocked(st)
	r.mu.Unlock()
	return st.id, err
}

// RequireByName marks an already-registered extension as required by a
// script's own `require` command, loading it if necessary. Unlike
// SetString's enabled-extension list, a script's require always succeeds
// against any extension the server has registered, per spec.md §4.4
// ("each listed extension is require()-loaded into the registry for this
// compilation"); it reports an error if name was never registered at all
// (the server doesn't implement it).
func (r *Registry) RequireByName(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byName[name]
	if !ok {
		return -1, fmt.Errorf("registry: extension %q is not implemented by this server", name)
	}
	st.required = true
	if err := r.loadLocked(st); err != nil {
		return st.id, err
	}
	return st.id, nil
}

// loadLocked runs registration/load hooks and installs commands, tests,
// tags, and opcodes. Caller must hold r.mu.
func (r *Registry) loadLocked(st *extState) error {
	if st.loaded {
		st.extID = st.id
		return nil
	}
	if st.def.Load != nil {
		if err := st.def.Load(r); err != nil {
			return fmt.Errorf("registry: load extension %q: %w", st.def.Name, err)
		}
	}
	for i := range st.def.Commands {
		st.def.Commands[i].Owner = st.def.Name
		cd := st.def.Commands[i]
		if cd.Hooks.Registered != nil {
			if err := cd.Hooks.Registered(r); err != nil {
				return fmt.Errorf("registry: register command %q: %w", cd.Name, err)
			}
		}
		r.commands[cd.Name] = &st.def.Commands[i]
	}
	for i := range st.def.Tests {
		st.def.Tests[i].Owner = st.def.Name
		td := st.def.Tests[i]
		if td.Hooks.Registered != nil {
			if err := td.Hooks.Registered(r); err != nil {
				return fmt.Errorf("registry: register test %q: %w", td.Name, err)
			}
		}
		r.tests[td.Name] = &st.def.Tests[i]
	}
	for i := range st.def.Tags {
		st.def.Tags[i].Owner = st.def.Name
		r.tags = append(r.tags, &st.def.Tags[i])
	}
	if st.def.Name == CoreExtensionName {
		for _, op := range st.def.Opcodes {
			op.Owner = CoreExtensionName
			r.coreOpcodes[op.Code] = op
		}
	} else if len(st.def.Opcodes) > 0 {
		sub := make(map[byte]Opcode, len(st.def.Opcodes))
		for _, op := range st.def.Opcodes {
			op.Owner = st.def.Name
			sub[op.Code] = op
		}
		r.extOpcodes[st.def.Name] = sub
	}
	st.loaded = true
	st.extID = st.id
	return nil
}

// GetByID returns the extension state for a registered (dense) id.
func (r *Registry) GetByID(id int) (ExtensionDef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.order) {
		return ExtensionDef{}, false
	}
	return r.order[id].def, true
}

// GetByName looks up an extension by name. It returns ok=false if the
// extension was never registered, or if it is currently disabled (extID
// zeroed by SetString).
func (r *Registry) GetByName(name string) (ExtensionDef, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byName[name]
	if !ok || st.extID < 0 {
		return ExtensionDef{}, -1, false
	}
	return st.def, st.id, true
}

// IsEnabled reports whether the named extension is currently enabled
// (registered, loaded, and not disabled by SetString).
func (r *Registry) IsEnabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byName[name]
	return ok && st.loaded && st.extID >= 0
}

// ListString returns the space-separated names of currently enabled
// extensions, excluding internal pseudo-extensions whose name begins with
// '@' (spec.md §4.2).
func (r *Registry) ListString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, st := range r.order {
		if st.loaded && st.extID >= 0 && !strings.HasPrefix(st.def.Name, "@") {
			names = append(names, st.def.Name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// SetString keeps only the listed extensions enabled, plus all required
// ones. Passing nil enables all registered extensions. Disabling an
// extension zeroes its external id (lookups by name fail) without
// unregistering it.
func (r *Registry) SetString(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var want map[string]bool
	if names != nil {
		want = make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
	}

	for _, st := range r.order {
		enable := names == nil || want[st.def.Name] || st.required
		if enable {
			if !st.loaded {
				if err := r.loadLocked(st); err != nil {
					return err
				}
			}
			st.extID = st.id
		} else {
			st.extID = -1
		}
	}
	return nil
}

// Freeze closes configuration: after Freeze, Register/Require/SetString
// must not be called concurrently with Compile/Execute (spec.md §5's
// locking discipline — Freeze is the "one-way frozen flag" the design
// notes recommend in lieu of a runtime lock).
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// LookupCommand finds a registered command descriptor by name, restricted
// to loaded/required extensions implicitly (commands are only installed
// into r.commands while their owning extension is loaded; SetString does
// not remove them, matching spec.md's "disabling does not unregister").
func (r *Registry) LookupCommand(name string) (*CommandDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cd, ok := r.commands[name]
	return cd, ok
}

// LookupTest finds a registered test descriptor by name.
func (r *Registry) LookupTest(name string) (*CommandDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	td, ok := r.tests[name]
	return td, ok
}

// LookupTag finds the tag descriptor matching name: first an exact
// Identifier match, then each registered tag's InstanceOf in registration
// order (spec.md §4.4 step 4).
func (r *Registry) LookupTag(name string) (*TagDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, td := range r.tags {
		if td.Identifier == name {
			return td, true
		}
	}
	for _, td := range r.tags {
		if td.Hooks.InstanceOf != nil && td.Hooks.InstanceOf(name) {
			return td, true
		}
	}
	return nil, false
}

// RegisterCapability adds a capability. Capability registration is
// orthogonal to extension load state: Capability merely returns nil if
// the owning extension is currently disabled (spec.md §4.2).
func (r *Registry) RegisterCapability(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c.Name] = &c
}

// Capability returns the named capability's string, or nil if it is not
// registered or its owning extension is disabled.
func (r *Registry) Capability(name string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.capabilities[name]
	if !ok {
		return nil
	}
	if c.OwningExt != "" && !r.isEnabledLocked(c.OwningExt) {
		return nil
	}
	s := c.GetString()
	return &s
}

func (r *Registry) isEnabledLocked(name string) bool {
	st, ok := r.byName[name]
	return ok && st.loaded && st.extID >= 0
}

// CoreOpcode looks up a core opcode by its wire byte.
func (r *Registry) CoreOpcode(code byte) (Opcode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.coreOpcodes[code]
	return op, ok
}

// ExtOpcode looks up an extension-owned opcode by the owning extension's
// name and its extension-local sub-code byte.
func (r *Registry) ExtOpcode(extName string, subcode byte) (Opcode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.extOpcodes[extName]
	if !ok {
		return Opcode{}, false
	}
	op, ok := sub[subcode]
	return op, ok
}

// ExtIndex returns the named extension's dense registry id, which the
// validator stamps onto resolved commands, tests and tags. A binary's
// EXT_DEPS positions are assigned separately by the generator.
func (r *Registry) ExtIndex(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return st.id, true
}
