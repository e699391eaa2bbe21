// Package core registers the "@core" pseudo-extension: the base commands
// and tests every Sieve script can use without a `require`, plus the
// comparator/match-type/address-part meta-extensions that decorate the
// `header`/`address`/`size` tests (spec.md §4.4).
//
// This is a framework demo, not a complete implementation of RFC 5228's
// base semantics: an `if`/`elsif`/`else` chain is lowered by the generator
// (one shared end-of-chain jump), and only the three comparators, three match-types,
// and three address-parts spec.md's own examples exercise are wired. See
// DESIGN.md for the full list of simplifications.
//
// Grounded on the teacher's internal/jit opcode table (a flat table of
// {mnemonic, execute, dump} triples keyed by byte) and
// internal/world/parser_factory.go's registration-time wiring of
// validate/generate hooks onto named constructs.
package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sievecore/sievecore/internal/sieve/ast"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/interp"
	"github.com/sievecore/sievecore/internal/sieve/registry"
)

// Core opcodes above the reserved control-flow range (registry.OpJmp* /
// registry.OpNotResult occupy 0x01-0x04).
const (
	opKeep     byte = 0x10
	opDiscard  byte = 0x11
	opFileinto byte = 0x12
	opRedirect byte = 0x13
	opReject   byte = 0x14
	opStop     byte = 0x15
	opHeader   byte = 0x16
	opAddress  byte = 0x17
	opSize     byte = 0x18
)

// companionExtensionNames lists RFC 5228 extension names a script may
// `require` whose commands this framework demo already implements
// directly under "@core" (spec.md §1's "not in scope: the individual
// Sieve extensions' semantics"). Registering them as empty, nameable
// extensions lets `require ["fileinto"];` (spec.md §8 scenario 1) resolve
// and load successfully instead of every such name needing its own
// real per-extension command set.
var companionExtensionNames = []string{"fileinto", "envelope", "reject"}

// CompanionExtensions returns placeholder registrations for the RFC 5228
// extension names whose commands already live under "@core"; a caller
// wiring up a registry should register these alongside Extension() so
// `require` against those names succeeds.
func CompanionExtensions() []registry.ExtensionDef {
	defs := make([]registry.ExtensionDef, len(companionExtensionNames))
	for i, name := range companionExtensionNames {
		defs[i] = registry.ExtensionDef{Name: name}
	}
	return defs
}

// Extension returns the "@core" registration, ready to pass to
// (*registry.Registry).Register(Extension(), true).
func Extension() registry.ExtensionDef {
	return registry.ExtensionDef{
		Name:     registry.CoreExtensionName,
		Commands: coreCommands(),
		Tests:    coreTests(),
		Tags:     coreTags(),
		Opcodes:  coreOpcodes(),
	}
}

// matchContext is the opaque Context a header/address/size test attaches
// to itself in PreValidate (spec.md §4.4 "the validator attaches the
// resolved triple... to the argument node's context"); :comparator,
// :is/:contains/:matches, :localpart/:domain/:all, and :over/:under each
// mutate it from their own Validate hook as tag resolution walks past
// them.
type matchContext struct {
	comparator  string
	matchType   string
	addressPart string
	over        bool
}

func newMatchContext() *matchContext {
	return &matchContext{comparator: "i;ascii-casemap", matchType: "is", addressPart: "all"}
}

func preValidateAttachContext(n ast.Node, _ registry.HookEnv) error {
	n.SetContext(newMatchContext())
	return nil
}

func contextOf(n ast.Node) (*matchContext, error) {
	mc, ok := n.GetContext().(*matchContext)
	if !ok {
		return nil, fmt.Errorf("internal: node has no match context")
	}
	return mc, nil
}

// coreTags registers :comparator, the three match-types, the three
// address-parts, and the two size comparators.
func coreTags() []registry.TagDescriptor {
	var tags []registry.TagDescriptor

	tags = append(tags, registry.TagDescriptor{
		Identifier: "comparator",
		Hooks: registry.TagHooks{
			Validate: func(tagName string, n ast.Node, argIndex int, env registry.HookEnv) (int, error) {
				args := n.ArgList()
				if argIndex+1 >= len(args) || args[argIndex+1].Kind != ast.ArgString {
					return 0, fmt.Errorf(":comparator requires a following string argument")
				}
				name := args[argIndex+1].Str
				switch name {
				case "i;octet", "i;ascii-casemap", "i;ascii-numeric":
				default:
					return 1, fmt.Errorf("unknown comparator %q", name)
				}
				mc, err := contextOf(n)
				if err != nil {
					return 1, err
				}
				mc.comparator = name
				return 1, nil
			},
		},
	})

	for _, mt := range []string{"is", "contains", "matches"} {
		mt := mt
		tags = append(tags, registry.TagDescriptor{
			Identifier: mt,
			Hooks: registry.TagHooks{
				Validate: func(tagName string, n ast.Node, argIndex int, env registry.HookEnv) (int, error) {
					mc, err := contextOf(n)
					if err != nil {
						return 0, err
					}
					mc.matchType = mt
					return 0, nil
				},
			},
		})
	}

	for _, ap := range []string{"all", "localpart", "domain"} {
		ap := ap
		tags = append(tags, registry.TagDescriptor{
			Identifier: ap,
			Hooks: registry.TagHooks{
				Validate: func(tagName string, n ast.Node, argIndex int, env registry.HookEnv) (int, error) {
					mc, err := contextOf(n)
					if err != nil {
						return 0, err
					}
					mc.addressPart = ap
					return 0, nil
				},
			},
		})
	}

	for name, over := range map[string]bool{"over": true, "under": false} {
		name, over := name, over
		tags = append(tags, registry.TagDescriptor{
			Identifier: name,
			Hooks: registry.TagHooks{
				Validate: func(tagName string, n ast.Node, argIndex int, env registry.HookEnv) (int, error) {
					mc, err := contextOf(n)
					if err != nil {
						return 0, err
					}
					mc.over = over
					return 0, nil
				},
			},
		})
	}

	return tags
}

// positionalsOf extracts the non-tag arguments, in order, skipping over a
// :comparator tag's consumed value along with it. Every tag core
// registers other than :comparator consumes no following argument, so
// this mirrors the validator's own tag-resolution walk without needing to
// re-run each tag's Validate hook.
func positionalsOf(args []*ast.Argument) []*ast.Argument {
	var out []*ast.Argument
	for i := 0; i < len(args); {
		if args[i].Kind != ast.ArgTag {
			out = append(out, args[i])
			i++
			continue
		}
		if args[i].Str == "comparator" {
			i += 2
			continue
		}
		i++
	}
	return out
}

func coreTests() []registry.CommandDescriptor {
	return []registry.CommandDescriptor{
		{
			Name: "header", Kind: registry.KindTest,
			MinPositional: 2, MaxPositional: 2,
			Positionals: []registry.PositionalSpec{
				{Name: "header-names", Kind: ast.ArgStringList},
				{Name: "key-list", Kind: ast.ArgStringList},
			},
			Hooks: registry.CommandHooks{
				PreValidate: preValidateAttachContext,
				Generate:    generateHeaderTest,
			},
		},
		{
			Name: "address", Kind: registry.KindTest,
			MinPositional: 2, MaxPositional: 2,
			Positionals: []registry.PositionalSpec{
				{Name: "header-names", Kind: ast.ArgStringList},
				{Name: "key-list", Kind: ast.ArgStringList},
			},
			Hooks: registry.CommandHooks{
				PreValidate: preValidateAttachContext,
				Generate:    generateAddressTest,
			},
		},
		{
			Name: "size", Kind: registry.KindTest,
			MinPositional: 1, MaxPositional: 1,
			Positionals: []registry.PositionalSpec{
				{Name: "limit", Kind: ast.ArgNumber},
			},
			Hooks: registry.CommandHooks{
				PreValidate: preValidateAttachContext,
				Generate:    generateSizeTest,
			},
		},
	}
}

func coreCommands() []registry.CommandDescriptor {
	return []registry.CommandDescriptor{
		{Name: "keep", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0,
			Hooks: registry.CommandHooks{Generate: generateSimple(opKeep)}},
		{Name: "discard", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0,
			Hooks: registry.CommandHooks{Generate: generateSimple(opDiscard)}},
		{Name: "stop", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0,
			Hooks: registry.CommandHooks{Generate: generateSimple(opStop)}},
		{Name: "fileinto", Kind: registry.KindCommand, MinPositional: 1, MaxPositional: 1,
			Positionals: []registry.PositionalSpec{{Name: "mailbox", Kind: ast.ArgString}},
			Hooks:       registry.CommandHooks{Generate: generateWithString(opFileinto)}},
		{Name: "redirect", Kind: registry.KindCommand, MinPositional: 1, MaxPositional: 1,
			Positionals: []registry.PositionalSpec{{Name: "address", Kind: ast.ArgString}},
			Hooks:       registry.CommandHooks{Generate: generateWithString(opRedirect)}},
		{Name: "reject", Kind: registry.KindCommand, MinPositional: 1, MaxPositional: 1,
			Positionals: []registry.PositionalSpec{{Name: "reason", Kind: ast.ArgString}},
			Hooks:       registry.CommandHooks{Generate: generateWithString(opReject)}},
		{Name: "require", Kind: registry.KindCommand, MinPositional: 1, MaxPositional: 1,
			IsRequireLike: true,
			Positionals:   []registry.PositionalSpec{{Name: "extensions", Kind: ast.ArgStringList}},
		},
		// if/elsif/else have no Generate hook of their own: the generator
		// recognizes the run of commands starting at "if" and lowers the
		// whole chain at once (generator.go's generateIfChain), the same
		// way it lowers anyof/allof directly rather than per-command.
		{Name: "if", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0, AllowBlock: true,
			Hooks: registry.CommandHooks{Validate: validateHasTest}},
		{Name: "elsif", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0, AllowBlock: true,
			Hooks: registry.CommandHooks{Validate: validateHasTest}},
		{Name: "else", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0, AllowBlock: true,
			Hooks: registry.CommandHooks{Validate: validateHasNoTest}},
	}
}

func validateHasTest(n ast.Node, env registry.HookEnv) error {
	cmd, ok := n.(*ast.Command)
	if !ok || cmd.Test == nil {
		return fmt.Errorf("requires a test")
	}
	return nil
}

func validateHasNoTest(n ast.Node, env registry.HookEnv) error {
	cmd, ok := n.(*ast.Command)
	if !ok || cmd.Test != nil {
		return fmt.Errorf("does not take a test")
	}
	return nil
}

// generateSimple returns a Generate hook for a command whose only
// bytecode contribution is its own opcode (keep/discard/stop).
func generateSimple(code byte) func(ast.Node, registry.GenEnv) error {
	return func(n ast.Node, env registry.GenEnv) error {
		op, ok := env.Registry().CoreOpcode(code)
		if !ok {
			return fmt.Errorf("core opcode 0x%02x not registered", code)
		}
		env.EmitOpcode(op)
		return nil
	}
}

// generateWithString returns a Generate hook for a command whose opcode
// is followed by a single string operand (fileinto/redirect/reject).
func generateWithString(code byte) func(ast.Node, registry.GenEnv) error {
	return func(n ast.Node, env registry.GenEnv) error {
		op, ok := env.Registry().CoreOpcode(code)
		if !ok {
			return fmt.Errorf("core opcode 0x%02x not registered", code)
		}
		positionals := positionalsOf(n.ArgList())
		if len(positionals) != 1 || positionals[0].Kind != ast.ArgString {
			return fmt.Errorf("expected exactly one string argument")
		}
		env.EmitOpcode(op)
		env.EmitString(positionals[0].Str)
		return nil
	}
}

func comparatorByte(name string) byte {
	switch name {
	case "i;octet":
		return 0
	case "i;ascii-numeric":
		return 2
	default: // "i;ascii-casemap"
		return 1
	}
}

func comparatorName(b byte) string {
	switch b {
	case 0:
		return "i;octet"
	case 2:
		return "i;ascii-numeric"
	default:
		return "i;ascii-casemap"
	}
}

func matchTypeByte(name string) byte {
	switch name {
	case "contains":
		return 1
	case "matches":
		return 2
	default: // "is"
		return 0
	}
}

func matchTypeName(b byte) string {
	switch b {
	case 1:
		return "contains"
	case 2:
		return "matches"
	default:
		return "is"
	}
}

func addressPartByte(name string) byte {
	switch name {
	case "localpart":
		return 1
	case "domain":
		return 2
	default: // "all"
		return 0
	}
}

func addressPartName(b byte) string {
	switch b {
	case 1:
		return "localpart"
	case 2:
		return "domain"
	default:
		return "all"
	}
}

func emitStringList(env registry.GenEnv, list []string) {
	env.EmitVarint(uint64(len(list)))
	for _, s := range list {
		env.EmitString(s)
	}
}

func readStringList(r registry.OperandReader) ([]string, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func generateHeaderTest(n ast.Node, env registry.GenEnv) error {
	t := n.(*ast.Test)
	mc, err := contextOf(t)
	if err != nil {
		return err
	}
	positionals := positionalsOf(t.Args)
	if len(positionals) != 2 {
		return fmt.Errorf("header: expected 2 positional arguments, got %d", len(positionals))
	}
	op, ok := env.Registry().CoreOpcode(opHeader)
	if !ok {
		return fmt.Errorf("core opcode HEADER not registered")
	}
	env.EmitOpcode(op)
	env.EmitByte(comparatorByte(mc.comparator))
	env.EmitByte(matchTypeByte(mc.matchType))
	emitStringList(env, positionals[0].List)
	emitStringList(env, positionals[1].List)
	return nil
}

func generateAddressTest(n ast.Node, env registry.GenEnv) error {
	t := n.(*ast.Test)
	mc, err := contextOf(t)
	if err != nil {
		return err
	}
	positionals := positionalsOf(t.Args)
	if len(positionals) != 2 {
		return fmt.Errorf("address: expected 2 positional arguments, got %d", len(positionals))
	}
	op, ok := env.Registry().CoreOpcode(opAddress)
	if !ok {
		return fmt.Errorf("core opcode ADDRESS not registered")
	}
	env.EmitOpcode(op)
	env.EmitByte(comparatorByte(mc.comparator))
	env.EmitByte(matchTypeByte(mc.matchType))
	env.EmitByte(addressPartByte(mc.addressPart))
	emitStringList(env, positionals[0].List)
	emitStringList(env, positionals[1].List)
	return nil
}

func generateSizeTest(n ast.Node, env registry.GenEnv) error {
	t := n.(*ast.Test)
	mc, err := contextOf(t)
	if err != nil {
		return err
	}
	positionals := positionalsOf(t.Args)
	if len(positionals) != 1 || positionals[0].Kind != ast.ArgNumber {
		return fmt.Errorf("size: expected exactly one number argument")
	}
	op, ok := env.Registry().CoreOpcode(opSize)
	if !ok {
		return fmt.Errorf("core opcode SIZE not registered")
	}
	env.EmitOpcode(op)
	if mc.over {
		env.EmitByte(1)
	} else {
		env.EmitByte(0)
	}
	env.EmitVarint(positionals[0].Number)
	return nil
}

// coreOpcodes wires the static bytecode table: control-flow opcodes plus
// the actions and tests above.
func coreOpcodes() []registry.Opcode {
	return []registry.Opcode{
		{Mnemonic: "JMP_IF_TRUE", Code: registry.OpJmpIfTrue, ExecuteFn: execJumpIf(true), DumpFn: dumpJump},
		{Mnemonic: "JMP_IF_FALSE", Code: registry.OpJmpIfFalse, ExecuteFn: execJumpIf(false), DumpFn: dumpJump},
		{Mnemonic: "JMP", Code: registry.OpJmp, ExecuteFn: execJmp, DumpFn: dumpJump},
		{Mnemonic: "NOT_RESULT", Code: registry.OpNotResult, ExecuteFn: execNotResult},
		{Mnemonic: "KEEP", Code: opKeep, ExecuteFn: execKeep},
		{Mnemonic: "DISCARD", Code: opDiscard, ExecuteFn: execDiscard},
		{Mnemonic: "FILEINTO", Code: opFileinto, ExecuteFn: execFileinto, DumpFn: dumpString},
		{Mnemonic: "REDIRECT", Code: opRedirect, ExecuteFn: execRedirect, DumpFn: dumpString},
		{Mnemonic: "REJECT", Code: opReject, ExecuteFn: execReject, DumpFn: dumpString},
		{Mnemonic: "STOP", Code: opStop, ExecuteFn: execStop},
		{Mnemonic: "HEADER", Code: opHeader, ExecuteFn: execHeader, DumpFn: dumpHeader},
		{Mnemonic: "ADDRESS", Code: opAddress, ExecuteFn: execAddress, DumpFn: dumpAddress},
		{Mnemonic: "SIZE", Code: opSize, ExecuteFn: execSize, DumpFn: dumpSize},
	}
}

func execJumpIf(onTrue bool) func(registry.OpContext) (registry.Control, error) {
	return func(ctx registry.OpContext) (registry.Control, error) {
		off, err := ctx.ReadInt32()
		if err != nil {
			return registry.Control{}, err
		}
		if ctx.TestResult() != onTrue {
			return registry.Continue, nil
		}
		ec := ctx.(interp.ExecContext)
		return registry.JumpTo(uint32(ec.PC() + int(off))), nil
	}
}

func execJmp(ctx registry.OpContext) (registry.Control, error) {
	off, err := ctx.ReadInt32()
	if err != nil {
		return registry.Control{}, err
	}
	ec := ctx.(interp.ExecContext)
	return registry.JumpTo(uint32(ec.PC() + int(off))), nil
}

func execNotResult(ctx registry.OpContext) (registry.Control, error) {
	ctx.SetTestResult(!ctx.TestResult())
	return registry.Continue, nil
}

func dumpJump(ctx registry.DumpContext) (string, error) {
	off, err := ctx.ReadInt32()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%+d", off), nil
}

func execKeep(ctx registry.OpContext) (registry.Control, error) {
	ec := ctx.(interp.ExecContext)
	ec.Results().Keep(errs.Location{}, "", registry.CoreExtensionName)
	return registry.Continue, nil
}

func execDiscard(ctx registry.OpContext) (registry.Control, error) {
	ec := ctx.(interp.ExecContext)
	ec.Results().Discard(errs.Location{}, registry.CoreExtensionName)
	return registry.Continue, nil
}

func execFileinto(ctx registry.OpContext) (registry.Control, error) {
	mailbox, err := ctx.ReadString()
	if err != nil {
		return registry.Control{}, err
	}
	ec := ctx.(interp.ExecContext)
	ec.Results().FileInto(errs.Location{}, mailbox, registry.CoreExtensionName)
	return registry.Continue, nil
}

func execRedirect(ctx registry.OpContext) (registry.Control, error) {
	addr, err := ctx.ReadString()
	if err != nil {
		return registry.Control{}, err
	}
	ec := ctx.(interp.ExecContext)
	ec.Results().Redirect(errs.Location{}, addr, registry.CoreExtensionName)
	return registry.Continue, nil
}

func execReject(ctx registry.OpContext) (registry.Control, error) {
	reason, err := ctx.ReadString()
	if err != nil {
		return registry.Control{}, err
	}
	ec := ctx.(interp.ExecContext)
	ec.Results().Reject(errs.Location{}, reason, registry.CoreExtensionName)
	return registry.Continue, nil
}

func execStop(ctx registry.OpContext) (registry.Control, error) {
	return registry.Continue, interp.ErrStop
}

func dumpString(ctx registry.DumpContext) (string, error) {
	s, err := ctx.ReadString()
	if err != nil {
		return "", err
	}
	return strconv.Quote(s), nil
}

// headerValues fetches every value of name from every header in headers
// (decoded, per spec.md's Message.Header contract).
func headerValues(ctx context.Context, msg interface{ Header(context.Context, string, bool) ([]string, error) }, headers []string) ([]string, error) {
	var out []string
	for _, h := range headers {
		vs, err := msg.Header(ctx, h, true)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func execHeader(ctx registry.OpContext) (registry.Control, error) {
	cmp, err := ctx.ReadByte()
	if err != nil {
		return registry.Control{}, err
	}
	mt, err := ctx.ReadByte()
	if err != nil {
		return registry.Control{}, err
	}
	headers, err := readStringList(ctx)
	if err != nil {
		return registry.Control{}, err
	}
	keys, err := readStringList(ctx)
	if err != nil {
		return registry.Control{}, err
	}

	ec := ctx.(interp.ExecContext)
	msg := ec.Message()
	result := false
	if msg != nil {
		values, err := headerValues(ec.Context(), msg, headers)
		if err != nil {
			return registry.Control{}, err
		}
		cmpName, mtName := comparatorName(cmp), matchTypeName(mt)
		for _, v := range values {
			for _, k := range keys {
				if matchOne(mtName, cmpName, v, k) {
					result = true
				}
			}
		}
	}
	ctx.SetTestResult(result)
	return registry.Continue, nil
}

// splitAddress returns the local-part and domain of the first address
// found in value (a raw header value such as `"Name" <a@b.example>` or
// plain `a@b.example`).
func splitAddress(value string) (local, domain string) {
	v := value
	if i := strings.LastIndex(v, "<"); i >= 0 {
		if j := strings.Index(v[i:], ">"); j >= 0 {
			v = v[i+1 : i+j]
		}
	}
	v = strings.TrimSpace(v)
	at := strings.LastIndex(v, "@")
	if at < 0 {
		return v, ""
	}
	return v[:at], v[at+1:]
}

func execAddress(ctx registry.OpContext) (registry.Control, error) {
	cmp, err := ctx.ReadByte()
	if err != nil {
		return registry.Control{}, err
	}
	mt, err := ctx.ReadByte()
	if err != nil {
		return registry.Control{}, err
	}
	ap, err := ctx.ReadByte()
	if err != nil {
		return registry.Control{}, err
	}
	headers, err := readStringList(ctx)
	if err != nil {
		return registry.Control{}, err
	}
	keys, err := readStringList(ctx)
	if err != nil {
		return registry.Control{}, err
	}

	ec := ctx.(interp.ExecContext)
	msg := ec.Message()
	result := false
	if msg != nil {
		values, err := headerValues(ec.Context(), msg, headers)
		if err != nil {
			return registry.Control{}, err
		}
		cmpName, mtName, apName := comparatorName(cmp), matchTypeName(mt), addressPartName(ap)
		for _, v := range values {
			local, domain := splitAddress(v)
			var part string
			switch apName {
			case "localpart":
				part = local
			case "domain":
				part = domain
			default:
				if domain != "" {
					part = local + "@" + domain
				} else {
					part = local
				}
			}
			for _, k := range keys {
				if matchOne(mtName, cmpName, part, k) {
					result = true
				}
			}
		}
	}
	ctx.SetTestResult(result)
	return registry.Continue, nil
}

func dumpHeader(ctx registry.DumpContext) (string, error) {
	cmp, err := ctx.ReadByte()
	if err != nil {
		return "", err
	}
	mt, err := ctx.ReadByte()
	if err != nil {
		return "", err
	}
	headers, err := readStringList(ctx)
	if err != nil {
		return "", err
	}
	keys, err := readStringList(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(":comparator %q :%s %v %v", comparatorName(cmp), matchTypeName(mt), headers, keys), nil
}

func dumpAddress(ctx registry.DumpContext) (string, error) {
	cmp, err := ctx.ReadByte()
	if err != nil {
		return "", err
	}
	mt, err := ctx.ReadByte()
	if err != nil {
		return "", err
	}
	ap, err := ctx.ReadByte()
	if err != nil {
		return "", err
	}
	headers, err := readStringList(ctx)
	if err != nil {
		return "", err
	}
	keys, err := readStringList(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(":comparator %q :%s :%s %v %v", comparatorName(cmp), matchTypeName(mt), addressPartName(ap), headers, keys), nil
}

func execSize(ctx registry.OpContext) (registry.Control, error) {
	overByte, err := ctx.ReadByte()
	if err != nil {
		return registry.Control{}, err
	}
	limit, err := ctx.ReadVarint()
	if err != nil {
		return registry.Control{}, err
	}
	ec := ctx.(interp.ExecContext)
	result := false
	if msg := ec.Message(); msg != nil {
		size := msg.PhysicalSize()
		if overByte != 0 {
			result = size > limit
		} else {
			result = size < limit
		}
	}
	ctx.SetTestResult(result)
	return registry.Continue, nil
}

func dumpSize(ctx registry.DumpContext) (string, error) {
	overByte, err := ctx.ReadByte()
	if err != nil {
		return "", err
	}
	limit, err := ctx.ReadVarint()
	if err != nil {
		return "", err
	}
	dir := "under"
	if overByte != 0 {
		dir = "over"
	}
	return fmt.Sprintf(":%s %d", dir, limit), nil
}

// matchOne applies mt/cmp to decide whether value matches key, per
// spec.md §4.4's comparator/match-type pair.
func matchOne(mt, cmp, value, key string) bool {
	switch mt {
	case "contains":
		return compareContains(cmp, value, key)
	case "matches":
		return compareMatches(cmp, value, key)
	default: // "is"
		return compareEqual(cmp, value, key)
	}
}

func compareEqual(cmp, a, b string) bool {
	switch cmp {
	case "i;ascii-casemap":
		return strings.EqualFold(a, b)
	case "i;ascii-numeric":
		na, aok := parseNumeric(a)
		nb, bok := parseNumeric(b)
		return aok && bok && na == nb
	default: // "i;octet"
		return a == b
	}
}

func compareContains(cmp, haystack, needle string) bool {
	if cmp == "i;ascii-casemap" {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}
	return strings.Contains(haystack, needle)
}

func compareMatches(cmp, value, pattern string) bool {
	if cmp == "i;ascii-casemap" {
		return globMatch(strings.ToLower(value), strings.ToLower(pattern))
	}
	return globMatch(value, pattern)
}

func parseNumeric(s string) (uint64, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(s[:end], 10, 64)
	return n, err == nil
}

// globMatch implements Sieve's ":matches" wildcard syntax: "*" matches
// any sequence (including empty), "?" matches exactly one character.
func globMatch(s, pattern string) bool {
	var matchHere func(s, p string) bool
	matchHere = func(s, p string) bool {
		if p == "" {
			return s == ""
		}
		switch p[0] {
		case '*':
			if matchHere(s, p[1:]) {
				return true
			}
			for i := 0; i < len(s); i++ {
				if matchHere(s[i+1:], p[1:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			return matchHere(s[1:], p[1:])
		default:
			if s == "" || s[0] != p[0] {
				return false
			}
			return matchHere(s[1:], p[1:])
		}
	}
	return matchHere(s, pattern)
}
