package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sievecore/sievecore/internal/sieve/ast"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	_, err := reg.Register(registry.ExtensionDef{
		Name: registry.CoreExtensionName,
		Commands: []registry.CommandDescriptor{
			{Name: "keep", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0},
			{Name: "if", Kind: registry.KindCommand, MinPositional: 0, MaxPositional: 0, AllowBlock: true},
			{Name: "require", Kind: registry.KindCommand, MinPositional: 1, MaxPositional: 1, IsRequireLike: true},
		},
		Tests: []registry.CommandDescriptor{
			{
				Name: "header", Kind: registry.KindTest, MinPositional: 2, MaxPositional: 2,
				Positionals: []registry.PositionalSpec{
					{Name: "header-names", Kind: ast.ArgStringList},
					{Name: "key-list", Kind: ast.ArgStringList},
				},
			},
		},
		Tags: []registry.TagDescriptor{
			{
				Identifier: "comparator",
				Hooks: registry.TagHooks{
					Validate: func(tagName string, n ast.Node, argIndex int, env registry.HookEnv) (int, error) {
						return 1, nil // consumes the following string argument
					},
				},
			},
		},
	}, true)
	require.NoError(t, err)

	_, err = reg.Register(registry.ExtensionDef{Name: "fileinto"}, false)
	require.NoError(t, err)
	return reg
}

func TestValidator_UnknownCommand(t *testing.T) {
	reg := newTestRegistry(t)
	h := errs.New(10, nil)
	v := New(reg, h, "t.sieve")

	script := &ast.Script{Commands: []*ast.Command{ast.NewCommand(ast.Position{}, "bogus")}}
	v.Validate(script)
	require.False(t, h.OK())
}

func TestValidator_PositionalCountAndStringListLifting(t *testing.T) {
	reg := newTestRegistry(t)
	h := errs.New(10, nil)
	v := New(reg, h, "t.sieve")

	headerTest := ast.NewLeafTest(ast.Position{}, "header")
	headerTest.Args = []*ast.Argument{
		{Kind: ast.ArgString, Str: "Subject", ExtID: -1},
		{Kind: ast.ArgStringList, List: []string{"hi"}, ExtID: -1},
	}
	ifCmd := ast.NewCommand(ast.Position{}, "if")
	ifCmd.Test = headerTest
	ifCmd.Block = []*ast.Command{ast.NewCommand(ast.Position{}, "keep")}

	script := &ast.Script{Commands: []*ast.Command{ifCmd}}
	v.Validate(script)
	require.True(t, h.OK())
	require.Equal(t, ast.ArgStringList, headerTest.Args[0].Kind)
	require.Equal(t, []string{"Subject"}, headerTest.Args[0].List)
}

func TestValidator_TagConsumesFollowingArgument(t *testing.T) {
	reg := newTestRegistry(t)
	h := errs.New(10, nil)
	v := New(reg, h, "t.sieve")

	headerTest := ast.NewLeafTest(ast.Position{}, "header")
	headerTest.Args = []*ast.Argument{
		{Kind: ast.ArgTag, Str: "comparator", ExtID: -1},
		{Kind: ast.ArgString, Str: "i;octet", ExtID: -1}, // consumed by :comparator
		{Kind: ast.ArgStringList, List: []string{"Subject"}, ExtID: -1},
		{Kind: ast.ArgStringList, List: []string{"hi"}, ExtID: -1},
	}
	ifCmd := ast.NewCommand(ast.Position{}, "if")
	ifCmd.Test = headerTest
	ifCmd.Block = []*ast.Command{ast.NewCommand(ast.Position{}, "keep")}

	script := &ast.Script{Commands: []*ast.Command{ifCmd}}
	v.Validate(script)
	require.True(t, h.OK())
}

func TestValidator_HoistRequireLoadsExtension(t *testing.T) {
	reg := newTestRegistry(t)
	h := errs.New(10, nil)
	v := New(reg, h, "t.sieve")

	reqCmd := ast.NewCommand(ast.Position{}, "require")
	reqCmd.Args = []*ast.Argument{{Kind: ast.ArgStringList, List: []string{"fileinto"}, ExtID: -1}}

	script := &ast.Script{Commands: []*ast.Command{reqCmd}}
	v.Validate(script)
	require.True(t, h.OK())
	require.True(t, reg.IsEnabled("fileinto"))
}

func TestValidator_RequireUnknownExtensionIsError(t *testing.T) {
	reg := newTestRegistry(t)
	h := errs.New(10, nil)
	v := New(reg, h, "t.sieve")

	reqCmd := ast.NewCommand(ast.Position{}, "require")
	reqCmd.Args = []*ast.Argument{{Kind: ast.ArgStringList, List: []string{"nonexistent"}, ExtID: -1}}

	script := &ast.Script{Commands: []*ast.Command{reqCmd}}
	v.Validate(script)
	require.False(t, h.OK())
}

func TestValidator_AllowBlockMismatch(t *testing.T) {
	reg := newTestRegistry(t)
	h := errs.New(10, nil)
	v := New(reg, h, "t.sieve")

	keepCmd := ast.NewCommand(ast.Position{}, "keep")
	keepCmd.Block = []*ast.Command{ast.NewCommand(ast.Position{}, "keep")}

	script := &ast.Script{Commands: []*ast.Command{keepCmd}}
	v.Validate(script)
	require.False(t, h.OK())
}
