package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sievecore/sievecore/internal/sieve/ast"
	"github.com/sievecore/sievecore/internal/sieve/errs"
)

func TestParser_SimpleKeep(t *testing.T) {
	h := errs.New(10, nil)
	p := New(`keep;`, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())
	require.Len(t, script.Commands, 1)
	require.Equal(t, "keep", script.Commands[0].Name)
}

func TestParser_IfWithTestAndBlock(t *testing.T) {
	h := errs.New(10, nil)
	src := `if header :is "Subject" "hi" { fileinto "INBOX"; }`
	p := New(src, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())
	require.Len(t, script.Commands, 1)

	cmd := script.Commands[0]
	require.Equal(t, "if", cmd.Name)
	require.NotNil(t, cmd.Test)
	require.Equal(t, ast.TestLeaf, cmd.Test.Kind)
	require.Equal(t, "header", cmd.Test.Name)
	require.Len(t, cmd.Block, 1)
	require.Equal(t, "fileinto", cmd.Block[0].Name)
}

func TestParser_AnyOfAllOfNot(t *testing.T) {
	h := errs.New(10, nil)
	src := `if anyof (not allof (true, true), false) { stop; }`
	p := New(src, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())

	test := script.Commands[0].Test
	require.Equal(t, ast.TestAnyOf, test.Kind)
	require.Len(t, test.Children, 2)
	require.Equal(t, ast.TestNot, test.Children[0].Kind)
	require.Equal(t, ast.TestAllOf, test.Children[0].Children[0].Kind)
}

func TestParser_StringListAndTag(t *testing.T) {
	h := errs.New(10, nil)
	src := `fileinto :copy ["a", "b"];`
	p := New(src, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())

	cmd := script.Commands[0]
	require.Len(t, cmd.Args, 2)
	require.Equal(t, ast.ArgTag, cmd.Args[0].Kind)
	require.Equal(t, "copy", cmd.Args[0].Str)
	require.Equal(t, ast.ArgStringList, cmd.Args[1].Kind)
	require.Equal(t, []string{"a", "b"}, cmd.Args[1].List)
}

func TestParser_MultiLineStringDotStuffing(t *testing.T) {
	h := errs.New(10, nil)
	src := "vacation text:\r\nline one\r\n..stuffed\r\n.\r\n;"
	p := New(src, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())

	arg := script.Commands[0].Args[0]
	require.Equal(t, ast.ArgString, arg.Kind)
	require.Equal(t, "line one\n.stuffed", arg.Str)
}

func TestParser_NumberScaling(t *testing.T) {
	h := errs.New(10, nil)
	p := New(`size :over 10K;`, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())
	require.Equal(t, uint64(10*1024), script.Commands[0].Args[1].Number)
}

func TestParser_SyntaxErrorResyncsAndContinues(t *testing.T) {
	h := errs.New(10, nil)
	src := `keep !!!; stop;`
	p := New(src, "t.sieve", h)
	script := p.Parse()
	require.False(t, h.OK())
	require.GreaterOrEqual(t, h.ErrorCount(), 1)
	// "stop;" after the resync point should still have parsed.
	found := false
	for _, c := range script.Commands {
		if c.Name == "stop" {
			found = true
		}
	}
	require.True(t, found)
}

func TestParser_RequireAfterNonRequireIsError(t *testing.T) {
	h := errs.New(10, nil)
	src := `keep; require ["fileinto"];`
	p := New(src, "t.sieve", h)
	p.Parse()
	require.False(t, h.OK())
}

func TestParser_NumberOverflow(t *testing.T) {
	h := errs.New(10, nil)
	p := New(`size :over 99999999999999999999999999999;`, "t.sieve", h)
	p.Parse()
	require.False(t, h.OK())
}
