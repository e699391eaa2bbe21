// Package parser implements the recursive-descent Lexer + Parser (spec.md
// C3): source text in, positioned internal/sieve/ast tree out, reporting
// syntax errors through the shared internal/sieve/errs.Handler and
// resynchronizing to the next `;` or matching `}` instead of aborting, so
// later well-formed constructs still reach the validator.
//
// Grounded on the teacher's internal/world/go_parser.go, which drives
// go/parser.ParseFile with parser.AllErrors so it collects every syntax
// error in one pass rather than stopping at the first; this package
// hand-rolls that same "keep going, record, resynchronize" discipline
// for Sieve's own (much smaller) grammar, since Sieve has no standard
// library parser to wrap.
package parser

import (
	"github.com/sievecore/sievecore/internal/sieve/ast"
	"github.com/sievecore/sievecore/internal/sieve/errs"
)

// Parser turns one script's source into an ast.Script, reporting syntax
// errors via the Handler supplied to New.
type Parser struct {
	lex        *lexer
	h          *errs.Handler
	scriptName string

	tok    token // current lookahead token
	tokErr error // set if lexing tok failed
}

// New returns a Parser for src. scriptName is used as the errs.Location
// source field in diagnostics.
func New(src, scriptName string, h *errs.Handler) *Parser {
	p := &Parser{lex: newLexer(src), h: h, scriptName: scriptName}
	p.advance()
	return p
}

func (p *Parser) loc() errs.Location {
	return errs.Location{Script: p.scriptName, Line: p.tok.line, Column: p.tok.col}
}

func (p *Parser) locAt(line, col int) errs.Location {
	return errs.Location{Script: p.scriptName, Line: line, Column: col}
}

// advance fetches the next token into p.tok, surfacing lex errors as
// p.tokErr so callers see tokEOF rather than stale data after a bad byte.
func (p *Parser) advance() {
	t, err := p.lex.next()
	p.tok = t
	p.tokErr = err
	if err != nil {
		p.tok = token{kind: tokEOF, line: p.tok.line, col: p.tok.col}
	}
}

// Parse parses the whole script, continuing past syntax errors so every
// well-formed construct is still emitted; the caller decides whether the
// result is usable by checking the Handler's OK() (spec.md §4.3 "Returns
// the AST iff error_count == 0" describes that caller-side gate, not a
// nil return from Parse itself — see DESIGN.md Open Question decisions).
func (p *Parser) Parse() *ast.Script {
	script := &ast.Script{Name: p.scriptName}
	seenNonRequire := false

	for p.tok.kind != tokEOF || p.tokErr != nil {
		startLine, startCol := p.tok.line, p.tok.col
		cmd, err := p.parseCommand()
		if err != nil {
			p.h.Error(p.locAt(startLine, startCol), "%s", err.Error())
			p.resync()
			continue
		}
		if cmd.Name != "require" {
			seenNonRequire = true
		} else if seenNonRequire {
			p.h.Error(p.locAt(cmd.Pos.Line, cmd.Pos.Column), "require must appear before any other top-level command")
		}
		script.Commands = append(script.Commands, cmd)
	}
	return script
}

// resync discards tokens until it passes the next top-level `;` or a
// matching `}` (tracking nested `{`/`}` depth so an inner block doesn't
// end recovery early), per spec.md §4.3.
func (p *Parser) resync() {
	depth := 0
	for p.tok.kind != tokEOF || p.tokErr != nil {
		switch p.tok.kind {
		case tokLBrace:
			depth++
		case tokRBrace:
			if depth == 0 {
				p.advance()
				return
			}
			depth--
		case tokSemicolon:
			if depth == 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) parseCommand() (*ast.Command, error) {
	if p.tokErr != nil {
		return nil, p.tokErr
	}
	if p.tok.kind != tokIdent {
		return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "expected command name"}
	}
	cmd := ast.NewCommand(ast.Position{Line: p.tok.line, Column: p.tok.col}, p.tok.text)
	p.advance()

	for {
		switch p.tok.kind {
		case tokSemicolon, tokLBrace:
			goto argsDone
		case tokEOF:
			return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "unexpected end of script in argument list for " + cmd.Name}
		}
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		if arg.Kind == ast.ArgTest || arg.Kind == ast.ArgTestList {
			if len(arg.Tests) == 1 && arg.Kind == ast.ArgTest {
				cmd.Test = arg.Tests[0]
			} else {
				cmd.Test = &ast.Test{Pos: arg.Pos, Kind: ast.TestAllOf, Children: arg.Tests}
			}
			continue
		}
		cmd.Args = append(cmd.Args, arg)
	}
argsDone:

	switch p.tok.kind {
	case tokSemicolon:
		p.advance()
	case tokLBrace:
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		cmd.Block = block
	}
	return cmd, nil
}

func (p *Parser) parseBlock() ([]*ast.Command, error) {
	if p.tok.kind != tokLBrace {
		return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "expected '{'"}
	}
	p.advance()

	var cmds []*ast.Command
	for p.tok.kind != tokRBrace {
		if p.tok.kind == tokEOF {
			return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "unterminated block, missing '}'"}
		}
		startLine, startCol := p.tok.line, p.tok.col
		cmd, err := p.parseCommand()
		if err != nil {
			p.h.Error(p.locAt(startLine, startCol), "%s", err.Error())
			p.resync()
			continue
		}
		cmds = append(cmds, cmd)
	}
	p.advance() // consume '}'
	return cmds, nil
}

// parseArgument parses one argument := number | string | string-list |
// tag | test | test-list (spec.md §4.3). A bare test invocation
// (`header :is "X" "Y"`) is read as a nested command-shaped construct and
// wrapped as an ArgTest so parseCommand can lift it into cmd.Test.
func (p *Parser) parseArgument() (*ast.Argument, error) {
	if p.tokErr != nil {
		return nil, p.tokErr
	}
	pos := ast.Position{Line: p.tok.line, Column: p.tok.col}
	switch p.tok.kind {
	case tokNumber:
		n := p.tok.number
		p.advance()
		return &ast.Argument{Pos: pos, Kind: ast.ArgNumber, Number: n, ExtID: -1}, nil

	case tokString:
		s := p.tok.text
		p.advance()
		return &ast.Argument{Pos: pos, Kind: ast.ArgString, Str: s, ExtID: -1}, nil

	case tokTag:
		name := p.tok.text
		p.advance()
		return &ast.Argument{Pos: pos, Kind: ast.ArgTag, Str: name, ExtID: -1}, nil

	case tokLBracket:
		return p.parseStringList(pos)

	case tokLParen:
		return p.parseTestList(pos)

	case tokIdent:
		// A bare identifier here is a test invocation used as a command
		// argument, e.g. `if header :is "X" "Y" { ... }`.
		t, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		return &ast.Argument{Pos: pos, Kind: ast.ArgTest, Tests: []*ast.Test{t}, ExtID: -1}, nil

	default:
		return nil, &lexError{line: pos.Line, col: pos.Column, msg: "unexpected token in argument position"}
	}
}

func (p *Parser) parseStringList(pos ast.Position) (*ast.Argument, error) {
	p.advance() // consume '['
	var list []string
	if p.tok.kind != tokRBracket {
		for {
			if p.tok.kind != tokString {
				return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "expected string in string-list"}
			}
			list = append(list, p.tok.text)
			p.advance()
			if p.tok.kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.tok.kind != tokRBracket {
		return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "expected ']' to close string-list"}
	}
	p.advance()
	return &ast.Argument{Pos: pos, Kind: ast.ArgStringList, List: list, ExtID: -1}, nil
}

func (p *Parser) parseTestList(pos ast.Position) (*ast.Argument, error) {
	p.advance() // consume '('
	var tests []*ast.Test
	if p.tok.kind != tokRParen {
		for {
			t, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			tests = append(tests, t)
			if p.tok.kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.tok.kind != tokRParen {
		return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "expected ')' to close test-list"}
	}
	p.advance()
	return &ast.Argument{Pos: pos, Kind: ast.ArgTestList, Tests: tests, ExtID: -1}, nil
}

// parseTest reads one test invocation: IDENT argument*, or a parenthesized
// test-list in `not`/`anyof`/`allof` position. The logical combinators are
// recognized by name here so the AST encodes them structurally
// (ast.TestAnyOf/TestAllOf/TestNot) rather than leaving that to the
// validator.
func (p *Parser) parseTest() (*ast.Test, error) {
	if p.tok.kind != tokIdent {
		return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: "expected test name"}
	}
	pos := ast.Position{Line: p.tok.line, Column: p.tok.col}
	name := p.tok.text
	p.advance()

	switch name {
	case "not":
		child, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		return &ast.Test{Pos: pos, Kind: ast.TestNot, Children: []*ast.Test{child}, ExtID: -1}, nil
	case "anyof", "allof":
		if p.tok.kind != tokLParen {
			return nil, &lexError{line: p.tok.line, col: p.tok.col, msg: name + " requires a parenthesized test-list"}
		}
		arg, err := p.parseTestList(pos)
		if err != nil {
			return nil, err
		}
		kind := ast.TestAnyOf
		if name == "allof" {
			kind = ast.TestAllOf
		}
		return &ast.Test{Pos: pos, Kind: kind, Children: arg.Tests, ExtID: -1}, nil
	}

	t := ast.NewLeafTest(pos, name)
	for {
		switch p.tok.kind {
		case tokSemicolon, tokLBrace, tokRParen, tokComma, tokRBracket, tokEOF:
			return t, nil
		}
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		t.Args = append(t.Args, arg)
	}
}
