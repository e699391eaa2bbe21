package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

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

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	_, err := reg.Register(core.Extension(), true)
	require.NoError(t, err)
	for _, def := range core.CompanionExtensions() {
		_, err := reg.Register(def, false)
		require.NoError(t, err)
	}
	return reg
}

// compileAndRun parses, validates, and generates src, then runs the
// resulting binary against msg/env, returning the exit status and the
// committed actions.
func compileAndRun(t *testing.T, reg *registry.Registry, src string, msg sievenv.Message, env *sievenv.FakeEnv) (interp.ExitStatus, []result.PendingAction) {
	t.Helper()
	h := errs.New(10, nil)

	p := parser.New(src, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK(), "parse: %+v", h.Diagnostics())

	v := validator.New(reg, h, "t.sieve")
	v.Validate(script)
	require.True(t, h.OK(), "validate: %+v", h.Diagnostics())

	g := generator.New(reg, h, "t.sieve")
	binOut, err := g.Generate(script, bin.SourceMeta{}, 1)
	require.NoError(t, err)

	in, err := interp.New(binOut, reg, env, msg, h, 0)
	require.NoError(t, err)

	set := result.New()
	status, err := in.Run(context.Background(), set)
	require.NoError(t, err)

	st, err := set.Execute(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, result.StatusOK, st)

	return status, set.Actions()
}

func TestScenario_Keep(t *testing.T) {
	reg := newRegistry(t)
	env := sievenv.NewFakeEnv()
	msg := sievenv.NewFakeMessage(100, nil)

	status, _ := compileAndRun(t, reg, `require ["fileinto"];
keep;`, msg, env)

	require.Equal(t, interp.ExitOK, status)
	require.Equal(t, []string{""}, env.Kept)
}

func TestScenario_Size(t *testing.T) {
	reg := newRegistry(t)
	src := `if size :over 1K { discard; } else { keep; }`

	small := sievenv.NewFakeEnv()
	status, _ := compileAndRun(t, reg, src, sievenv.NewFakeMessage(600, nil), small)
	require.Equal(t, interp.ExitOK, status)
	require.Equal(t, []string{""}, small.Kept)

	big := sievenv.NewFakeEnv()
	status, _ = compileAndRun(t, reg, src, sievenv.NewFakeMessage(2000, nil), big)
	require.Equal(t, interp.ExitOK, status)
	require.True(t, big.Discarded)
	require.Empty(t, big.Kept)
}

func TestScenario_HeaderContainsComparator(t *testing.T) {
	reg := newRegistry(t)
	src := `if header :contains "Subject" "sale" { fileinto "Junk"; }`
	headers := map[string][]string{"Subject": {"Weekend SALE!!"}}

	caseInsensitive := sievenv.NewFakeEnv()
	compileAndRun(t, reg, src, sievenv.NewFakeMessage(10, headers), caseInsensitive)
	require.Equal(t, []string{"Junk"}, caseInsensitive.FiledInto)
	require.Empty(t, caseInsensitive.Kept)

	src2 := `if header :comparator "i;octet" :contains "Subject" "sale" { fileinto "Junk"; }`
	octet := sievenv.NewFakeEnv()
	compileAndRun(t, reg, src2, sievenv.NewFakeMessage(10, headers), octet)
	require.Empty(t, octet.FiledInto)
	require.Equal(t, []string{""}, octet.Kept)
}

func TestScenario_AddressDomain(t *testing.T) {
	reg := newRegistry(t)
	src := `if address :domain :is "From" "example.com" { redirect "a@b"; }`
	headers := map[string][]string{"From": {"x@EXAMPLE.COM"}}
	env := sievenv.NewFakeEnv()

	compileAndRun(t, reg, src, sievenv.NewFakeMessage(10, headers), env)
	require.Equal(t, []string{"a@b"}, env.Redirects)
	require.Equal(t, []string{""}, env.Kept)
}

// countingMessage records every header name looked up through it.
type countingMessage struct {
	*sievenv.FakeMessage
	looked []string
}

func (m *countingMessage) Header(ctx context.Context, name string, decoded bool) ([]string, error) {
	m.looked = append(m.looked, name)
	return m.FakeMessage.Header(ctx, name, decoded)
}

func TestScenario_AnyOfShortCircuits(t *testing.T) {
	reg := newRegistry(t)
	src := `if anyof (header :contains "X" "a", header :contains "Y" "b") { discard; }`
	headers := map[string][]string{"X": {"a"}, "Y": {"zzz"}}
	env := sievenv.NewFakeEnv()
	msg := &countingMessage{FakeMessage: sievenv.NewFakeMessage(10, headers)}

	status, _ := compileAndRun(t, reg, src, msg, env)
	require.Equal(t, interp.ExitOK, status)
	require.True(t, env.Discarded)
	require.Equal(t, []string{"X"}, msg.looked)
}

func TestScenario_RequireMissingFailsValidation(t *testing.T) {
	reg := newRegistry(t)
	h := errs.New(10, nil)
	p := parser.New(`require ["no-such-ext"];
keep;`, "t.sieve", h)
	script := p.Parse()
	require.True(t, h.OK())

	v := validator.New(reg, h, "t.sieve")
	v.Validate(script)
	require.False(t, h.OK())
}
