package multiscript_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	bin "github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/ext/core"
	"github.com/sievecore/sievecore/internal/sieve/generator"
	"github.com/sievecore/sievecore/internal/sieve/interp"
	"github.com/sievecore/sievecore/internal/sieve/multiscript"
	"github.com/sievecore/sievecore/internal/sieve/parser"
	"github.com/sievecore/sievecore/internal/sieve/registry"
	"github.com/sievecore/sievecore/internal/sieve/result"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
	"github.com/sievecore/sievecore/internal/sieve/validator"
)

func compile(t *testing.T, reg *registry.Registry, src, name string) *bin.Binary {
	t.Helper()
	h := errs.New(10, nil)
	p := parser.New(src, name, h)
	script := p.Parse()
	require.True(t, h.OK())

	v := validator.New(reg, h, name)
	v.Validate(script)
	require.True(t, h.OK())

	g := generator.New(reg, h, name)
	b, err := g.Generate(script, bin.SourceMeta{}, 1)
	require.NoError(t, err)
	return b
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	_, err := reg.Register(core.Extension(), true)
	require.NoError(t, err)
	return reg
}

func TestChain_AllScriptsKeepCommitsOnce(t *testing.T) {
	reg := newRegistry(t)
	global := compile(t, reg, `keep;`, "global.sieve")
	personal := compile(t, reg, `keep;`, "personal.sieve")

	env := sievenv.NewFakeEnv()
	msg := sievenv.NewFakeMessage(10, nil)
	chain := multiscript.NewChain(reg)

	_, err := chain.Run(context.Background(), "global.sieve", global, msg, env, errs.New(10, nil), 0)
	require.NoError(t, err)
	_, err = chain.Run(context.Background(), "personal.sieve", personal, msg, env, errs.New(10, nil), 0)
	require.NoError(t, err)

	require.False(t, chain.WillDiscard())

	status, err := chain.Finish(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, result.StatusOK, status)
	require.Equal(t, []string{"", ""}, env.Kept)
}

func TestChain_UpstreamDiscardSuppressesDownstreamImplicitKeep(t *testing.T) {
	reg := newRegistry(t)
	global := compile(t, reg, `discard;`, "global.sieve")
	personal := compile(t, reg, `stop;`, "personal.sieve") // no actions of its own

	env := sievenv.NewFakeEnv()
	msg := sievenv.NewFakeMessage(10, nil)
	chain := multiscript.NewChain(reg)

	step1, err := chain.Run(context.Background(), "global.sieve", global, msg, env, errs.New(10, nil), 0)
	require.NoError(t, err)
	require.True(t, step1.WillDiscard)

	step2, err := chain.Run(context.Background(), "personal.sieve", personal, msg, env, errs.New(10, nil), 0)
	require.NoError(t, err)
	require.True(t, step2.WillDiscard)
	require.True(t, chain.WillDiscard())

	_, err = chain.Finish(context.Background(), env)
	require.NoError(t, err)
	require.Empty(t, env.Kept, "downstream step must not resurrect a message the upstream step discarded")
	require.True(t, env.Discarded)
}

func TestChain_RunStopsOnNonOKStatus(t *testing.T) {
	reg := newRegistry(t)
	b := &bin.Binary{Code: []byte{0xff}} // unregistered opcode -> BIN_CORRUPT
	env := sievenv.NewFakeEnv()
	chain := multiscript.NewChain(reg)

	step, err := chain.Run(context.Background(), "broken.sieve", b, sievenv.NewFakeMessage(1, nil), env, errs.New(10, nil), 0)
	require.Error(t, err)
	require.Equal(t, interp.ExitBinCorrupt, step.Status)
}
