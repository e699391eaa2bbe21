package engine_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sievecore/sievecore/internal/config"
	bin "github.com/sievecore/sievecore/internal/sieve/binary"
	"github.com/sievecore/sievecore/internal/sieve/engine"
	"github.com/sievecore/sievecore/internal/sieve/interp"
	"github.com/sievecore/sievecore/internal/sieve/result"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(config.DefaultConfig(), nil)
	require.NoError(t, err)
	return e
}

func TestEngine_CompileAndExecute_Keep(t *testing.T) {
	e := newEngine(t)
	res, err := e.Compile(`require ["fileinto"];
keep;`, "t.sieve")
	require.NoError(t, err)
	require.NotNil(t, res.Binary)

	env := sievenv.NewFakeEnv()
	msg := sievenv.NewFakeMessage(100, nil)

	out, err := e.Execute(context.Background(), res.Binary, msg, env)
	require.NoError(t, err)
	require.Equal(t, interp.ExitOK, out.Status)
	require.Equal(t, result.StatusOK, out.Commit)
	require.Equal(t, []string{""}, env.Kept)
}

func TestEngine_Compile_NotValidOnBadRequire(t *testing.T) {
	e := newEngine(t)
	_, err := e.Compile(`require ["no-such-ext"];
keep;`, "t.sieve")
	require.Error(t, err)
	var nv *engine.NotValidError
	require.ErrorAs(t, err, &nv)
}

func TestEngine_Test_DoesNotCommit(t *testing.T) {
	e := newEngine(t)
	res, err := e.Compile(`discard;`, "t.sieve")
	require.NoError(t, err)

	env := sievenv.NewFakeEnv()
	msg := sievenv.NewFakeMessage(10, nil)

	out, err := e.Test(context.Background(), res.Binary, msg, env)
	require.NoError(t, err)
	require.Equal(t, interp.ExitOK, out.Status)
	require.False(t, env.Discarded, "Test must not commit actions against env")
	require.NotEmpty(t, out.Actions)
}

func TestEngine_OpenCachesCompiledBinary(t *testing.T) {
	e := newEngine(t)
	tmp := filepath.Join(t.TempDir(), "cached.sievebin")
	meta := bin.SourceMeta{SourcePath: "t.sieve", SourceSize: int64(len("keep;"))}

	b1, err := e.Open(tmp, "keep;", "t.sieve", meta)
	require.NoError(t, err)
	require.NotNil(t, b1)

	b2, err := e.Open(tmp, "keep;", "t.sieve", meta)
	require.NoError(t, err)
	require.Equal(t, b1.CompileID, b2.CompileID, "second Open should load the cached binary, not recompile")
}

func TestEngine_Execute_RejectAndKeepConflictCommitsOnlyImplicitKeep(t *testing.T) {
	e := newEngine(t)
	res, err := e.Compile(`keep; reject "no thanks";`, "t.sieve")
	require.NoError(t, err)

	env := sievenv.NewFakeEnv()
	msg := sievenv.NewFakeMessage(10, nil)

	out, err := e.Execute(context.Background(), res.Binary, msg, env)
	require.NoError(t, err)
	require.Equal(t, interp.ExitFailure, out.Status, "reject+keep in the same result must downgrade to FAILURE")
	require.Equal(t, result.StatusOK, out.Commit)
	require.Equal(t, []string{""}, env.Kept, "only the implicit keep should commit, not the conflicting actions")
	require.Empty(t, env.Rejects)
}

func TestExitCode_Taxonomy(t *testing.T) {
	require.Equal(t, 1, engine.ExitCode(interp.ExitOK, result.StatusOK))
	require.Equal(t, -3, engine.ExitCode(interp.ExitOK, result.StatusKeepFailed))
	require.Equal(t, 0, engine.ExitCode(interp.ExitFailure, result.StatusOK))
	require.Equal(t, -1, engine.ExitCode(interp.ExitTempFailure, result.StatusOK))
	require.Equal(t, -2, engine.ExitCode(interp.ExitBinCorrupt, result.StatusOK))
}
