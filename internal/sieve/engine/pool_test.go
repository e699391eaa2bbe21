package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sievecore/sievecore/internal/config"
	"github.com/sievecore/sievecore/internal/sieve/engine"
	"github.com/sievecore/sievecore/internal/sieve/interp"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

func TestPool_RunManyJobsConcurrently(t *testing.T) {
	e, err := engine.New(config.DefaultConfig(), nil)
	require.NoError(t, err)

	res, err := e.Compile(`keep;`, "t.sieve")
	require.NoError(t, err)

	const n = 20
	jobs := make([]engine.Job, n)
	for i := range jobs {
		jobs[i] = engine.Job{
			Binary: res.Binary,
			Msg:    sievenv.NewFakeMessage(10, nil),
			Env:    sievenv.NewFakeEnv(),
		}
	}

	pool := engine.NewPool(e)
	results, errors := pool.Run(context.Background(), jobs, 4)
	require.Len(t, results, n)
	require.Len(t, errors, n)
	for i := range results {
		require.NoError(t, errors[i])
		require.Equal(t, interp.ExitOK, results[i].Status)
	}
}
