package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sievecore/sievecore/internal/sieve/sievenv"

	bin "github.com/sievecore/sievecore/internal/sieve/binary"
)

// Job is one (binary, message, env) execution request submitted to a
// Pool (spec.md §5's "(instance, script, message) triple").
type Job struct {
	Binary *bin.Binary
	Msg    sievenv.Message
	Env    sievenv.Env
}

// Pool runs many Jobs against one Engine with bounded concurrency: each
// job is handled by exactly one worker at a time, and the registry they
// all read is already frozen, so no per-job locking is needed (spec.md
// §5 "Scheduling model... no shared mutable state lives on the hot
// path").
//
// Grounded on the teacher's use of golang.org/x/sync/errgroup for
// bounded-concurrency worker fan-out (the same primitive the teacher's
// go.mod already carries for its own concurrent-shard execution).
type Pool struct {
	eng *Engine
}

// NewPool returns a Pool submitting work against eng.
func NewPool(eng *Engine) *Pool {
	return &Pool{eng: eng}
}

// Run executes every job concurrently, capped at maxWorkers in flight
// (maxWorkers <= 0 means unbounded), and returns one ExecuteResult per
// job in submission order. A job whose Execute call returns an error
// does not cancel the others — each result's error, if any, is reported
// independently, since one message's malformed bytecode has no bearing
// on a sibling job's validity (spec.md §5 "no ordering" across
// concurrent executions).
func (p *Pool) Run(ctx context.Context, jobs []Job, maxWorkers int) ([]*ExecuteResult, []error) {
	results := make([]*ExecuteResult, len(jobs))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	if maxWorkers > 0 {
		g.SetLimit(maxWorkers)
	}

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := p.eng.Execute(gctx, job.Binary, job.Msg, job.Env)
			results[i] = res
			errs[i] = err
			return nil // errors are per-job, not fatal to the group
		})
	}
	_ = g.Wait() // g.Go never returns a non-nil error, so Wait never does either

	return results, errs
}
