package result

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

func TestSet_ImplicitKeep(t *testing.T) {
	s := New()
	env := sievenv.NewFakeEnv()

	status, err := s.Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, []string{""}, env.Kept)
}

func TestSet_DiscardSuppressesImplicitKeep(t *testing.T) {
	s := New()
	s.Discard(errs.Location{}, "core")
	env := sievenv.NewFakeEnv()

	_, err := s.Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Empty(t, env.Kept)
	assert.True(t, env.Discarded)
}

func TestSet_KeepCancelsDiscard(t *testing.T) {
	s := New()
	s.Discard(errs.Location{}, "core")
	s.Keep(errs.Location{}, "", "core")
	env := sievenv.NewFakeEnv()

	_, err := s.Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, env.Kept)
	assert.False(t, env.Discarded)
}

func TestSet_DuplicateFileIntoCollapses(t *testing.T) {
	s := New()
	s.FileInto(errs.Location{}, "Junk", "fileinto")
	s.FileInto(errs.Location{}, "Junk", "fileinto")
	env := sievenv.NewFakeEnv()

	_, err := s.Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, []string{"Junk"}, env.FiledInto)
}

func TestSet_CommitOrder(t *testing.T) {
	s := New()
	s.Keep(errs.Location{}, "", "core")
	s.Redirect(errs.Location{}, "a@b", "core")
	env := sievenv.NewFakeEnv()

	_, err := s.Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b"}, env.Redirects)
	assert.Equal(t, []string{""}, env.Kept)
}

func TestSet_RejectAndKeepFlagged(t *testing.T) {
	s := New()
	s.Reject(errs.Location{}, "spam", "reject")
	s.Keep(errs.Location{}, "", "core")
	assert.True(t, s.HasRejectAndKeep())
}

func TestSet_WillDiscard(t *testing.T) {
	s := New()
	assert.False(t, s.WillDiscard())
	s.Discard(errs.Location{}, "core")
	assert.True(t, s.WillDiscard())

	next := New()
	next.AdoptUpstream(s)
	assert.True(t, next.WillDiscard())
}

func TestSet_AdoptedDiscardSuppressesImplicitKeep(t *testing.T) {
	upstream := New()
	upstream.Discard(errs.Location{}, "core")

	downstream := New() // ran with no actions of its own
	downstream.AdoptUpstream(upstream)
	env := sievenv.NewFakeEnv()

	status, err := downstream.Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Empty(t, env.Kept, "a downstream multiscript step must not resurrect a message an upstream step discarded")
}
