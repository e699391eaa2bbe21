// Package result implements the Result Set (spec.md C9): the ordered,
// conflict-resolved multiset of pending mail actions an interpretation
// run accumulates, and the commit step that turns them into calls against
// a sievenv.Env.
package result

import (
	"context"
	"fmt"

	"github.com/sievecore/sievecore/internal/sieve/errs"
	"github.com/sievecore/sievecore/internal/sieve/sievenv"
)

// Status is the outcome of Execute, mirroring spec.md §6's exit-status
// taxonomy for the commit phase specifically (the interpreter maps its own
// outcomes separately; Status here is about commit, not evaluation).
type Status int

const (
	StatusOK Status = iota
	StatusKeepFailed
)

// PendingAction is one recorded action awaiting commit.
type PendingAction struct {
	Kind      sievenv.Action
	Mailbox   string // fileinto/keep target; "" means the default mailbox
	Address   string // redirect target
	Reason    string // reject reason
	Vacation  sievenv.VacationParams
	Location  errs.Location
	ExtOwner  string
}

// Set accumulates actions during interpretation. It is not safe for
// concurrent use; one Set belongs to exactly one execute() call (spec.md
// §3 "Lifecycles").
type Set struct {
	actions []PendingAction

	hasKeep     bool
	hasDiscard  bool
	fileIntoSet map[string]bool
	hasReject   bool

	// upstreamWillDiscard records whether an earlier script in a
	// multiscript chain has already requested discard, so a downstream
	// script can observe upstream keep-equivalence (spec.md §4.8).
	upstreamWillDiscard bool
}

// New returns an empty Set.
func New() *Set {
	return &Set{fileIntoSet: make(map[string]bool)}
}

// AdoptUpstream seeds a Set that continues a multiscript chain: it carries
// forward whether an earlier script's pending state already amounts to a
// discard, without carrying forward the earlier script's own actions
// (each script's actions still commit independently per spec.md §4.8,
// "committing only at the end").
func (s *Set) AdoptUpstream(prev *Set) {
	s.upstreamWillDiscard = prev.WillDiscard()
}

// WillDiscard reports whether, given everything recorded so far, the
// message would end up discarded (no keep/fileinto, and a discard was
// requested, or an upstream script already committed to discard).
func (s *Set) WillDiscard() bool {
	if s.hasKeep || len(s.fileIntoSet) > 0 {
		return false
	}
	return s.hasDiscard || s.upstreamWillDiscard
}

// Keep records a keep action. mailbox is "" for the default mailbox.
func (s *Set) Keep(loc errs.Location, mailbox, ext string) {
	s.hasKeep = true
	s.hasDiscard = false // any keep cancels a pending discard (spec.md §4.8)
	s.actions = append(s.actions, PendingAction{Kind: sievenv.ActionKeep, Mailbox: mailbox, Location: loc, ExtOwner: ext})
}

// FileInto records a fileinto action; repeated fileinto to the same
// mailbox collapse to one pending action (spec.md §4.8 conflict rules).
func (s *Set) FileInto(loc errs.Location, mailbox, ext string) {
	s.hasDiscard = false
	if s.fileIntoSet[mailbox] {
		return
	}
	s.fileIntoSet[mailbox] = true
	s.actions = append(s.actions, PendingAction{Kind: sievenv.ActionFileInto, Mailbox: mailbox, Location: loc, ExtOwner: ext})
}

// Redirect records a redirect action.
func (s *Set) Redirect(loc errs.Location, addr, ext string) {
	s.actions = append(s.actions, PendingAction{Kind: sievenv.ActionRedirect, Address: addr, Location: loc, ExtOwner: ext})
}

// Reject records a reject action.
func (s *Set) Reject(loc errs.Location, reason, ext string) {
	s.hasReject = true
	s.actions = append(s.actions, PendingAction{Kind: sievenv.ActionReject, Reason: reason, Location: loc, ExtOwner: ext})
}

// Discard records a discard action; it is cancelled by any keep/fileinto
// recorded before commit (spec.md §4.8).
func (s *Set) Discard(loc errs.Location, ext string) {
	if s.hasKeep || len(s.fileIntoSet) > 0 {
		return
	}
	s.hasDiscard = true
	s.actions = append(s.actions, PendingAction{Kind: sievenv.ActionDiscard, Location: loc, ExtOwner: ext})
}

// Vacation records a vacation action.
func (s *Set) Vacation(loc errs.Location, params sievenv.VacationParams, ext string) {
	s.actions = append(s.actions, PendingAction{Kind: sievenv.ActionVacation, Vacation: params, Location: loc, ExtOwner: ext})
}

// HasRejectAndKeep reports the spec.md §4.8 conflict "reject and keep in
// the same result is an error (per-extension policy may override)".
// engine.run checks this before commit, downgrading the exit status to
// FAILURE and committing only an implicit keep instead of the conflicting
// actions (spec.md §7 "a runtime error sets the exit status to FAILURE,
// triggering implicit keep").
func (s *Set) HasRejectAndKeep() bool {
	return s.hasReject && s.hasKeep
}

// kindOrder fixes the three commit phases of spec.md §4.8: redirect-like
// actions, then storage actions, then discard.
func kindOrder(k sievenv.Action) int {
	switch k {
	case sievenv.ActionRedirect, sievenv.ActionReject, sievenv.ActionVacation:
		return 0
	case sievenv.ActionFileInto, sievenv.ActionKeep:
		return 1
	case sievenv.ActionDiscard:
		return 2
	default:
		return 3
	}
}

// Execute commits the pending actions in spec.md §4.8 order, attempting an
// implicit keep if no keep or fileinto succeeded (a redirect alone does not
// cancel it) and no discard
// was requested — by this script or (per AdoptUpstream) an earlier one in
// the same multiscript chain, since a chain that already committed to
// discard should not have a later, otherwise-empty step silently
// resurrect the message with its own implicit keep. If any action fails
// during commit, remaining storage actions still attempt to run; total
// failure downgrades Status to StatusKeepFailed.
func (s *Set) Execute(ctx context.Context, env sievenv.Env) (Status, error) {
	ordered := make([]PendingAction, len(s.actions))
	copy(ordered, s.actions)
	stableSortByPhase(ordered)

	deliveryProduced := false
	var firstErr error
	var failures int

	run := func(a PendingAction) {
		var err error
		switch a.Kind {
		case sievenv.ActionKeep:
			err = env.Keep(ctx, a.Mailbox)
			if err == nil {
				deliveryProduced = true
			}
		case sievenv.ActionFileInto:
			err = env.FileInto(ctx, a.Mailbox)
			if err == nil {
				deliveryProduced = true
			}
		case sievenv.ActionRedirect:
			err = env.Redirect(ctx, a.Address)
		case sievenv.ActionReject:
			err = env.Reject(ctx, a.Reason)
		case sievenv.ActionVacation:
			err = env.Vacation(ctx, a.Vacation)
		case sievenv.ActionDiscard:
			if !deliveryProduced {
				err = env.Discard(ctx)
			}
		}
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = fmt.Errorf("result: commit %v at %s: %w", a.Kind, a.Location, err)
			}
		}
	}

	for _, a := range ordered {
		if a.Kind == sievenv.ActionDiscard {
			continue // discard is evaluated last, after we know whether delivery happened
		}
		run(a)
	}
	for _, a := range ordered {
		if a.Kind == sievenv.ActionDiscard {
			run(a)
		}
	}

	if !deliveryProduced && !s.hasDiscard && !s.upstreamWillDiscard {
		if err := env.Keep(ctx, ""); err != nil {
			failures++
			if firstErr == nil {
				firstErr = fmt.Errorf("result: implicit keep: %w", err)
			}
		} else {
			deliveryProduced = true
		}
	}

	if !deliveryProduced && failures > 0 {
		return StatusKeepFailed, firstErr
	}
	return StatusOK, firstErr
}

// stableSortByPhase performs a stable insertion sort by commit phase; the
// action counts per run are small (single-digit), so this avoids pulling
// in sort.SliceStable for a handful of elements while keeping within-phase
// order (spec.md "commit order ... deterministic").
func stableSortByPhase(a []PendingAction) {
	for i := 1; i < len(a); i++ {
		j := i
		for j > 0 && kindOrder(a[j-1].Kind) > kindOrder(a[j].Kind) {
			a[j-1], a[j] = a[j], a[j-1]
			j--
		}
	}
}

// Actions returns the recorded pending actions in recording order, for
// `sievecore test`'s dry-run report.
func (s *Set) Actions() []PendingAction {
	out := make([]PendingAction, len(s.actions))
	copy(out, s.actions)
	return out
}
