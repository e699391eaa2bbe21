// Package sievenv defines the script-environment contract spec.md places
// outside the core (§1 "Explicitly out of scope... modeled as a trait"):
// message access, envelope access, and the mailbox/action backends. The
// core depends only on these interfaces; a real deployment supplies its
// own Message/Env backed by an MDA, while tests use the in-memory FakeEnv
// below.
//
// Grounded on the teacher's internal/world/parser_interface.go style: a
// small interface documented from the consumer's point of view, with one
// reference implementation living alongside it.
package sievenv

import "context"

// Message exposes the inbound message being filtered.
type Message interface {
	// PhysicalSize returns the message's size on disk/wire, in bytes.
	PhysicalSize() uint64
	// Header returns all values of the named header field. decoded
	// requests MIME-word decoding. Returns an empty slice if the header
	// is absent.
	Header(ctx context.Context, name string, decoded bool) ([]string, error)
}

// EnvelopeField enumerates the envelope fields address tests may query.
type EnvelopeField int

const (
	EnvelopeFrom EnvelopeField = iota
	EnvelopeTo
	EnvelopeOrigTo
	EnvelopeAuth
)

// Action is one side-effectful request the interpreter asks the host to
// perform; see internal/sieve/result for the accumulation/conflict layer
// that sits between the interpreter and these calls.
type Action int

const (
	ActionKeep Action = iota
	ActionFileInto
	ActionRedirect
	ActionReject
	ActionDiscard
	ActionVacation
)

// VacationParams bundles the vacation action's arguments; per spec.md §1
// vacation's own semantics are out of scope, so this is left as an opaque
// payload the extension that emitted it understands.
type VacationParams struct {
	Reason  string
	Subject string
	Days    int
	Extra   map[string]string
}

// Env is the mailbox/action backend and ancillary metadata the
// interpreter consults while executing (spec.md §3 "renv", §6
// "script-environment interface").
type Env interface {
	// Envelope returns the envelope value(s) for field.
	Envelope(ctx context.Context, field EnvelopeField) ([]string, error)

	// User returns the mailbox owner's identity (used by vacation,
	// :user address-part comparisons, etc.).
	User() string
	// PostmasterAddress returns the address to use when a bounce/reject
	// needs a From.
	PostmasterAddress() string

	// DuplicateCheck reports whether id has already been seen (used by
	// :duplicate-style tests and vacation's resend suppression); it also
	// records id as seen.
	DuplicateCheck(ctx context.Context, id string) (bool, error)

	// Keep, FileInto, Redirect, Reject, Discard, Vacation perform the
	// named action against the real mailbox/transport once the Result
	// Set has resolved conflicts and ordering (spec.md §4.8). They are
	// called at most once per committed action.
	Keep(ctx context.Context, mailbox string) error
	FileInto(ctx context.Context, mailbox string) error
	Redirect(ctx context.Context, addr string) error
	Reject(ctx context.Context, reason string) error
	Discard(ctx context.Context) error
	Vacation(ctx context.Context, params VacationParams) error
}
