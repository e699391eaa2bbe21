package sievenv

import (
	"context"
	"strings"
	"sync"
)

// FakeMessage is an in-memory Message used by tests and by `sievecore
// test`'s fixture loader.
type FakeMessage struct {
	Size    uint64
	Headers map[string][]string // canonical lowercase header name -> values
}

// NewFakeMessage builds a FakeMessage from a header-name-to-values map
// (names are lowercased) and an explicit size.
func NewFakeMessage(size uint64, headers map[string][]string) *FakeMessage {
	norm := make(map[string][]string, len(headers))
	for k, v := range headers {
		norm[strings.ToLower(k)] = v
	}
	return &FakeMessage{Size: size, Headers: norm}
}

func (m *FakeMessage) PhysicalSize() uint64 { return m.Size }

func (m *FakeMessage) Header(_ context.Context, name string, _ bool) ([]string, error) {
	return m.Headers[strings.ToLower(name)], nil
}

// FakeEnv is an in-memory Env recording which actions were invoked, for
// use in engine/interpreter tests and the `sievecore test` dry run.
type FakeEnv struct {
	mu sync.Mutex

	EnvelopeValues map[EnvelopeField][]string
	UserName       string
	Postmaster     string

	seen map[string]bool

	Kept      []string
	FiledInto []string
	Redirects []string
	Rejects   []string
	Discarded bool
	Vacations []VacationParams
}

// NewFakeEnv returns a FakeEnv ready for use.
func NewFakeEnv() *FakeEnv {
	return &FakeEnv{
		EnvelopeValues: make(map[EnvelopeField][]string),
		seen:           make(map[string]bool),
	}
}

func (e *FakeEnv) Envelope(_ context.Context, field EnvelopeField) ([]string, error) {
	return e.EnvelopeValues[field], nil
}

func (e *FakeEnv) User() string              { return e.UserName }
func (e *FakeEnv) PostmasterAddress() string { return e.Postmaster }

func (e *FakeEnv) DuplicateCheck(_ context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dup := e.seen[id]
	e.seen[id] = true
	return dup, nil
}

func (e *FakeEnv) Keep(_ context.Context, mailbox string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Kept = append(e.Kept, mailbox)
	return nil
}

func (e *FakeEnv) FileInto(_ context.Context, mailbox string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.FiledInto = append(e.FiledInto, mailbox)
	return nil
}

func (e *FakeEnv) Redirect(_ context.Context, addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Redirects = append(e.Redirects, addr)
	return nil
}

func (e *FakeEnv) Reject(_ context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Rejects = append(e.Rejects, reason)
	return nil
}

func (e *FakeEnv) Discard(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Discarded = true
	return nil
}

func (e *FakeEnv) Vacation(_ context.Context, params VacationParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vacations = append(e.Vacations, params)
	return nil
}
