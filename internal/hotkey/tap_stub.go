package hotkey

import "context"

// StubTap is a tap for platforms without global-keyboard glue and for tests.
// It delivers nothing and releases nothing.
type StubTap struct {
	events chan RawEvent
}

// NewStubTap creates an inert tap.
func NewStubTap() *StubTap {
	return &StubTap{events: make(chan RawEvent)}
}

func (t *StubTap) Start(_ context.Context) (<-chan RawEvent, error) {
	return t.events, nil
}

func (t *StubTap) Stop() error { return nil }
