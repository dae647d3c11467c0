// Package hotkey turns low-level keyboard observations into edge-triggered
// application events for the three configurable voice actions.
package hotkey

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Action identifies a configurable hotkey behavior.
type Action string

const (
	ActionHoldToTalk Action = "hold_to_talk"
	ActionToggle     Action = "toggle"
	ActionTranslate  Action = "translate"
)

// Edge is the discrete event kind a binding produces.
type Edge string

const (
	EdgeDown    Edge = "down"
	EdgeUp      Edge = "up"
	EdgeTrigger Edge = "trigger"
)

// Event is a discrete, edge-triggered application event.
type Event struct {
	Action   Action
	Edge     Edge
	ToggleOn bool
}

// RawKind classifies low-level keyboard observations.
type RawKind int

const (
	RawModifiersChanged RawKind = iota
	RawKeyDown
	RawKeyUp
)

// RawEvent is a normalized low-level keyboard observation delivered by a
// platform tap. The monitor never inspects platform event objects directly.
type RawEvent struct {
	Kind   RawKind
	Code   int
	Mods   Modifiers
	Repeat bool
}

// Tap is the platform capability that observes global keyboard state.
// Implementations are per-platform and selected by NewPlatformTap; tests
// supply fakes. A tap that cannot observe the keyboard should fail Start
// rather than succeed silently, so the app can tell the user hotkeys are
// unavailable.
type Tap interface {
	Start(ctx context.Context) (<-chan RawEvent, error)
	Stop() error
}

// Bindings holds the three configured combinations.
type Bindings struct {
	HoldToTalk KeyCombination
	Toggle     KeyCombination
	Translate  KeyCombination
}

// DefaultBindings returns the shipped defaults.
func DefaultBindings() Bindings {
	return Bindings{
		HoldToTalk: DefaultCombination(ActionHoldToTalk),
		Toggle:     DefaultCombination(ActionToggle),
		Translate:  DefaultCombination(ActionTranslate),
	}
}

// Handler receives monitor events. Called from the tap goroutine, in raw
// event arrival order.
type Handler func(Event)

// Monitor evaluates each configured action against the same raw event
// stream. Overlapping combinations are allowed, but each raw event fires at
// most one action: hold-to-talk outranks toggle, which outranks translate,
// and the winner consumes the event. Edge-tracking state still advances for
// the suppressed actions so a later non-overlapping event cannot misfire.
type Monitor struct {
	tap     Tap
	handler Handler
	log     zerolog.Logger

	mu       sync.Mutex
	bindings Bindings
	running  bool
	stopLoop context.CancelFunc
	loopDone chan struct{}

	// edge-tracking state, discarded on Reload
	holdActive    bool
	togglePrev    bool
	toggleOn      bool
	translatePrev bool
}

// NewMonitor builds a monitor for the given tap and bindings.
func NewMonitor(tap Tap, bindings Bindings, handler Handler, log zerolog.Logger) *Monitor {
	return &Monitor{
		tap:      tap,
		handler:  handler,
		log:      log.With().Str("component", "hotkey").Logger(),
		bindings: bindings,
	}
}

// Start begins consuming tap events. Idempotent; a second Start while
// running is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	events, err := m.tap.Start(loopCtx)
	if err != nil {
		cancel()
		m.mu.Unlock()
		return err
	}
	m.running = true
	m.stopLoop = cancel
	m.loopDone = make(chan struct{})
	done := m.loopDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case raw, ok := <-events:
				if !ok {
					return
				}
				m.HandleRaw(raw)
			case <-loopCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop releases the tap and halts event delivery. Idempotent; monitoring can
// be restarted with Start afterwards, which matters for the interactive
// shortcut-recording flow that pauses global monitoring.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.stopLoop
	done := m.loopDone
	m.stopLoop = nil
	m.loopDone = nil
	m.mu.Unlock()

	cancel()
	if err := m.tap.Stop(); err != nil {
		m.log.Warn().Err(err).Msg("tap stop failed")
	}
	if done != nil {
		<-done
	}
}

// Reload swaps the active combination definitions. Safe to call at any time,
// including mid-hold: edge-tracking state for the old combinations is
// discarded, never migrated, so no stale down/up pair can fire against the
// new definitions.
func (m *Monitor) Reload(bindings Bindings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = bindings
	m.holdActive = false
	m.togglePrev = false
	m.toggleOn = false
	m.translatePrev = false
}

// Bindings returns the currently active combinations.
func (m *Monitor) Bindings() Bindings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindings
}

// HandleRaw evaluates one raw observation against all three actions and
// delivers at most one event: the highest-priority action that fired. It is
// exported so platform glue can push events directly.
func (m *Monitor) HandleRaw(raw RawEvent) {
	m.mu.Lock()
	// All three evaluators run on every event so their edge tracking stays
	// current; only the winner's event is delivered.
	holdEv, holdFired := m.evalHold(raw)
	toggleFired := m.bindings.Toggle.IsValid() && fireOnEdge(m.bindings.Toggle, raw, &m.togglePrev)
	translateFired := m.bindings.Translate.IsValid() && fireOnEdge(m.bindings.Translate, raw, &m.translatePrev)

	var ev Event
	var fired bool
	switch {
	case holdFired:
		ev, fired = holdEv, true
	case toggleFired:
		m.toggleOn = !m.toggleOn
		ev, fired = Event{Action: ActionToggle, Edge: EdgeTrigger, ToggleOn: m.toggleOn}, true
	case translateFired:
		ev, fired = Event{Action: ActionTranslate, Edge: EdgeTrigger}, true
	}
	handler := m.handler
	m.mu.Unlock()

	if fired && handler != nil {
		handler(ev)
	}
}

// evalHold implements the hold-to-talk edge pair: down on the not-matched to
// matched transition, up on the reverse. Idempotent under duplicate raw
// events because the transition is tracked, not the raw state.
func (m *Monitor) evalHold(raw RawEvent) (Event, bool) {
	combo := m.bindings.HoldToTalk
	if !combo.IsValid() {
		return Event{}, false
	}

	matched := m.holdActive
	switch {
	case !combo.HasKey() && raw.Kind == RawModifiersChanged:
		matched = combo.MatchesModifiersOnly(raw.Mods)
	case combo.HasKey() && raw.Kind == RawKeyDown:
		if combo.Matches(KeyEvent{Code: raw.Code, Mods: raw.Mods}) {
			matched = true
		}
	case combo.HasKey() && raw.Kind == RawKeyUp && raw.Code == combo.Key:
		matched = false
	case combo.HasKey() && raw.Kind == RawModifiersChanged && raw.Mods != combo.Mods:
		// a required modifier was released mid-hold
		matched = false
	}

	if matched && !m.holdActive {
		m.holdActive = true
		return Event{Action: ActionHoldToTalk, Edge: EdgeDown}, true
	}
	if !matched && m.holdActive {
		m.holdActive = false
		return Event{Action: ActionHoldToTalk, Edge: EdgeUp}, true
	}
	return Event{}, false
}

// fireOnEdge reports whether a combination's trigger edge occurred: once per
// not-matched to matched transition for modifier-only combinations, once per
// non-repeated key-down for key-based ones.
func fireOnEdge(combo KeyCombination, raw RawEvent, prev *bool) bool {
	if combo.HasKey() {
		switch raw.Kind {
		case RawKeyDown:
			if raw.Repeat {
				return false
			}
			return combo.Matches(KeyEvent{Code: raw.Code, Mods: raw.Mods})
		default:
			return false
		}
	}

	if raw.Kind != RawModifiersChanged {
		return false
	}
	matched := combo.MatchesModifiersOnly(raw.Mods)
	fired := matched && !*prev
	*prev = matched
	return fired
}
