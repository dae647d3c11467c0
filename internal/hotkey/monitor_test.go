package hotkey

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/joeyzenghuan/OpenTypeless/internal/logging"
)

type recording struct {
	mu     sync.Mutex
	events []Event
}

func (r *recording) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recording) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestMonitor(bindings Bindings) (*Monitor, *recording) {
	rec := &recording{}
	return NewMonitor(NewStubTap(), bindings, rec.handle, logging.Nop()), rec
}

func voiceBindings() Bindings {
	return Bindings{
		HoldToTalk: ModifierOnly(ModControl | ModOption),
		Toggle:     WithKey(ModCommand|ModShift, keyCodes["v"]),
		Translate:  WithKey(ModControl|ModOption, keyCodes["t"]),
	}
}

func TestHoldToTalkEdgePair(t *testing.T) {
	t.Parallel()

	m, rec := newTestMonitor(voiceBindings())

	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected down then up, got %v", got)
	}
	if got[0].Edge != EdgeDown || got[1].Edge != EdgeUp {
		t.Fatalf("wrong edges: %v", got)
	}
	if got[0].Action != ActionHoldToTalk {
		t.Fatalf("wrong action: %v", got[0])
	}
}

func TestHoldToTalkDuplicateStateIsIdempotent(t *testing.T) {
	t.Parallel()

	m, rec := newTestMonitor(voiceBindings())

	// the same matched state reported twice fires a single down edge
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("duplicate raw events must not double-fire: %v", got)
	}
}

func TestHoldToTalkSupersetDoesNotMatch(t *testing.T) {
	t.Parallel()

	m, rec := newTestMonitor(voiceBindings())

	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption | ModShift})
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("superset modifier state must not fire: %v", got)
	}
}

func TestKeyBasedHoldReleasesOnModifierDrop(t *testing.T) {
	t.Parallel()

	bindings := voiceBindings()
	bindings.HoldToTalk = WithKey(ModControl, keyCodes["space"])
	m, rec := newTestMonitor(bindings)

	m.HandleRaw(RawEvent{Kind: RawKeyDown, Code: keyCodes["space"], Mods: ModControl})
	// ctrl released while space is still physically down
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})

	got := rec.snapshot()
	if len(got) != 2 || got[0].Edge != EdgeDown || got[1].Edge != EdgeUp {
		t.Fatalf("modifier release mid-hold must end the hold: %v", got)
	}
}

func TestToggleFlipsOnEachTrigger(t *testing.T) {
	t.Parallel()

	m, rec := newTestMonitor(voiceBindings())

	down := RawEvent{Kind: RawKeyDown, Code: keyCodes["v"], Mods: ModCommand | ModShift}
	m.HandleRaw(down)
	m.HandleRaw(RawEvent{Kind: RawKeyUp, Code: keyCodes["v"], Mods: ModCommand | ModShift})
	m.HandleRaw(down)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected two triggers, got %v", got)
	}
	if !got[0].ToggleOn || got[1].ToggleOn {
		t.Fatalf("toggle state must alternate: %v", got)
	}
}

func TestToggleIgnoresKeyRepeat(t *testing.T) {
	t.Parallel()

	m, rec := newTestMonitor(voiceBindings())

	m.HandleRaw(RawEvent{Kind: RawKeyDown, Code: keyCodes["v"], Mods: ModCommand | ModShift})
	m.HandleRaw(RawEvent{Kind: RawKeyDown, Code: keyCodes["v"], Mods: ModCommand | ModShift, Repeat: true})
	m.HandleRaw(RawEvent{Kind: RawKeyDown, Code: keyCodes["v"], Mods: ModCommand | ModShift, Repeat: true})

	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("key repeat must not re-trigger: %v", got)
	}
}

func TestOverlappingCombinationConsumedByHold(t *testing.T) {
	t.Parallel()

	// hold-to-talk and toggle share one combination; hold-to-talk outranks
	// toggle and consumes the event, so a press drives only the hold and a
	// release never flips the toggle behind its back
	bindings := Bindings{
		HoldToTalk: ModifierOnly(ModControl | ModOption),
		Toggle:     ModifierOnly(ModControl | ModOption),
		Translate:  WithKey(ModControl|ModOption, keyCodes["t"]),
	}
	m, rec := newTestMonitor(bindings)

	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})

	got := rec.snapshot()
	if len(got) != 4 {
		t.Fatalf("expected two hold pairs and nothing else, got %v", got)
	}
	for i, ev := range got {
		if ev.Action != ActionHoldToTalk {
			t.Fatalf("event %d leaked past the hold: %v", i, got)
		}
	}
	if got[0].Edge != EdgeDown || got[1].Edge != EdgeUp || got[2].Edge != EdgeDown || got[3].Edge != EdgeUp {
		t.Fatalf("wrong edge sequence: %v", got)
	}
}

func TestDefaultBindingsAreDisjoint(t *testing.T) {
	t.Parallel()

	b := DefaultBindings()
	m, rec := newTestMonitor(b)

	// a full hold gesture with the default hold combination
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: b.HoldToTalk.Mods})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})
	// a tap of the default toggle combination
	m.HandleRaw(RawEvent{Kind: RawKeyDown, Code: b.Toggle.Key, Mods: b.Toggle.Mods})
	m.HandleRaw(RawEvent{Kind: RawKeyUp, Code: b.Toggle.Key, Mods: b.Toggle.Mods})

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected down, up, toggle trigger, got %v", got)
	}
	if got[0].Action != ActionHoldToTalk || got[1].Action != ActionHoldToTalk {
		t.Fatalf("hold gesture must only drive hold-to-talk: %v", got)
	}
	if got[2].Action != ActionToggle || !got[2].ToggleOn {
		t.Fatalf("toggle tap must drive only the toggle: %v", got)
	}
}

func TestReloadMidHoldDiscardsEdgeState(t *testing.T) {
	t.Parallel()

	m, rec := newTestMonitor(voiceBindings())

	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	if got := rec.snapshot(); len(got) != 1 || got[0].Edge != EdgeDown {
		t.Fatalf("expected down edge before reload: %v", got)
	}

	m.Reload(voiceBindings())

	// the release that belonged to the pre-reload hold must not produce
	// a stale up edge
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("stale edge fired after reload: %v", got)
	}

	// a fresh press against the new definitions works normally
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption})
	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: 0})
	got := rec.snapshot()
	if len(got) != 3 || got[1].Edge != EdgeDown || got[2].Edge != EdgeUp {
		t.Fatalf("fresh press after reload broken: %v", got)
	}
}

func TestReloadResetsToggleState(t *testing.T) {
	t.Parallel()

	bindings := voiceBindings()
	bindings.Toggle = ModifierOnly(ModCommand | ModShift)
	m, rec := newTestMonitor(bindings)

	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModCommand | ModShift})
	if got := rec.snapshot(); len(got) != 1 || !got[0].ToggleOn {
		t.Fatalf("expected toggle on: %v", got)
	}

	m.Reload(bindings)

	m.HandleRaw(RawEvent{Kind: RawModifiersChanged, Mods: ModCommand | ModShift})
	got := rec.snapshot()
	if len(got) != 2 || !got[1].ToggleOn {
		t.Fatalf("reload should reset toggle to off, so next trigger is on: %v", got)
	}
}

type fakeTap struct {
	mu      sync.Mutex
	events  chan RawEvent
	starts  int
	stops   int
	failErr error
}

func newFakeTap() *fakeTap {
	return &fakeTap{events: make(chan RawEvent, 8)}
}

func (t *fakeTap) Start(_ context.Context) (<-chan RawEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return nil, t.failErr
	}
	t.starts++
	return t.events, nil
}

func (t *fakeTap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTap) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts, t.stops
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	t.Parallel()

	tap := newFakeTap()
	rec := &recording{}
	m := NewMonitor(tap, voiceBindings(), rec.handle, logging.Nop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if starts, _ := tap.counts(); starts != 1 {
		t.Fatalf("second start must not re-acquire the tap, starts=%d", starts)
	}

	m.Stop()
	m.Stop()
	if _, stops := tap.counts(); stops != 1 {
		t.Fatalf("second stop must be a no-op, stops=%d", stops)
	}

	// restartable after stop
	if err := m.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	m.Stop()
}

func TestMonitorDeliversTapEvents(t *testing.T) {
	t.Parallel()

	tap := newFakeTap()
	rec := &recording{}
	m := NewMonitor(tap, voiceBindings(), rec.handle, logging.Nop())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer m.Stop()

	tap.events <- RawEvent{Kind: RawModifiersChanged, Mods: ModControl | ModOption}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(rec.snapshot()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	got := rec.snapshot()
	if len(got) != 1 || got[0].Edge != EdgeDown {
		t.Fatalf("tap event not delivered: %v", got)
	}
}

func TestPlatformTap(t *testing.T) {
	t.Parallel()

	tap := NewPlatformTap()
	events, err := tap.Start(context.Background())
	if runtime.GOOS == "darwin" {
		// no event-tap glue is wired yet, so the tap must refuse to start
		// instead of silently delivering nothing
		if err == nil {
			t.Fatalf("unwired platform tap must fail Start")
		}
		return
	}
	if err != nil {
		t.Fatalf("stub tap start failed: %v", err)
	}
	if events == nil {
		t.Fatalf("stub tap must return an event channel")
	}
	if err := tap.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestMonitorStartFailurePropagates(t *testing.T) {
	t.Parallel()

	tap := newFakeTap()
	tap.failErr = errors.New("accessibility permission missing")
	m := NewMonitor(tap, voiceBindings(), func(Event) {}, logging.Nop())

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("tap failure must propagate")
	}
}
