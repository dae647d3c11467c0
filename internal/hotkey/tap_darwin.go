//go:build darwin

package hotkey

import (
	"context"
	"errors"
)

// darwinTap is the integration point for a CGEventTap-backed global keyboard
// observer. Wiring one up needs cgo against ApplicationServices plus the
// accessibility permission prompt; until that glue lands, Start reports the
// tap as unavailable so the app falls back to its window controls instead of
// silently dropping hotkeys.
type darwinTap struct{}

// NewPlatformTap returns the tap for this platform.
func NewPlatformTap() Tap {
	return darwinTap{}
}

func (darwinTap) Start(_ context.Context) (<-chan RawEvent, error) {
	return nil, errors.New("global keyboard tap is not wired for this platform")
}

func (darwinTap) Stop() error { return nil }
