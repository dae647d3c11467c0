//go:build !darwin

package hotkey

// NewPlatformTap returns the tap for this platform. Platforms without
// global-keyboard glue get the inert stub; the monitor still works through
// HandleRaw for callers that push events directly.
func NewPlatformTap() Tap {
	return NewStubTap()
}
