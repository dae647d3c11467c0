package hotkey

import (
	"fmt"
	"strconv"
	"strings"
)

// Modifiers is a set of modifier-key flags.
type Modifiers uint8

const (
	ModCommand Modifiers = 1 << iota
	ModOption
	ModControl
	ModShift
	ModFunction
)

// Has reports whether all flags in other are set.
func (m Modifiers) Has(other Modifiers) bool { return m&other == other }

// KeyNone marks a combination with no regular key.
const KeyNone = -1

// KeyCombination is a modifier set plus an optional regular-key code.
// Immutable once built; compared on every input event.
type KeyCombination struct {
	Mods Modifiers
	Key  int
}

// ModifierOnly builds a combination with no regular key.
func ModifierOnly(mods Modifiers) KeyCombination {
	return KeyCombination{Mods: mods, Key: KeyNone}
}

// WithKey builds a key-based combination.
func WithKey(mods Modifiers, key int) KeyCombination {
	return KeyCombination{Mods: mods, Key: key}
}

// IsValid reports whether the combination can ever fire. An all-empty
// combination is invalid.
func (c KeyCombination) IsValid() bool {
	return c.Mods != 0 || c.HasKey()
}

// HasKey reports whether a regular-key code is set.
func (c KeyCombination) HasKey() bool { return c.Key >= 0 }

// Equal reports exact equality of modifier set and key code.
func (c KeyCombination) Equal(other KeyCombination) bool {
	return c.Mods == other.Mods && c.normalKey() == other.normalKey()
}

func (c KeyCombination) normalKey() int {
	if c.Key < 0 {
		return KeyNone
	}
	return c.Key
}

// KeyEvent is a normalized key-down or key-up observation.
type KeyEvent struct {
	Code int
	Mods Modifiers
}

// Matches reports whether a key event satisfies a key-based combination.
// The event's modifier set must equal the stored set exactly; an extra held
// modifier does not match.
func (c KeyCombination) Matches(event KeyEvent) bool {
	if !c.HasKey() {
		return false
	}
	return event.Code == c.Key && event.Mods == c.Mods
}

// MatchesModifiersOnly reports whether the live modifier set exactly equals
// the stored set. Only meaningful for combinations without a key code.
func (c KeyCombination) MatchesModifiersOnly(mods Modifiers) bool {
	if c.HasKey() || c.Mods == 0 {
		return false
	}
	return mods == c.Mods
}

var modifierNames = []struct {
	flag Modifiers
	name string
}{
	{ModCommand, "cmd"},
	{ModOption, "opt"},
	{ModControl, "ctrl"},
	{ModShift, "shift"},
	{ModFunction, "fn"},
}

var modifierTokens = map[string]Modifiers{
	"cmd": ModCommand, "command": ModCommand, "meta": ModCommand, "super": ModCommand,
	"opt": ModOption, "option": ModOption, "alt": ModOption,
	"ctrl": ModControl, "control": ModControl,
	"shift": ModShift,
	"fn":    ModFunction, "function": ModFunction,
}

// keyNames maps macOS virtual key codes to stable spelling for serialization.
var keyNames = map[int]string{
	0: "a", 1: "s", 2: "d", 3: "f", 4: "h", 5: "g", 6: "z", 7: "x",
	8: "c", 9: "v", 11: "b", 12: "q", 13: "w", 14: "e", 15: "r",
	16: "y", 17: "t", 31: "o", 32: "u", 34: "i", 35: "p", 37: "l",
	38: "j", 40: "k", 45: "n", 46: "m",
	18: "1", 19: "2", 20: "3", 21: "4", 23: "5", 22: "6", 26: "7",
	28: "8", 25: "9", 29: "0",
	36: "return", 48: "tab", 49: "space", 51: "delete", 53: "escape",
	122: "f1", 120: "f2", 99: "f3", 118: "f4", 96: "f5", 97: "f6",
	98: "f7", 100: "f8", 101: "f9", 109: "f10", 103: "f11", 111: "f12",
}

var keyCodes = func() map[string]int {
	out := make(map[string]int, len(keyNames))
	for code, name := range keyNames {
		out[name] = code
	}
	return out
}()

// String encodes the combination in canonical form, e.g. "ctrl+opt" or
// "cmd+shift+space". Unknown key codes encode as "#<code>".
func (c KeyCombination) String() string {
	var parts []string
	for _, m := range modifierNames {
		if c.Mods.Has(m.flag) {
			parts = append(parts, m.name)
		}
	}
	if c.HasKey() {
		if name, ok := keyNames[c.Key]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, "#"+strconv.Itoa(c.Key))
		}
	}
	return strings.Join(parts, "+")
}

// MarshalText implements encoding.TextMarshaler.
func (c KeyCombination) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *KeyCombination) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse maps a freeform combination string ("ctrl+alt", "Cmd + Shift + T",
// "#49") to a combination. It returns an error for strings that cannot map
// to a valid combination; it never panics.
func Parse(s string) (KeyCombination, error) {
	combo := KeyCombination{Key: KeyNone}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return combo, fmt.Errorf("empty key combination")
	}

	for _, raw := range strings.Split(trimmed, "+") {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == "" {
			return KeyCombination{Key: KeyNone}, fmt.Errorf("empty token in combination %q", s)
		}

		if mod, ok := modifierTokens[token]; ok {
			combo.Mods |= mod
			continue
		}
		if combo.HasKey() {
			return KeyCombination{Key: KeyNone}, fmt.Errorf("combination %q has more than one key", s)
		}
		if code, ok := keyCodes[token]; ok {
			combo.Key = code
			continue
		}
		if strings.HasPrefix(token, "#") {
			code, err := strconv.Atoi(token[1:])
			if err != nil || code < 0 {
				return KeyCombination{Key: KeyNone}, fmt.Errorf("invalid key code token %q", raw)
			}
			combo.Key = code
			continue
		}
		return KeyCombination{Key: KeyNone}, fmt.Errorf("unsupported token %q", raw)
	}

	if !combo.IsValid() {
		return KeyCombination{Key: KeyNone}, fmt.Errorf("combination %q resolves to nothing", s)
	}
	return combo, nil
}

// ParseOrDefault resolves a user-supplied string, falling back to def when
// the string is empty or invalid.
func ParseOrDefault(s string, def KeyCombination) KeyCombination {
	combo, err := Parse(s)
	if err != nil {
		return def
	}
	return combo
}

// Default combinations. The three defaults are pairwise disjoint and no
// default is a prefix of another, so with the shipped configuration a single
// physical gesture can only ever drive one action.
var (
	DefaultHoldCombination      = ModifierOnly(ModControl | ModOption)
	DefaultToggleCombination    = WithKey(ModCommand|ModShift, keyCodes["space"])
	DefaultTranslateCombination = WithKey(ModCommand|ModShift, keyCodes["t"])
)

// DefaultCombination returns the shipped default for an action.
func DefaultCombination(action Action) KeyCombination {
	switch action {
	case ActionToggle:
		return DefaultToggleCombination
	case ActionTranslate:
		return DefaultTranslateCombination
	default:
		return DefaultHoldCombination
	}
}
