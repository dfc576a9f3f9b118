package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

// Key codes are platform specific and not contiguous on every platform,
// so letters are mapped explicitly. The config accepts letters only.
var keyNames = map[string]hotkey.Key{
	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD,
	"E": hotkey.KeyE, "F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH,
	"I": hotkey.KeyI, "J": hotkey.KeyJ, "K": hotkey.KeyK, "L": hotkey.KeyL,
	"M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO, "P": hotkey.KeyP,
	"Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX,
	"Y": hotkey.KeyY, "Z": hotkey.KeyZ,
}

// ParseKey converts a single letter, in either case, to a key code
func ParseKey(name string) (hotkey.Key, error) {
	if key, ok := keyNames[strings.ToUpper(name)]; ok {
		return key, nil
	}
	return 0, fmt.Errorf("unsupported hotkey key %q", name)
}

// FromSettings builds a Config from the user-facing settings. At least one
// modifier is required so the combination does not swallow plain typing.
func FromSettings(ctrl, shift bool, key string) (Config, error) {
	var mods []hotkey.Modifier
	if ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if shift {
		mods = append(mods, hotkey.ModShift)
	}
	if len(mods) == 0 {
		return Config{}, fmt.Errorf("hotkey needs at least one modifier")
	}

	k, err := ParseKey(key)
	if err != nil {
		return Config{}, err
	}

	return Config{Modifiers: mods, Key: k}, nil
}

// FormatHotkey formats a hotkey combination for display
func FormatHotkey(modifiers []hotkey.Modifier, key hotkey.Key) string {
	var parts []string

	for _, mod := range modifiers {
		switch mod {
		case hotkey.ModCtrl:
			parts = append(parts, "Ctrl")
		case hotkey.ModShift:
			parts = append(parts, "Shift")
		}
	}

	return strings.Join(append(parts, keyToString(key)), "+")
}

// keyToString converts a hotkey.Key to a display string
func keyToString(key hotkey.Key) string {
	for name, k := range keyNames {
		if k == key {
			return name
		}
	}
	return "Unknown"
}
