package input

// XT Set 1 scancodes map onto Linux evdev keycodes directly for the main
// block: the kernel's KEY_* numbering was chosen to match AT set 1. The
// 0xE0-prefixed extended codes use an explicit table, and the few
// international keys past F12 use explicit cases in keycodeFor.

// Linux evdev button codes for pointer buttons.
const (
	btnLeft   = 0x110 // BTN_LEFT
	btnRight  = 0x111 // BTN_RIGHT
	btnMiddle = 0x112 // BTN_MIDDLE
	btnSide   = 0x113 // BTN_SIDE
	btnExtra  = 0x114 // BTN_EXTRA
)

// Main-block scancodes at or below this value translate by identity.
const maxMainScancode = 0x58 // F12

// Selected evdev keycodes referenced by name.
const (
	keyCapsLock   = 58
	keyNumLock    = 69
	keyScrollLock = 70
	keyKatakana   = 90
)

// extendedKeycodes maps 0xE0-prefixed XT scancodes to evdev keycodes.
var extendedKeycodes = map[uint16]int{
	0x1C: 96,  // keypad enter
	0x1D: 97,  // right ctrl
	0x20: 113, // mute
	0x21: 140, // calculator
	0x22: 164, // media play/pause
	0x24: 166, // media stop
	0x2E: 114, // volume down
	0x30: 115, // volume up
	0x32: 172, // browser home
	0x35: 98,  // keypad divide
	0x37: 99,  // print screen / sysrq
	0x38: 100, // right alt (AltGr)
	0x46: 119, // ctrl+break
	0x47: 102, // home
	0x48: 103, // up
	0x49: 104, // page up
	0x4B: 105, // left
	0x4D: 106, // right
	0x4F: 107, // end
	0x50: 108, // down
	0x51: 109, // page down
	0x52: 110, // insert
	0x53: 111, // delete
	0x5B: 125, // left meta
	0x5C: 126, // right meta
	0x5D: 127, // menu / compose
	0x5E: 116, // power
	0x5F: 142, // sleep
	0x63: 143, // wake
	0x65: 217, // browser search
	0x66: 156, // browser favorites
	0x67: 173, // browser refresh
	0x68: 128, // browser stop
	0x69: 159, // browser forward
	0x6A: 158, // browser back
	0x6B: 157, // launch file browser
	0x6C: 155, // launch mail
	0x6D: 226, // launch media select
	0x19: 163, // next track
	0x10: 165, // previous track
}

// keycodeFor translates an XT Set 1 scancode (with extended flag) to a
// Linux evdev keycode. ok is false for codes with no portal-side key.
func keycodeFor(scancode uint16, extended bool) (int, bool) {
	if extended {
		code, ok := extendedKeycodes[scancode]
		return code, ok
	}
	if scancode == 0 || scancode > 0x7F {
		return 0, false
	}
	if scancode <= maxMainScancode {
		return int(scancode), true
	}
	// Past F12 only the Japanese/international keys are mapped, each to
	// its own evdev keycode (not by identity).
	switch scancode {
	case 0x70: // katakana/hiragana
		return 93, true
	case 0x73: // international1 (ro)
		return 89, true
	case 0x79: // henkan
		return 92, true
	case 0x7B: // muhenkan
		return 94, true
	case 0x7D: // international3 (yen)
		return 124, true
	default:
		return 0, false
	}
}

// keysymForRune maps a Unicode code point to an X11 keysym. Latin-1 maps
// directly; everything else uses the Unicode keysym plane.
func keysymForRune(r rune) int {
	if r >= 0x20 && r <= 0xFF {
		return int(r)
	}
	return 0x01000000 + int(r)
}
