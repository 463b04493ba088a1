package input

import (
	"fmt"
	"strconv"
	"strings"
)

// Virtual key codes the recorder cares about by name
const (
	VKShift    = 0x10
	VKControl  = 0x11
	VKMenu     = 0x12 // Alt
	VKEscape   = 0x1B
	VKLWin     = 0x5B
	VKRWin     = 0x5C
	VKLShift   = 0xA0
	VKRShift   = 0xA1
	VKLControl = 0xA2
	VKRControl = 0xA3
	VKLMenu    = 0xA4
	VKRMenu    = 0xA5
)

var namedKeys = map[int]string{
	VKControl: "CTRL",
	VKMenu:    "ALT",
	VKShift:   "SHIFT",
	VKLWin:    "WIN",
	0x20:      "SPACE",
	0x0D:      "ENTER",
	VKEscape:  "ESC",
	0x08:      "BACKSPACE",
	0x09:      "TAB",
	0x14:      "CAPSLOCK",
	0x21:      "PAGEUP",
	0x22:      "PAGEDOWN",
	0x23:      "END",
	0x24:      "HOME",
	0x25:      "LEFT",
	0x26:      "UP",
	0x27:      "RIGHT",
	0x28:      "DOWN",
	0x2C:      "PRINTSCREEN",
	0x2D:      "INSERT",
	0x2E:      "DELETE",
	0x13:      "PAUSE",
	0x91:      "SCROLLLOCK",
}

var keyAliases = map[string]int{
	"ESCAPE":  VKEscape,
	"CONTROL": VKControl,
	"RETURN":  0x0D,
	"CMD":     VKLWin,
}

// KeyName returns the display name of a virtual key, or "" when it has none.
func KeyName(vk int) string {
	switch vk {
	case VKLControl, VKRControl:
		vk = VKControl
	case VKLMenu, VKRMenu:
		vk = VKMenu
	case VKLShift, VKRShift:
		vk = VKShift
	case VKRWin:
		vk = VKLWin
	}
	if name, ok := namedKeys[vk]; ok {
		return name
	}
	// Letters A-Z and digits 0-9 map to their ASCII code
	if (vk >= 0x41 && vk <= 0x5A) || (vk >= 0x30 && vk <= 0x39) {
		return string(rune(vk))
	}
	if vk >= 0x70 && vk <= 0x7B {
		return fmt.Sprintf("F%d", vk-0x6F)
	}
	return ""
}

// ParseKey resolves a key name ("Esc", "F9", "A") or numeric literal ("27", "0x1B")
// to a virtual key code in the range 1-255.
func ParseKey(s string) (int, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return 0, fmt.Errorf("empty key name")
	}

	if vk, ok := keyAliases[name]; ok {
		return vk, nil
	}
	for vk, n := range namedKeys {
		if n == name {
			return vk, nil
		}
	}
	if len(name) == 1 && ((name[0] >= 'A' && name[0] <= 'Z') || (name[0] >= '0' && name[0] <= '9')) {
		return int(name[0]), nil
	}
	if strings.HasPrefix(name, "F") && len(name) > 1 {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 12 {
			return 0x6F + n, nil
		}
	}

	n, err := strconv.ParseInt(strings.ToLower(name), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown key %q", s)
	}
	if n < 1 || n > 255 {
		return 0, fmt.Errorf("virtual key %d out of range 1-255", n)
	}
	return int(n), nil
}

// ModifierFor reports which modifier bit a virtual key controls, if any.
func ModifierFor(vk int) (Modifiers, bool) {
	switch vk {
	case VKControl, VKLControl, VKRControl:
		return ModCtrl, true
	case VKMenu, VKLMenu, VKRMenu:
		return ModAlt, true
	case VKShift, VKLShift, VKRShift:
		return ModShift, true
	case VKLWin, VKRWin:
		return ModWin, true
	}
	return ModNone, false
}
