package hypr

import (
	"fmt"
	"strconv"
	"strings"
)

// SanitizeAddress keeps the leading run of hex digits and 'x'/'X' of a
// Hyprland window address ("0x55d1c2a0b7e0,foo" -> "0x55d1c2a0b7e0").
func SanitizeAddress(addr string) string {
	end := 0
	for end < len(addr) && end < 63 {
		c := addr[end]
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex && c != 'x' && c != 'X' {
			break
		}
		end++
	}
	return addr[:end]
}

// ValidAddress reports whether addr identifies a real window.
func ValidAddress(addr string) bool {
	a := SanitizeAddress(addr)
	return a != "" && a != "0x0" && a != "0"
}

// ParseHandle converts a window address into the 32-bit handle the
// toplevel export protocol expects (the low 32 bits of the address).
func ParseHandle(addr string) (uint32, error) {
	a := SanitizeAddress(addr)
	if a == "" {
		return 0, fmt.Errorf("empty window address %q", addr)
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(a, "0x"), "0X")
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window address %q: %w", addr, err)
	}
	return uint32(v), nil
}
