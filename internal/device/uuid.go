package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (0000xxxx-0000-1000-8000-00805f9b34fb), normalized
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal lookup form (lowercase, no dashes).
// Strips a 0x prefix and shortens Bluetooth SIG base UUIDs to their 16-bit form.
func NormalizeUUID(s string) string {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.TrimPrefix(n, "0x")
	n = strings.ReplaceAll(n, "-", "")
	if len(n) == 32 && strings.HasPrefix(n, "0000") && strings.HasSuffix(n, sigBaseSuffix) {
		return n[4:8]
	}
	return n
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, u := range uuids {
		normalized[i] = NormalizeUUID(u)
	}
	return normalized
}

// SameUUID reports whether a and b name the same attribute
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// CanonicalUUID returns the dashed lowercase form of a 128-bit UUID,
// or the normalized 16/32-bit form for short UUIDs.
func CanonicalUUID(s string) (string, error) {
	n := NormalizeUUID(s)
	switch len(n) {
	case 4, 8:
		for _, r := range n {
			if !strings.ContainsRune("0123456789abcdef", r) {
				return "", fmt.Errorf("invalid short UUID %q", s)
			}
		}
		return n, nil
	case 32:
		u, err := uuid.Parse(n)
		if err != nil {
			return "", fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return u.String(), nil
	default:
		return "", fmt.Errorf("invalid UUID %q: unexpected length", s)
	}
}
