package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID (xxxxxxxx-0000-1000-8000-00805f9b34fb).
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix and braces. UUIDs built on the Bluetooth SIG base with a
// 16-bit value are reduced to their 4-character short form. Returns "" for
// malformed input.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8:
		if _, err := hex.DecodeString(s); err != nil {
			return ""
		}
		return s
	case 32:
	default:
		return ""
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	full := strings.ReplaceAll(u.String(), "-", "")
	if strings.HasPrefix(full, "0000") && strings.HasSuffix(full, sigBaseSuffix) {
		return full[4:8]
	}
	return full
}

// NormalizeUUIDs normalizes every entry, dropping malformed ones.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			result = append(result, n)
		}
	}
	return result
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(u)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ExpandUUID returns the dashed 128-bit form of a UUID, expanding 16 and
// 32-bit values onto the Bluetooth SIG base. Returns "" for malformed input.
func ExpandUUID(s string) string {
	n := NormalizeUUID(s)
	switch len(n) {
	case 0:
		return ""
	case 4:
		n = "0000" + n + sigBaseSuffix
	case 8:
		n += sigBaseSuffix
	}
	u, err := uuid.Parse(n)
	if err != nil {
		return ""
	}
	return u.String()
}
