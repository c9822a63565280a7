package checkin

import "strings"

// NormalizeToken turns raw scanner or keyboard input into a lookup token.
// When raw contains marker (case-insensitive), everything up to and including
// the first occurrence is dropped. The result is trimmed either way.
func NormalizeToken(raw, marker string) string {
	if i := indexFold(raw, marker); i >= 0 {
		return strings.TrimSpace(raw[i+len(marker):])
	}
	return strings.TrimSpace(raw)
}

func indexFold(s, substr string) int {
	n := len(substr)
	if n == 0 {
		return -1
	}
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
