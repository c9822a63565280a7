package checkin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeToken(t *testing.T) {
	const marker = "GYMKAANA-"

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"marker prefix", "GYMKAANA-ABC123", "ABC123"},
		{"lowercase marker", "gymkaana-ABC123", "ABC123"},
		{"mixed case marker", "GymKaana-abc123", "abc123"},
		{"surrounding whitespace", "  GYMKAANA-  ABC123 \n", "ABC123"},
		{"marker inside url", "https://gymkaana.app/e?c=GYMKAANA-XYZ9", "XYZ9"},
		{"no marker", "  ZZZZZZ ", "ZZZZZZ"},
		{"marker only", "GYMKAANA-   ", ""},
		{"empty", "", ""},
		{"first marker wins", "GYMKAANA-GYMKAANA-A", "GYMKAANA-A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeToken(tt.raw, marker))
		})
	}
}

func TestNormalizeTokenEmptyMarker(t *testing.T) {
	assert.Equal(t, "GYMKAANA-ABC", NormalizeToken(" GYMKAANA-ABC ", ""))
}
