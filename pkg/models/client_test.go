package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompositeID(t *testing.T) {
	tests := []struct {
		name     string
		tab      string
		rowIndex int
		expected string
	}{
		{"single word tab", "Corse", 57, "Corse_57"},
		{"spaces become underscores", "fr metropole ", 12, "fr_metropole__12"},
		{"already sanitized", "Guadeloupe", 4, "Guadeloupe_4"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, CompositeID(test.tab, test.rowIndex))
		})
	}
}

func TestParseCompositeID(t *testing.T) {
	// Round-trips the double underscore the metropole tab produces.
	tab, row, ok := ParseCompositeID(CompositeID("fr metropole ", 12))
	assert.True(t, ok)
	assert.Equal(t, "fr_metropole", tab)
	assert.Equal(t, 12, row)

	tab, row, ok = ParseCompositeID("Corse_57")
	assert.True(t, ok)
	assert.Equal(t, "Corse", tab)
	assert.Equal(t, 57, row)

	_, _, ok = ParseCompositeID("3f7c9a4e-9c1d-4f4e-8f2a-temp")
	assert.False(t, ok)

	_, _, ok = ParseCompositeID("noindex")
	assert.False(t, ok)
}

func TestTabForZone(t *testing.T) {
	assert.Equal(t, "Corse", TabForZone("CORSE", "20000"))
	assert.Equal(t, "fr metropole ", TabForZone("FR", "75001"))
	assert.Equal(t, "fr metropole ", TabForZone("??", ""))

	// Postal code wins over the declared zone for overseas departments.
	assert.Equal(t, "Guadeloupe", TabForZone("FR", "97110"))
	assert.Equal(t, "Martinique", TabForZone("FR", "97200"))
	assert.Equal(t, "Mayotte", TabForZone("GP", "97600"))
}

func TestZoneForTabRoundTrip(t *testing.T) {
	for _, tab := range TabNames() {
		zone := ZoneForTab(tab)
		assert.NotEqual(t, "UNKNOWN", zone, tab)
		assert.Equal(t, tab, TabForZone(zone, ""))
	}
}

func TestResolveTab(t *testing.T) {
	titles := []string{"fr metropole ", "Guadeloupe", "Corse"}

	// The metropole tab title carries a trailing space; lookups must still hit.
	assert.Equal(t, "fr metropole ", ResolveTab("fr_metropole", titles))
	assert.Equal(t, "Corse", ResolveTab("corse", titles))
	assert.Equal(t, "Martinique", ResolveTab("Martinique", nil))
}
