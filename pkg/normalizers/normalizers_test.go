package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain word", "Completed", "COMPLETED"},
		{"numbered with emoji", "✅ 6. Completed", "COMPLETED"},
		{"numbered multi word", "🔴 1. Delivery to schedule", "DELIVERY TO SCHEDULE"},
		{"leading digits only", "3. Scheduled", "SCHEDULED"},
		{"already uppercase", "IN_PROGRESS", "IN_PROGRESS"},
		{"interior punctuation kept", "Delivery to schedule.", "DELIVERY TO SCHEDULE."},
		{"empty", "", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Status(test.input))
		})
	}
}

func TestStatusEqual(t *testing.T) {
	assert.True(t, StatusEqual("✅ 6. Completed", "completed"))
	assert.True(t, StatusEqual("🚚 2. Delivery scheduled", "DELIVERY SCHEDULED"))
	assert.False(t, StatusEqual("Completed", "Scheduled"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "1250", DigitsOnly(" 1 250 "))
	assert.Equal(t, "97110", DigitsOnly("97110"))
	assert.Equal(t, "", DigitsOnly("n/a"))
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "12 rue des Lilas", StripQuotes(`"12 rue des Lilas"`))
	assert.Equal(t, `say "hi"`, StripQuotes(`say "hi"`))
	assert.Equal(t, `"`, StripQuotes(`"`))
}

func TestApplyUnknownNormalizerPassesThrough(t *testing.T) {
	assert.Equal(t, "  raw  ", Apply("  raw  ", "nope"))
	assert.Equal(t, "raw", Apply("  raw  ", "trim"))
}
