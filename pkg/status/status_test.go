package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/tendril/pkg/models"
)

func TestDerive(t *testing.T) {
	now := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		client   models.Client
		expected State
	}{
		{
			name:     "empty client defaults to delivery to schedule",
			client:   models.Client{},
			expected: DeliveryToSchedule,
		},
		{
			name:     "delivery date set",
			client:   models.Client{DeliveryDate: "2026-03-20"},
			expected: DeliveryScheduled,
		},
		{
			name:     "delivered status wins over delivery date",
			client:   models.Client{DeliveryDate: "2026-03-05", DeliveryStatus: "DELIVERED"},
			expected: GoodsReceived,
		},
		{
			name:     "delivered timestamp alone",
			client:   models.Client{DeliveredAt: "2026-03-05T14:30:00Z"},
			expected: GoodsReceived,
		},
		{
			name:     "install start in the future",
			client:   models.Client{DeliveredAt: "2026-03-05T14:30:00Z", InstallStart: "2026-03-20"},
			expected: InstallationScheduled,
		},
		{
			name:     "install start today",
			client:   models.Client{InstallStart: "2026-03-10"},
			expected: InstallationInProgress,
		},
		{
			name:     "install start today in day-first form",
			client:   models.Client{InstallStart: "10/03/2026"},
			expected: InstallationInProgress,
		},
		{
			name:     "in progress status without start date",
			client:   models.Client{InstallStatus: "IN_PROGRESS"},
			expected: InstallationInProgress,
		},
		{
			name:     "done status",
			client:   models.Client{InstallStatus: "DONE", InstallStart: "2026-03-10"},
			expected: Completed,
		},
		{
			name:     "real end alone completes",
			client:   models.Client{InstallRealEnd: "2026-03-09T17:00:00Z"},
			expected: Completed,
		},
		{
			name:     "decorated cell status still completes",
			client:   models.Client{InstallStatus: "✅ done"},
			expected: Completed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Derive(&test.client, now))
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	client := models.Client{DeliveryDate: "2026-03-20", InstallStart: "2026-03-25"}

	first := Derive(&client, now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Derive(&client, now))
	}
}

func TestLabelRoundTrip(t *testing.T) {
	for state := DeliveryToSchedule; state <= Completed; state++ {
		assert.NotEmpty(t, state.Label())
	}
	assert.Equal(t, labels[DeliveryToSchedule], State(0).Label())
}
