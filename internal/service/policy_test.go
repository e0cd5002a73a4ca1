package service

import (
	"testing"
	"time"

	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostFor(t *testing.T) {
	rate := decimal.NewFromInt(10)
	start := at(10, 0)

	assert.Equal(t, "20.00", CostFor(rate, start, start.Add(2*time.Hour)).StringFixed(2))
	assert.Equal(t, "5.00", CostFor(rate, start, start.Add(30*time.Minute)).StringFixed(2))
	assert.Equal(t, "0.17", CostFor(rate, start, start.Add(time.Minute)).StringFixed(2))
	assert.Equal(t, "0.00", CostFor(decimal.Zero, start, start.Add(time.Hour)).StringFixed(2))
}

func TestParseClock(t *testing.T) {
	h, m, err := parseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, 24, h)
	assert.Equal(t, 0, m)

	for _, bad := range []string{"", "9", "24:30", "25:00", "ab:cd", "09:60"} {
		_, _, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestPolicy_OperatingHours(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	p := DefaultPolicy()
	p.Location = loc
	resource := &models.Resource{ID: 1, OpenHour: "09:00", CloseHour: "21:00"}

	// 09:00 Berlin in winter is 08:00 UTC.
	start := time.Date(2030, 1, 10, 8, 0, 0, 0, time.UTC)
	assert.NoError(t, p.WithinOperatingHours(resource, start, start.Add(time.Hour)))

	early := start.Add(-time.Minute)
	err = p.WithinOperatingHours(resource, early, start.Add(time.Hour))
	assert.Equal(t, domain.CodeOutsideOperatingHours, domain.CodeOf(err))

	broken := &models.Resource{ID: 2, OpenHour: "21:00", CloseHour: "09:00"}
	err = p.WithinOperatingHours(broken, start, start.Add(time.Hour))
	assert.Equal(t, domain.CodeInternal, domain.CodeOf(err))
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig(config.LedgerConfig{
		MaxDuration:        4 * time.Hour,
		LeadTime:           time.Minute,
		CancellationWindow: 2 * time.Hour,
		SlotSize:           time.Hour,
		Timezone:           "UTC",
	})
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, p.MaxDuration)
	assert.Equal(t, time.UTC, p.Location)

	_, err = PolicyFromConfig(config.LedgerConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
