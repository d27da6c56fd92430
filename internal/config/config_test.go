package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NotNil(t, cfg)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 9, cfg.BusinessOpenHour)
	assert.Equal(t, 18, cfg.BusinessCloseHour)
	assert.Equal(t, 30*time.Minute, cfg.BookingLeadTime)
	assert.Equal(t, 2*time.Hour, cfg.RescheduleLeadTime)
	assert.Equal(t, 5, cfg.RescheduleMinReason)
	assert.Equal(t, "usd", cfg.PaymentCurrency)
	assert.Equal(t, 5*time.Minute, cfg.QuoteTTL)
	assert.Equal(t, 25, cfg.OutboxBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BUSINESS_OPEN_HOUR", "8")
	t.Setenv("RESCHEDULE_LEAD_TIME", "4h")
	t.Setenv("STRIPE_DRY_RUN", "true")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 8, cfg.BusinessOpenHour)
	assert.Equal(t, 4*time.Hour, cfg.RescheduleLeadTime)
	assert.True(t, cfg.StripeDryRun)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BUSINESS_OPEN_HOUR", "noon")
	t.Setenv("QUOTE_TTL", "soon")

	cfg := Load()
	assert.Equal(t, 9, cfg.BusinessOpenHour)
	assert.Equal(t, 5*time.Minute, cfg.QuoteTTL)
}
