package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadPaymentConfig_Defaults(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "")
	t.Setenv("PAYMENT_POLL_MAX_ATTEMPTS", "")
	t.Setenv("PAYMENT_POLL_LATE_GRACE", "")
	c := LoadPaymentConfig()

	assert.Equal(t, "INR", c.Currency)
	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, 2*time.Second, c.PollBackoffStep)
	assert.Equal(t, 40, c.PollMaxAttempts)
	assert.Equal(t, 30*time.Minute, c.PollLateGrace)
}

func TestLoadPaymentConfig_ClampsInvalidValues(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "-1s")
	t.Setenv("PAYMENT_POLL_MAX_ATTEMPTS", "0")
	t.Setenv("PAYMENT_POLL_BACKOFF_STEP", "-3s")
	c := LoadPaymentConfig()

	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, time.Duration(0), c.PollBackoffStep)
	assert.Equal(t, 1, c.PollMaxAttempts)
}

func TestLoadRewardConfig(t *testing.T) {
	t.Setenv("REWARD_EARN_UNIT", "25")
	t.Setenv("REWARD_POINT_VALUE", "not-a-number")
	t.Setenv("REWARD_MAX_REDEEM_PERCENT", "-5")
	c := LoadRewardConfig()

	assert.True(t, c.EarnUnit.Equal(decimal.NewFromInt(25)))
	assert.True(t, c.PointValue.Equal(decimal.NewFromInt(1)))
	assert.True(t, c.MaxRedeemPercent.Equal(decimal.NewFromInt(20)))
}

func TestRateLimitConfig_WithPrefix(t *testing.T) {
	t.Setenv("RATE_LIMIT_PREFIX", "")
	t.Setenv("RATE_LIMIT_CAPACITY", "")
	base := LoadRateLimitConfig()
	pay := base.WithPrefix("pay", 10)

	assert.Equal(t, "studyhall:rl:pay", pay.Prefix)
	assert.Equal(t, 10, pay.Capacity)
	assert.Equal(t, "studyhall:rl", base.Prefix)
	assert.Equal(t, 60, base.Capacity)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("X_FLAG", "off")
	assert.False(t, envBool("X_FLAG", true))
	t.Setenv("X_FLAG", "maybe")
	assert.True(t, envBool("X_FLAG", true))
}
