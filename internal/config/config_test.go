package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/telemed")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, 30*time.Minute, cfg.Clinic.SlotWindow)
	assert.Equal(t, 15*time.Minute, cfg.Clinic.MinConsultation)
	assert.Equal(t, 10, cfg.Clinic.HistorySize)
	assert.True(t, cfg.Clinic.CommissionRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, time.UTC, cfg.Clinic.Location)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}

func TestLoad_MissingDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	assert.EqualError(t, err, "POSTGRES_DSN is required")
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/telemed")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.EqualError(t, err, "JWT_SECRET is required")
}

func TestLoad_DurationFormats(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCK_TTL", "7")
	t.Setenv("SLOT_WINDOW", "45m")
	t.Setenv("HISTORY_SIZE", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.LockTTL)
	assert.Equal(t, 45*time.Minute, cfg.Clinic.SlotWindow)
	assert.Equal(t, 5, cfg.Clinic.HistorySize)
}

func TestLoad_RedisURL(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}

func TestLoad_RejectsBadRates(t *testing.T) {
	setRequired(t)
	t.Setenv("COMMISSION_RATE", "-0.1")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("CLINIC_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.ErrorContains(t, err, "CLINIC_TIMEZONE")
}

func TestLoad_CORSOrigins(t *testing.T) {
	setRequired(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}
