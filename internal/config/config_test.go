package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "REDIS_ADDR", "EVENT_BATCH_SIZE", "CLINIC_TIMEZONE", "SCHEDULER_MAX_REOPTIMIZATIONS_PER_HOUR"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 36*time.Hour, cfg.StateTTL)
	assert.Equal(t, 5, cfg.EventBatchSize)
	assert.Equal(t, 500, cfg.SimulationScenarios)
	assert.Equal(t, "America/Sao_Paulo", cfg.ClinicTimezone)
	assert.Nil(t, cfg.DoctorLocation())

	params, err := cfg.SchedulerParams()
	require.NoError(t, err)
	assert.Equal(t, scheduler.DefaultParams(), params)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("DAY_CLOSE_INTERVAL", "1m")
	t.Setenv("DOCTOR_LAT", "-23.55")
	t.Setenv("DOCTOR_LNG", "-46.63")
	t.Setenv("SCHEDULER_MAX_REOPTIMIZATIONS_PER_HOUR", "6")
	t.Setenv("SCHEDULER_ETA_QUANTILE", "0.9")
	t.Setenv("OPTIMIZATION_BUDGET", "250ms")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://user@host/db", cfg.DatabaseURL)
	assert.True(t, cfg.UseMemoryQueue)
	assert.Equal(t, time.Minute, cfg.DayCloseInterval)
	require.NotNil(t, cfg.DoctorLocation())
	assert.InDelta(t, -23.55, cfg.DoctorLocation().Lat, 1e-9)

	params, err := cfg.SchedulerParams()
	require.NoError(t, err)
	assert.Equal(t, 6, params.MaxReoptimizationsPerHour)
	assert.InDelta(t, 0.9, params.ETAQuantile, 1e-9)
	assert.Equal(t, 250*time.Millisecond, params.OptimizationBudget)
}

func TestSchedulerParamsRejectsInvalidOverrides(t *testing.T) {
	t.Setenv("SCHEDULER_DURATION_QUANTILE", "1.5")
	_, err := Load().SchedulerParams()
	assert.ErrorIs(t, err, scheduler.ErrInvalidParams)
}

func TestMalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("STATE_TTL", "forever")
	cfg := Load()
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 36*time.Hour, cfg.StateTTL)
}

func TestLocation(t *testing.T) {
	cfg := &Config{ClinicTimezone: "America/Sao_Paulo"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", loc.String())

	cfg.ClinicTimezone = "Mars/Olympus"
	_, err = cfg.Location()
	assert.Error(t, err)
}
