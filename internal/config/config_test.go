package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunil55999/autoforwardx/internal/config"
	"github.com/sunil55999/autoforwardx/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 32, cfg.ClaimBatch)
	assert.Equal(t, 256, cfg.IngressBuffer)
	assert.Equal(t, 20, cfg.RateLimitPerMinute)
	assert.Equal(t, 300, cfg.RateLimitPerHour)
	assert.Equal(t, 5*time.Minute, cfg.HealthInterval)
	assert.InDelta(t, 0.80, cfg.WarningThreshold, 0.001)
	assert.InDelta(t, 0.95, cfg.CriticalThreshold, 0.001)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.PublisherEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("WORKERS", "4")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CREDENTIAL_SEAL_KEY", "2b7e151628aed2a6abf7158809cf4f3c2b7e151628aed2a6abf7158809cf4f3c")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.PublisherEnabled())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("WORKERS", "0")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_ProdRequiresSealKey(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("CREDENTIAL_SEAL_KEY", "")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_RejectsInvertedThresholds(t *testing.T) {
	t.Setenv("WARNING_THRESHOLD", "0.97")
	_, err := config.Load()
	require.Error(t, err)
}

func TestPlanTable_Defaults(t *testing.T) {
	t.Parallel()
	tbl, err := config.LoadPlanTable("")
	require.NoError(t, err)

	free := tbl.Limits(domain.PlanFree)
	assert.Equal(t, 3, free.MaxPairs)
	assert.False(t, free.AdvancedFiltering)

	pro := tbl.Limits(domain.PlanPro)
	assert.True(t, pro.AdvancedFiltering)

	// Unknown plans fall back to free.
	assert.Equal(t, free, tbl.Limits(domain.Plan("trial")))
}

func TestPlanTable_FileOverride(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	body := "free:\n  max_sessions: 2\n  max_pairs: 5\n  msgs_per_day: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	tbl, err := config.LoadPlanTable(path)
	require.NoError(t, err)
	free := tbl.Limits(domain.PlanFree)
	assert.Equal(t, 5, free.MaxPairs)
	assert.Equal(t, 2, free.MaxSessions)

	// Plans absent from the file keep their defaults.
	assert.Equal(t, 20, tbl.Limits(domain.PlanPro).MaxPairs)
}

func TestPlanTable_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.LoadPlanTable("/does/not/exist.yaml")
	require.Error(t, err)
}
