package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validEngine() EngineConfig {
	return EngineConfig{
		EmailTimeout:      30 * time.Second,
		PushTimeout:       5 * time.Second,
		RetentionLowDays:  90,
		RetentionMedDays:  160,
		RetentionHighDays: 240,
		RetentionReadDays: 60,
		BreakerCooldown:   60 * time.Second,
		CleanupBatchSize:  500,
		UnreadCacheTTL:    30 * time.Second,
	}
}

func newTestManager() *Manager {
	return NewManager(validEngine(), zap.NewNop())
}

func TestUpdateConfigAcceptsValidChange(t *testing.T) {
	m := newTestManager()

	ok := m.UpdateConfig(PathEmailTimeout, "45s", "smtp relay is slow this week")
	require.True(t, ok)

	assert.Equal(t, 45*time.Second, m.Engine().EmailTimeout)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, PathEmailTimeout, history[0].Path)
	assert.Equal(t, "smtp relay is slow this week", history[0].Reason)
	assert.False(t, history[0].Timestamp.IsZero())
}

func TestUpdateConfigRejectsBelowFloor(t *testing.T) {
	m := newTestManager()
	before := m.Engine()

	assert.False(t, m.UpdateConfig(PathEmailTimeout, "500ms", "too eager"))
	assert.False(t, m.UpdateConfig(PathPushTimeout, "100ms", "too eager"))
	assert.False(t, m.UpdateConfig(PathRetentionLowDays, 7, "too eager"))
	assert.False(t, m.UpdateConfig(PathRetentionHighDays, 30, "too eager"))
	assert.False(t, m.UpdateConfig(PathBreakerCooldown, "1s", "too eager"))
	assert.False(t, m.UpdateConfig(PathCleanupBatchSize, 0, "too eager"))
	assert.False(t, m.UpdateConfig(PathCleanupBatchSize, 10000, "too eager"))

	assert.Equal(t, before, m.Engine(), "rejected updates must leave the configuration untouched")
	assert.Empty(t, m.History(), "rejected updates never reach the audit log")
}

func TestUpdateConfigRejectsUnknownPath(t *testing.T) {
	m := newTestManager()

	assert.False(t, m.UpdateConfig("engine.noSuchKnob", 1, "typo"))
	assert.Empty(t, m.History())
}

func TestUpdateConfigRejectsWrongType(t *testing.T) {
	m := newTestManager()

	assert.False(t, m.UpdateConfig(PathRetentionLowDays, "ninety", "not a number"))
	assert.False(t, m.UpdateConfig(PathEmailTimeout, []string{"30s"}, "not a duration"))
	assert.Equal(t, 90, m.Engine().RetentionLowDays)
}

func TestUpdateConfigCoercesNumericDurations(t *testing.T) {
	m := newTestManager()

	// JSON bodies arrive as float64 milliseconds.
	require.True(t, m.UpdateConfig(PathPushTimeout, float64(2500), "tuning"))
	assert.Equal(t, 2500*time.Millisecond, m.Engine().PushTimeout)

	require.True(t, m.UpdateConfig(PathRetentionMedDays, float64(180), "longer retention"))
	assert.Equal(t, 180, m.Engine().RetentionMedDays)
}

func TestValidateConfig(t *testing.T) {
	assert.True(t, newTestManager().ValidateConfig().Valid)

	bad := validEngine()
	bad.EmailTimeout = 10 * time.Millisecond
	bad.RetentionReadDays = 1

	report := NewManager(bad, zap.NewNop()).ValidateConfig()
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 2)
}

func TestHistoryReturnsCopy(t *testing.T) {
	m := newTestManager()
	require.True(t, m.UpdateConfig(PathCleanupBatchSize, 250, "smaller batches"))

	history := m.History()
	history[0].Reason = "tampered"

	assert.Equal(t, "smaller batches", m.History()[0].Reason)
}

func TestHistoryPreservesOrder(t *testing.T) {
	m := newTestManager()
	require.True(t, m.UpdateConfig(PathRetentionLowDays, 100, "first"))
	require.True(t, m.UpdateConfig(PathRetentionLowDays, 110, "second"))

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Reason)
	assert.Equal(t, "second", history[1].Reason)
	assert.Equal(t, 110, m.Engine().RetentionLowDays)
}
