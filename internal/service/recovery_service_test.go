package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

func newTestRecoveryService() *RecoveryService {
	return NewRecoveryService(testConfigManager(), nopLogger())
}

func transientFailure() error {
	return &model.ChannelTransientError{Channel: ChannelEmail, Err: errors.New("smtp down")}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category string
	}{
		{"validation", &model.ValidationError{Field: "title", Reason: "required"}, CategoryValidation},
		{"transient", transientFailure(), CategoryTransient},
		{"circuit", &model.ChannelCircuitError{Channel: ChannelEmail, RetryAfter: time.Minute}, CategorySaturated},
		{"storage", &model.StorageError{Op: "save", Err: errors.New("boom")}, CategoryStorage},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"unknown", errors.New("mystery"), CategoryUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.category, Classify(tc.err))
		})
	}
}

func TestHandleFailureEscalation(t *testing.T) {
	svc := newTestRecoveryService()

	// Failures 1 and 2 schedule retries with a growing backoff.
	first := svc.HandleFailure(transientFailure(), ChannelEmail)
	assert.Equal(t, ActionRetryScheduled, first.Action)
	assert.Greater(t, first.RetryIn, time.Duration(0))

	second := svc.HandleFailure(transientFailure(), ChannelEmail)
	assert.Equal(t, ActionRetryScheduled, second.Action)

	// Failures 3 through 5 queue the work instead.
	for i := 0; i < 3; i++ {
		decision := svc.HandleFailure(transientFailure(), ChannelEmail)
		assert.Equal(t, ActionQueued, decision.Action)
	}

	// Failure 6 opens the breaker.
	sixth := svc.HandleFailure(transientFailure(), ChannelEmail)
	assert.Equal(t, ActionCircuitOpen, sixth.Action)
	assert.Equal(t, time.Minute, sixth.RetryIn)
	assert.False(t, svc.Allow(ChannelEmail))
}

func TestValidationFailuresNeverEscalate(t *testing.T) {
	svc := newTestRecoveryService()

	// One misconfigured caller must not degrade the shared channel.
	for i := 0; i < circuitThreshold+2; i++ {
		decision := svc.HandleFailure(
			&model.ValidationError{Field: "email.to", Reason: "required"}, ChannelEmail)
		assert.Equal(t, ActionRetryScheduled, decision.Action)
	}
	assert.True(t, svc.Allow(ChannelEmail))

	// The streak is untouched, so a real channel failure starts from one.
	decision := svc.HandleFailure(transientFailure(), ChannelEmail)
	assert.Equal(t, ActionRetryScheduled, decision.Action)

	// Stats still count the rejections.
	stats := svc.Stats()
	assert.Equal(t, int64(circuitThreshold+3), stats.TotalErrors)
	assert.Equal(t, int64(circuitThreshold+2), stats.ByCategory[CategoryValidation])
}

func TestSaturatedFailuresReportWithoutEscalating(t *testing.T) {
	svc := newTestRecoveryService()

	decision := svc.HandleFailure(
		&model.ChannelCircuitError{Channel: ChannelEmail, RetryAfter: time.Minute}, ChannelEmail)

	assert.Equal(t, ActionCircuitOpen, decision.Action)
	assert.Equal(t, time.Minute, decision.RetryIn)
	assert.True(t, svc.Allow(ChannelEmail), "reporting an open breaker must not open a closed one")
}

func TestChannelsEscalateIndependently(t *testing.T) {
	svc := newTestRecoveryService()

	for i := 0; i < circuitThreshold; i++ {
		svc.HandleFailure(transientFailure(), ChannelEmail)
	}

	decision := svc.HandleFailure(
		&model.ChannelTransientError{Channel: ChannelRealtime, Err: errors.New("broker gone")},
		ChannelRealtime)

	assert.Equal(t, ActionRetryScheduled, decision.Action)
	assert.True(t, svc.Allow(ChannelRealtime))
	assert.False(t, svc.Allow(ChannelEmail))
}

func TestAllowClosesBreakerAfterCooldown(t *testing.T) {
	svc := newTestRecoveryService()

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < circuitThreshold; i++ {
		svc.HandleFailure(transientFailure(), ChannelEmail)
	}
	require.False(t, svc.Allow(ChannelEmail))

	// Just short of the cooldown the breaker stays open.
	svc.now = func() time.Time { return base.Add(59 * time.Second) }
	assert.False(t, svc.Allow(ChannelEmail))

	// Past the cooldown the channel gets a fresh start.
	svc.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.True(t, svc.Allow(ChannelEmail))

	decision := svc.HandleFailure(transientFailure(), ChannelEmail)
	assert.Equal(t, ActionRetryScheduled, decision.Action, "the failure streak resets with the breaker")
}

func TestRecordSuccessResetsStreak(t *testing.T) {
	svc := newTestRecoveryService()

	for i := 0; i < queueThreshold; i++ {
		svc.HandleFailure(transientFailure(), ChannelEmail)
	}

	svc.RecordSuccess(ChannelEmail)

	decision := svc.HandleFailure(transientFailure(), ChannelEmail)
	assert.Equal(t, ActionRetryScheduled, decision.Action)
}

func TestStatsAccumulateAndReset(t *testing.T) {
	svc := newTestRecoveryService()

	svc.HandleFailure(transientFailure(), ChannelEmail)
	svc.HandleFailure(&model.ValidationError{Field: "x", Reason: "bad"}, ChannelStorage)

	stats := svc.Stats()
	assert.Equal(t, int64(2), stats.TotalErrors)
	assert.Equal(t, int64(1), stats.ByCategory[CategoryTransient])
	assert.Equal(t, int64(1), stats.ByCategory[CategoryValidation])
	assert.Equal(t, int64(1), stats.ByChannel[ChannelEmail])
	assert.Equal(t, int64(1), stats.ByChannel[ChannelStorage])

	svc.Reset()

	stats = svc.Stats()
	assert.Equal(t, int64(0), stats.TotalErrors)
	assert.Empty(t, stats.ByCategory)
	assert.True(t, svc.Allow(ChannelEmail))
}

func TestStatsReturnsSnapshot(t *testing.T) {
	svc := newTestRecoveryService()
	svc.HandleFailure(transientFailure(), ChannelEmail)

	snapshot := svc.Stats()
	snapshot.ByChannel[ChannelEmail] = 99

	assert.Equal(t, int64(1), svc.Stats().ByChannel[ChannelEmail], "mutating a snapshot must not touch live counters")
}
