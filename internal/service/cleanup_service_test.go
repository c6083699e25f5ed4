package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

var cleanupNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestCleanupService(store *fakeStore) *CleanupService {
	svc := NewCleanupService(store, testConfigManager(), nopLogger())
	svc.now = func() time.Time { return cleanupNow }
	return svc
}

// agedMessage builds an active message created the given number of days ago.
func agedMessage(id string, priority model.Priority, ageDays int, recipients map[string]*model.RecipientState) *model.Message {
	return &model.Message{
		ID:         id,
		Title:      "t",
		Content:    "c",
		Type:       model.TypeAnnouncement,
		Priority:   priority,
		IsActive:   true,
		Recipients: recipients,
		CreatedAt:  cleanupNow.Add(-time.Duration(ageDays)*24*time.Hour - time.Hour),
	}
}

func dismissedState() *model.RecipientState {
	s := &model.RecipientState{}
	s.MarkRemovedFromBell(cleanupNow)
	return s
}

func readState() *model.RecipientState {
	s := &model.RecipientState{}
	s.MarkReadEverywhere(cleanupNow)
	return s
}

func seed(t *testing.T, store *fakeStore, messages ...*model.Message) {
	t.Helper()
	for _, m := range messages {
		require.NoError(t, store.Save(context.Background(), m))
	}
}

func TestCleanupAllDismissedWinsOverAgeRules(t *testing.T) {
	store := newFakeStore()
	// Old enough for the low-priority rule, but every recipient dismissed it,
	// so the first rule claims the attribution.
	seed(t, store, agedMessage("m1", model.PriorityLow, 120, map[string]*model.RecipientState{
		"alice": dismissedState(),
		"bob":   dismissedState(),
	}))

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DeletedCount)
	assert.Equal(t, 1, report.DeletionsByReason.AllRecipientsDismissed)
	assert.Equal(t, 0, report.DeletionsByReason.LowPriorityExpired)
	assert.Equal(t, 0, store.count())
}

func TestCleanupPriorityAgeThresholds(t *testing.T) {
	cases := []struct {
		name     string
		priority model.Priority
		ageDays  int
		deleted  bool
	}{
		{"low just under", model.PriorityLow, 89, false},
		{"low over", model.PriorityLow, 91, true},
		{"medium just under", model.PriorityMedium, 159, false},
		{"medium over", model.PriorityMedium, 161, true},
		{"high just under", model.PriorityHigh, 239, false},
		{"high over", model.PriorityHigh, 241, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			seed(t, store, agedMessage("m1", tc.priority, tc.ageDays, map[string]*model.RecipientState{"alice": {}}))

			report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
			require.NoError(t, err)

			if tc.deleted {
				assert.Equal(t, 1, report.DeletedCount)
				assert.Equal(t, 0, store.count())
			} else {
				assert.Equal(t, 0, report.DeletedCount)
				assert.Equal(t, 1, store.count())
			}
		})
	}
}

func TestCleanupHighPriorityAttribution(t *testing.T) {
	store := newFakeStore()
	seed(t, store, agedMessage("m1", model.PriorityHigh, 241, map[string]*model.RecipientState{"alice": {}}))

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DeletionsByReason.HighPriorityExpired)
}

func TestCleanupReadAndAged(t *testing.T) {
	store := newFakeStore()
	// High priority keeps it out of the age rules at 61 days, but every
	// recipient has interacted, so the read-and-aged rule applies.
	seed(t, store, agedMessage("m1", model.PriorityHigh, 61, map[string]*model.RecipientState{
		"alice": readState(),
		"bob":   dismissedState(),
	}))

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DeletionsByReason.ReadAndAged)
	assert.Equal(t, 0, store.count())
}

func TestCleanupReadAndAgedRequiresEveryRecipient(t *testing.T) {
	store := newFakeStore()
	seed(t, store, agedMessage("m1", model.PriorityHigh, 61, map[string]*model.RecipientState{
		"alice": readState(),
		"bob":   {},
	}))

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.DeletedCount)
	assert.Equal(t, 1, store.count())
}

func TestCleanupSkipsZeroRecipientMessages(t *testing.T) {
	store := newFakeStore()
	seed(t, store, agedMessage("m1", model.PriorityLow, 400, map[string]*model.RecipientState{}))

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ScannedCount)
	assert.Equal(t, 0, report.DeletedCount, "messages with no recipients are never eligible")
	assert.Equal(t, 1, store.count())
}

func TestCleanupScanFailureStillReportsTiming(t *testing.T) {
	store := newFakeStore()
	store.findActiveErr = errors.New("db gone")

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.ScannedCount)
	assert.GreaterOrEqual(t, report.ExecutionTimeMs, int64(0))
}

func TestCleanupDeletesInBatches(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		seed(t, store, agedMessage(string(rune('a'+i)), model.PriorityLow, 120, map[string]*model.RecipientState{"alice": {}}))
	}

	svc := NewCleanupService(store, config.NewManager(config.EngineConfig{
		EmailTimeout:      2 * time.Second,
		PushTimeout:       time.Second,
		RetentionLowDays:  90,
		RetentionMedDays:  160,
		RetentionHighDays: 240,
		RetentionReadDays: 60,
		BreakerCooldown:   time.Minute,
		CleanupBatchSize:  2,
		UnreadCacheTTL:    30 * time.Second,
	}, nopLogger()), nopLogger())
	svc.now = func() time.Time { return cleanupNow }

	report, err := svc.ExecuteCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.DeletedCount)
	assert.Equal(t, 0, store.count())
}

func TestCleanupDeleteFailureReturnsPartialReport(t *testing.T) {
	store := newFakeStore()
	seed(t, store, agedMessage("m1", model.PriorityLow, 120, map[string]*model.RecipientState{"alice": {}}))
	store.deleteManyErr = errors.New("deadlock")

	report, err := newTestCleanupService(store).ExecuteCleanup(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.ScannedCount)
	assert.Equal(t, 0, report.DeletedCount)
	assert.Equal(t, 1, report.DeletionsByReason.LowPriorityExpired, "classification happened before the failed delete")
}
