package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// Deletion reasons, in rule-precedence order. The first matching rule wins
// the attribution.
const (
	reasonAllDismissed = "all_recipients_dismissed"
	reasonLowExpired   = "low_priority_expired"
	reasonMedExpired   = "medium_priority_expired"
	reasonHighExpired  = "high_priority_expired"
	reasonReadAndAged  = "read_and_aged"
)

// CleanupService scans active messages and permanently deletes the ones
// matching a retention rule. It takes no locks: every eligibility condition
// is permanently true once reached, so a record turning eligible mid-scan is
// simply caught on the next run.
type CleanupService struct {
	repo    MessageStore
	configs *config.Manager
	logger  *zap.Logger
	now     func() time.Time
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(repo MessageStore, configs *config.Manager, logger *zap.Logger) *CleanupService {
	return &CleanupService{
		repo:    repo,
		configs: configs,
		logger:  logger,
		now:     time.Now,
	}
}

// ExecuteCleanup runs one full retention pass: scan every active message,
// collect the ids matching a rule, then delete them in batches at the end.
// The execution time is recorded on the report even when the scan or the
// batch delete fails, so the caller still learns how long the attempt ran.
func (s *CleanupService) ExecuteCleanup(ctx context.Context) (report *model.CleanupReport, err error) {
	started := time.Now()
	report = &model.CleanupReport{}
	defer func() {
		report.ExecutionTimeMs = time.Since(started).Milliseconds()
	}()

	messages, err := s.repo.FindActive(ctx)
	if err != nil {
		s.logger.Error("Cleanup scan failed", zap.Error(err))
		return report, err
	}
	report.ScannedCount = len(messages)

	now := s.now()
	engine := s.configs.Engine()

	var doomed []string
	for _, m := range messages {
		reason, eligible := s.classify(m, now, engine)
		if !eligible {
			continue
		}

		doomed = append(doomed, m.ID)
		switch reason {
		case reasonAllDismissed:
			report.DeletionsByReason.AllRecipientsDismissed++
		case reasonLowExpired:
			report.DeletionsByReason.LowPriorityExpired++
		case reasonMedExpired:
			report.DeletionsByReason.MediumPriorityExpired++
		case reasonHighExpired:
			report.DeletionsByReason.HighPriorityExpired++
		case reasonReadAndAged:
			report.DeletionsByReason.ReadAndAged++
		}
	}

	batchSize := engine.CleanupBatchSize
	if batchSize <= 0 {
		batchSize = len(doomed)
	}
	for start := 0; start < len(doomed); start += batchSize {
		end := start + batchSize
		if end > len(doomed) {
			end = len(doomed)
		}
		deleted, err := s.repo.DeleteMany(ctx, doomed[start:end])
		report.DeletedCount += deleted
		if err != nil {
			s.logger.Error("Cleanup batch delete failed",
				zap.Int("batch_start", start),
				zap.Error(err))
			return report, err
		}
	}

	s.logger.Info("Cleanup completed",
		zap.Int("scanned", report.ScannedCount),
		zap.Int("deleted", report.DeletedCount),
		zap.Int64("execution_ms", time.Since(started).Milliseconds()))

	return report, nil
}

// classify applies the retention rules in order and returns the first match.
// Messages with no recipients are never eligible.
func (s *CleanupService) classify(m *model.Message, now time.Time, engine config.EngineConfig) (string, bool) {
	if len(m.Recipients) == 0 {
		return "", false
	}

	age := m.Age(now)

	// Rule 1: every recipient has dropped the message from at least one view.
	allDismissed := true
	for _, state := range m.Recipients {
		if !state.Dismissed() {
			allDismissed = false
			break
		}
	}
	if allDismissed {
		return reasonAllDismissed, true
	}

	// Rules 2-4: priority-based age limits.
	switch m.Priority {
	case model.PriorityLow:
		if age > days(engine.RetentionLowDays) {
			return reasonLowExpired, true
		}
	case model.PriorityMedium:
		if age > days(engine.RetentionMedDays) {
			return reasonMedExpired, true
		}
	case model.PriorityHigh:
		if age > days(engine.RetentionHighDays) {
			return reasonHighExpired, true
		}
	}

	// Rule 5: old enough and every recipient has at least interacted.
	if age > days(engine.RetentionReadDays) {
		allInteracted := true
		for _, state := range m.Recipients {
			if !state.Interacted() {
				allInteracted = false
				break
			}
		}
		if allInteracted {
			return reasonReadAndAged, true
		}
	}

	return "", false
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
