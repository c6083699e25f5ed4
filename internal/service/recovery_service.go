package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// Delivery channels tracked by the recovery policy.
const (
	ChannelEmail    = "email"
	ChannelRealtime = "realtime"
	ChannelStorage  = "storage"
)

// RecoveryAction is the decision for one handled failure
type RecoveryAction string

// Escalation ladder: repeated failures on a channel move from scheduled
// retries to queueing to an open breaker.
const (
	ActionRetryScheduled RecoveryAction = "retry_scheduled"
	ActionQueued         RecoveryAction = "queued"
	ActionCircuitOpen    RecoveryAction = "circuit_open"
)

// Error categories used for statistics and classification.
const (
	CategoryValidation = "validation"
	CategoryTransient  = "channel_transient"
	CategorySaturated  = "channel_saturated"
	CategoryStorage    = "storage"
	CategoryUnknown    = "unknown"
)

const (
	queueThreshold   = 3
	circuitThreshold = 6
)

// RecoveryDecision is the outcome of HandleFailure
type RecoveryDecision struct {
	Action  RecoveryAction `json:"action"`
	RetryIn time.Duration  `json:"retry_in,omitempty"`
}

// RecoveryStats are process-lifetime error counters, reset only by explicit
// administrative or test action.
type RecoveryStats struct {
	TotalErrors int64            `json:"total_errors"`
	ByCategory  map[string]int64 `json:"by_category"`
	ByChannel   map[string]int64 `json:"by_channel"`
}

// channelState tracks consecutive failures and the breaker for one channel.
type channelState struct {
	failures int
	backoff  *backoff.ExponentialBackOff
	open     bool
	openedAt time.Time
}

// RecoveryService classifies delivery failures and decides how to recover:
// schedule a retry, queue the work, or open the channel's circuit breaker.
type RecoveryService struct {
	configs *config.Manager
	logger  *zap.Logger

	mu       sync.Mutex
	channels map[string]*channelState
	stats    RecoveryStats
	now      func() time.Time
}

// NewRecoveryService creates a new recovery service
func NewRecoveryService(configs *config.Manager, logger *zap.Logger) *RecoveryService {
	return &RecoveryService{
		configs:  configs,
		logger:   logger,
		channels: make(map[string]*channelState),
		stats: RecoveryStats{
			ByCategory: make(map[string]int64),
			ByChannel:  make(map[string]int64),
		},
		now: time.Now,
	}
}

// Classify maps an error to its category by type, not by message text.
func Classify(err error) string {
	var (
		validationErr *model.ValidationError
		transientErr  *model.ChannelTransientError
		circuitErr    *model.ChannelCircuitError
		storageErr    *model.StorageError
	)
	switch {
	case errors.As(err, &validationErr):
		return CategoryValidation
	case errors.As(err, &circuitErr):
		return CategorySaturated
	case errors.As(err, &transientErr):
		return CategoryTransient
	case errors.As(err, &storageErr):
		return CategoryStorage
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	default:
		return CategoryUnknown
	}
}

// HandleFailure records one failure on a channel and returns the recovery
// decision. Consecutive channel-caused failures escalate retry_scheduled ->
// queued -> circuit_open; the breaker stays open until the configured
// cooldown elapses. Validation failures are caller mistakes and rejected
// circuit attempts report the breaker that is already open; neither advances
// a shared channel's failure streak.
func (s *RecoveryService) HandleFailure(err error, channel string) RecoveryDecision {
	category := Classify(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalErrors++
	s.stats.ByCategory[category]++
	s.stats.ByChannel[channel]++

	st := s.channelState(channel)

	var decision RecoveryDecision
	switch category {
	case CategoryValidation:
		decision = RecoveryDecision{Action: ActionRetryScheduled}
	case CategorySaturated:
		decision = RecoveryDecision{Action: ActionCircuitOpen, RetryIn: s.configs.Engine().BreakerCooldown}
	default:
		st.failures++
		switch {
		case st.failures >= circuitThreshold:
			if !st.open {
				st.open = true
				st.openedAt = s.now()
				s.logger.Warn("Circuit opened",
					zap.String("channel", channel),
					zap.Int("consecutive_failures", st.failures))
			}
			decision = RecoveryDecision{Action: ActionCircuitOpen, RetryIn: s.configs.Engine().BreakerCooldown}
		case st.failures >= queueThreshold:
			decision = RecoveryDecision{Action: ActionQueued}
		default:
			decision = RecoveryDecision{Action: ActionRetryScheduled, RetryIn: st.backoff.NextBackOff()}
		}
	}

	s.logger.Info("Failure handled",
		zap.String("channel", channel),
		zap.String("category", category),
		zap.String("action", string(decision.Action)),
		zap.Error(err))

	return decision
}

// Allow reports whether the channel may be attempted. An open breaker
// short-circuits attempts until the cooldown elapses, after which the
// channel is given a fresh start.
func (s *RecoveryService) Allow(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.channelState(channel)
	if !st.open {
		return true
	}

	cooldown := s.configs.Engine().BreakerCooldown
	if s.now().Sub(st.openedAt) < cooldown {
		return false
	}

	st.open = false
	st.failures = 0
	st.backoff.Reset()
	s.logger.Info("Circuit cooldown elapsed, closing breaker", zap.String("channel", channel))
	return true
}

// RecordSuccess resets a channel's failure streak after a successful attempt.
func (s *RecoveryService) RecordSuccess(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.channelState(channel)
	st.failures = 0
	st.open = false
	st.backoff.Reset()
}

// Stats returns a snapshot of the process-lifetime error counters.
func (s *RecoveryService) Stats() RecoveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := RecoveryStats{
		TotalErrors: s.stats.TotalErrors,
		ByCategory:  make(map[string]int64, len(s.stats.ByCategory)),
		ByChannel:   make(map[string]int64, len(s.stats.ByChannel)),
	}
	for k, v := range s.stats.ByCategory {
		snapshot.ByCategory[k] = v
	}
	for k, v := range s.stats.ByChannel {
		snapshot.ByChannel[k] = v
	}
	return snapshot
}

// Reset clears all counters and breakers. Test and administrative use only.
func (s *RecoveryService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels = make(map[string]*channelState)
	s.stats = RecoveryStats{
		ByCategory: make(map[string]int64),
		ByChannel:  make(map[string]int64),
	}
}

// channelState returns the tracked state for a channel, creating it on first
// use. Caller holds s.mu.
func (s *RecoveryService) channelState(channel string) *channelState {
	st, ok := s.channels[channel]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 0
		st = &channelState{backoff: b}
		s.channels[channel] = st
	}
	return st
}
