package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// CleanupRunner executes one retention cleanup pass
type CleanupRunner interface {
	ExecuteCleanup(ctx context.Context) (*model.CleanupReport, error)
}

// ExpirySweeper retires messages whose expiry has passed
type ExpirySweeper interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// Status reports scheduler health for the health endpoint
type Status struct {
	Running    bool `json:"running"`
	ActiveJobs int  `json:"active_jobs"`
}

// Scheduler runs the engine's periodic jobs: daily retention cleanup, a
// daily stale-record sweep, and a short-interval expiry sweep. All jobs are
// independent of request handling and are cancelled as a group on Stop.
type Scheduler struct {
	cfg     config.SchedulerConfig
	cleanup CleanupRunner
	sweeper ExpirySweeper
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	handles []*handle
}

// handle is one cancellable scheduled job.
type handle struct {
	name string
	stop chan struct{}
}

// NewScheduler creates a scheduler. Nothing runs until Start is called.
func NewScheduler(cfg config.SchedulerConfig, cleanup CleanupRunner, sweeper ExpirySweeper, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		cleanup: cleanup,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start arms all periodic jobs. Calling Start on a running scheduler logs a
// warning and changes nothing. Under the disabled test flag Start is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Disabled {
		s.logger.Info("Scheduler disabled by configuration, skipping job setup")
		return
	}
	if s.running {
		s.logger.Warn("Scheduler already running, ignoring duplicate start")
		return
	}

	s.scheduleDaily(s.cfg.CleanupAt, "retention_cleanup", func(ctx context.Context) error {
		report, err := s.cleanup.ExecuteCleanup(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("Retention cleanup finished",
			zap.Int("deleted", report.DeletedCount),
			zap.Int("scanned", report.ScannedCount),
			zap.Int64("execution_ms", report.ExecutionTimeMs))
		return nil
	})

	s.scheduleDaily(s.cfg.StaleSweepAt, "stale_record_sweep", func(ctx context.Context) error {
		retired, err := s.sweeper.DeactivateExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		if retired > 0 {
			s.logger.Info("Stale record sweep retired messages", zap.Int("count", retired))
		}
		return nil
	})

	s.scheduleEvery(s.cfg.ExpirySweepInterval, s.cfg.ExpirySweepKick, "expiry_sweep", func(ctx context.Context) error {
		retired, err := s.sweeper.DeactivateExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		if retired > 0 {
			s.logger.Info("Expiry sweep retired messages", zap.Int("count", retired))
		}
		return nil
	})

	s.running = true
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.handles)))
}

// Stop cancels every outstanding job and resets the scheduler so it can be
// started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.handles {
		close(h.stop)
	}
	s.handles = nil
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// GetStatus reports whether the scheduler is running and how many jobs are
// armed.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, ActiveJobs: len(s.handles)}
}

// scheduleDaily arms a job that fires at the next wall-clock occurrence of
// at ("HH:MM") and then every 24 hours. Caller holds s.mu.
func (s *Scheduler) scheduleDaily(at, name string, fn func(context.Context) error) {
	h := &handle{name: name, stop: make(chan struct{})}
	s.handles = append(s.handles, h)

	go func() {
		delay := untilNext(at, time.Now())
		s.logger.Info("Daily job scheduled",
			zap.String("job", name),
			zap.String("at", at),
			zap.Duration("first_run_in", delay))

		timer := time.NewTimer(delay)
		defer timer.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-timer.C:
				s.runJob(name, fn)
				timer.Reset(24 * time.Hour)
			}
		}
	}()
}

// scheduleEvery arms a job that fires after initialDelay and then on a fixed
// interval. Caller holds s.mu.
func (s *Scheduler) scheduleEvery(interval, initialDelay time.Duration, name string, fn func(context.Context) error) {
	h := &handle{name: name, stop: make(chan struct{})}
	s.handles = append(s.handles, h)

	go func() {
		s.logger.Info("Interval job scheduled",
			zap.String("job", name),
			zap.Duration("interval", interval),
			zap.Duration("first_run_in", initialDelay))

		timer := time.NewTimer(initialDelay)
		defer timer.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-timer.C:
				s.runJob(name, fn)
				timer.Reset(interval)
			}
		}
	}()
}

// runJob executes one job body. Errors and panics are logged and swallowed;
// one failed run must never stop subsequent scheduled runs.
func (s *Scheduler) runJob(name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked",
				zap.String("job", name),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
	}
}

// untilNext computes the delay until the next wall-clock occurrence of
// at ("HH:MM"). A malformed time falls back to 02:00.
func untilNext(at string, now time.Time) time.Duration {
	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil || hour > 23 || minute > 59 {
		hour, minute = 2, 0
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
