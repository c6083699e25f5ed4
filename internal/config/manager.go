package config

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// Tunable paths accepted by Manager.UpdateConfig.
const (
	PathEmailTimeout      = "engine.emailTimeout"
	PathPushTimeout       = "engine.pushTimeout"
	PathRetentionLowDays  = "engine.retentionLowDays"
	PathRetentionMedDays  = "engine.retentionMedDays"
	PathRetentionHighDays = "engine.retentionHighDays"
	PathRetentionReadDays = "engine.retentionReadDays"
	PathBreakerCooldown   = "engine.breakerCooldown"
	PathCleanupBatchSize  = "engine.cleanupBatchSize"
)

// Safety floors. Updates below these are rejected outright: a too-short
// timeout or retention window can silently destroy deliverability or data.
const (
	minEmailTimeout     = 1 * time.Second
	minPushTimeout      = 500 * time.Millisecond
	minRetentionLowDays = 30
	minRetentionMedDays = 60
	minRetentionHiDays  = 90
	minRetentionRdDays  = 30
	minBreakerCooldown  = 10 * time.Second
	minCleanupBatch     = 1
	maxCleanupBatch     = 5000
)

// UpdateEntry records one accepted runtime configuration change
type UpdateEntry struct {
	Path      string      `json:"path"`
	Value     interface{} `json:"value"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// ValidationReport is the outcome of validating the whole engine subtree
type ValidationReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Manager owns the runtime-tunable engine configuration. Reads return a
// snapshot; writes are floor-validated and appended to an audit history.
type Manager struct {
	mu      sync.RWMutex
	engine  EngineConfig
	history []UpdateEntry
	logger  *zap.Logger
}

// NewManager creates a config manager seeded from the loaded configuration
func NewManager(engine EngineConfig, logger *zap.Logger) *Manager {
	return &Manager{
		engine: engine,
		logger: logger,
	}
}

// Engine returns a snapshot of the current engine configuration.
func (m *Manager) Engine() EngineConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine
}

// UpdateConfig applies one validated change to the live configuration.
// Returns false and leaves the configuration untouched when the path is
// unknown or the value fails its floor check.
func (m *Manager) UpdateConfig(path string, value interface{}, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(path, value); err != nil {
		m.logger.Warn("Config update rejected",
			zap.String("path", path),
			zap.Any("value", value),
			zap.Error(err))
		return false
	}

	m.history = append(m.history, UpdateEntry{
		Path:      path,
		Value:     value,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	m.logger.Info("Config updated",
		zap.String("path", path),
		zap.Any("value", value),
		zap.String("reason", reason))

	return true
}

func (m *Manager) apply(path string, value interface{}) error {
	switch path {
	case PathEmailTimeout:
		d, err := asDuration(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if d < minEmailTimeout {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %s", minEmailTimeout)}
		}
		m.engine.EmailTimeout = d
	case PathPushTimeout:
		d, err := asDuration(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if d < minPushTimeout {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %s", minPushTimeout)}
		}
		m.engine.PushTimeout = d
	case PathRetentionLowDays:
		n, err := asInt(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if n < minRetentionLowDays {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %d days", minRetentionLowDays)}
		}
		m.engine.RetentionLowDays = n
	case PathRetentionMedDays:
		n, err := asInt(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if n < minRetentionMedDays {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %d days", minRetentionMedDays)}
		}
		m.engine.RetentionMedDays = n
	case PathRetentionHighDays:
		n, err := asInt(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if n < minRetentionHiDays {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %d days", minRetentionHiDays)}
		}
		m.engine.RetentionHighDays = n
	case PathRetentionReadDays:
		n, err := asInt(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if n < minRetentionRdDays {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %d days", minRetentionRdDays)}
		}
		m.engine.RetentionReadDays = n
	case PathBreakerCooldown:
		d, err := asDuration(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if d < minBreakerCooldown {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("below floor %s", minBreakerCooldown)}
		}
		m.engine.BreakerCooldown = d
	case PathCleanupBatchSize:
		n, err := asInt(value)
		if err != nil {
			return &model.ConfigValidationError{Path: path, Reason: err.Error()}
		}
		if n < minCleanupBatch || n > maxCleanupBatch {
			return &model.ConfigValidationError{Path: path, Reason: fmt.Sprintf("outside range %d..%d", minCleanupBatch, maxCleanupBatch)}
		}
		m.engine.CleanupBatchSize = n
	default:
		return &model.ConfigValidationError{Path: path, Reason: "unknown path"}
	}
	return nil
}

// ValidateConfig checks the whole engine subtree, as done once at startup.
func (m *Manager) ValidateConfig() ValidationReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []string
	if m.engine.EmailTimeout < minEmailTimeout {
		errs = append(errs, fmt.Sprintf("%s below floor %s", PathEmailTimeout, minEmailTimeout))
	}
	if m.engine.PushTimeout < minPushTimeout {
		errs = append(errs, fmt.Sprintf("%s below floor %s", PathPushTimeout, minPushTimeout))
	}
	if m.engine.RetentionLowDays < minRetentionLowDays {
		errs = append(errs, fmt.Sprintf("%s below floor %d", PathRetentionLowDays, minRetentionLowDays))
	}
	if m.engine.RetentionMedDays < minRetentionMedDays {
		errs = append(errs, fmt.Sprintf("%s below floor %d", PathRetentionMedDays, minRetentionMedDays))
	}
	if m.engine.RetentionHighDays < minRetentionHiDays {
		errs = append(errs, fmt.Sprintf("%s below floor %d", PathRetentionHighDays, minRetentionHiDays))
	}
	if m.engine.RetentionReadDays < minRetentionRdDays {
		errs = append(errs, fmt.Sprintf("%s below floor %d", PathRetentionReadDays, minRetentionRdDays))
	}
	if m.engine.BreakerCooldown < minBreakerCooldown {
		errs = append(errs, fmt.Sprintf("%s below floor %s", PathBreakerCooldown, minBreakerCooldown))
	}
	if m.engine.CleanupBatchSize < minCleanupBatch || m.engine.CleanupBatchSize > maxCleanupBatch {
		errs = append(errs, fmt.Sprintf("%s outside range %d..%d", PathCleanupBatchSize, minCleanupBatch, maxCleanupBatch))
	}

	return ValidationReport{Valid: len(errs) == 0, Errors: errs}
}

// History returns a copy of the accepted-update audit log.
func (m *Manager) History() []UpdateEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]UpdateEntry, len(m.history))
	copy(out, m.history)
	return out
}

func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("not a duration: %q", v)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
}

func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("unsupported integer type %T", value)
	}
}
