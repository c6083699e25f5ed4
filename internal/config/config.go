package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Email     EmailConfig
	Identity  IdentityConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string
	ServiceKey   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis specific configuration
type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
}

// KafkaConfig holds Kafka specific configuration
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	RealtimeTopic string
	ClientID      string
}

// EmailConfig holds SMTP channel configuration
type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// IdentityConfig holds user service client configuration
type IdentityConfig struct {
	URL        string
	ServiceKey string
}

// EngineConfig holds the runtime-tunable engine thresholds. Runtime updates
// go through the Manager, which validates floors and keeps an audit history.
type EngineConfig struct {
	EmailTimeout      time.Duration
	PushTimeout       time.Duration
	RetentionLowDays  int
	RetentionMedDays  int
	RetentionHighDays int
	RetentionReadDays int
	BreakerCooldown   time.Duration
	CleanupBatchSize  int
	UnreadCacheTTL    time.Duration
}

// SchedulerConfig holds periodic job configuration
type SchedulerConfig struct {
	Disabled            bool
	CleanupAt           string
	StaleSweepAt        string
	ExpirySweepInterval time.Duration
	ExpirySweepKick     time.Duration
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Read from environment variables
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")

	// Database defaults
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Kafka defaults
	v.SetDefault("kafka.realtimeTopic", "notification-realtime")
	v.SetDefault("kafka.clientID", "notification-service")

	// Engine defaults
	v.SetDefault("engine.emailTimeout", "30s")
	v.SetDefault("engine.pushTimeout", "5s")
	v.SetDefault("engine.retentionLowDays", 90)
	v.SetDefault("engine.retentionMedDays", 160)
	v.SetDefault("engine.retentionHighDays", 240)
	v.SetDefault("engine.retentionReadDays", 60)
	v.SetDefault("engine.breakerCooldown", "60s")
	v.SetDefault("engine.cleanupBatchSize", 500)
	v.SetDefault("engine.unreadCacheTTL", "30s")

	// Scheduler defaults
	v.SetDefault("scheduler.cleanupAt", "02:00")
	v.SetDefault("scheduler.staleSweepAt", "03:00")
	v.SetDefault("scheduler.expirySweepInterval", "15m")
	v.SetDefault("scheduler.expirySweepKick", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
