package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Credit    CreditConfig    `mapstructure:"credit" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// WorkerConfig contains the worker pool settings.
type WorkerConfig struct {
	Count         int           `mapstructure:"count" validate:"required,gte=1,lte=64"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"required"`
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"required"`
}

// SchedulerConfig contains the dispatcher settings.
type SchedulerConfig struct {
	ReminderBatchSize int           `mapstructure:"reminder_batch_size" validate:"gte=1"`
	CatchUpBatchSize  int           `mapstructure:"catch_up_batch_size" validate:"gte=1"`
	ActiveWindow      time.Duration `mapstructure:"active_window"`
}

// CreditConfig contains the credit ledger settings.
type CreditConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	StreakWindow time.Duration `mapstructure:"streak_window"`
	MaxCatchUp   int           `mapstructure:"max_catch_up" validate:"gte=1"`
}
