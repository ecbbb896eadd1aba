package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables with the STRIDE_
// prefix. Nested keys use underscores: STRIDE_DATABASE_URL maps to
// database.url. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("STRIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys to Unmarshal;
	// each key has to be bound explicitly.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env key %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.lease_duration", 5*time.Minute)

	v.SetDefault("scheduler.reminder_batch_size", 500)
	v.SetDefault("scheduler.catch_up_batch_size", 1000)
	v.SetDefault("scheduler.active_window", 48*time.Hour)

	v.SetDefault("credit.grace_period", 72*time.Hour)
	v.SetDefault("credit.streak_window", 365*24*time.Hour)
	v.SetDefault("credit.max_catch_up", 100)
}
