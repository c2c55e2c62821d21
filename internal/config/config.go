package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	App struct {
		Name string
	}
	HTTP struct {
		Addr string
	}
	Assignment struct {
		Interval time.Duration
	}
	Resilience struct {
		MaxRetries        int
		BaseRetryDelay    time.Duration
		PerAttemptTimeout time.Duration
	}
	History struct {
		Enabled   bool
		Path      string
		Retention time.Duration
	}
	NATS struct {
		Enabled        bool
		URLs           []string
		MaxReconnects  int
		ReconnectWait  time.Duration
		ConnectTimeout time.Duration
	}
}

// Load reads the configuration from the given directory, falling back to
// defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetDefault("app.name", "coordinator")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("assignment.interval", 500*time.Millisecond)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_retry_delay", 200*time.Millisecond)
	v.SetDefault("resilience.per_attempt_timeout", 10*time.Second)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "task_archive.db")
	v.SetDefault("history.retention", 30*24*time.Hour)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.Name = v.GetString("app.name")
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.Assignment.Interval = v.GetDuration("assignment.interval")
	cfg.Resilience.MaxRetries = v.GetInt("resilience.max_retries")
	cfg.Resilience.BaseRetryDelay = v.GetDuration("resilience.base_retry_delay")
	cfg.Resilience.PerAttemptTimeout = v.GetDuration("resilience.per_attempt_timeout")
	cfg.History.Enabled = v.GetBool("history.enabled")
	cfg.History.Path = v.GetString("history.path")
	cfg.History.Retention = v.GetDuration("history.retention")
	cfg.NATS.Enabled = v.GetBool("nats.enabled")
	cfg.NATS.URLs = v.GetStringSlice("nats.urls")
	cfg.NATS.MaxReconnects = v.GetInt("nats.max_reconnects")
	cfg.NATS.ReconnectWait = v.GetDuration("nats.reconnect_wait")
	cfg.NATS.ConnectTimeout = v.GetDuration("nats.connect_timeout")

	return cfg, nil
}
