// Package config loads the service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	AMQP   AMQPConfig   `mapstructure:"amqp"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Path          string        `mapstructure:"path"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// LedgerConfig holds core ledger settings.
type LedgerConfig struct {
	DefaultCurrency string             `mapstructure:"default_currency"`
	HorizonMonths   int                `mapstructure:"horizon_months"`
	Rates           map[string]float64 `mapstructure:"rates"` // "USD/EUR" -> rate
}

// AMQPConfig configures the optional change-event publisher. Publishing
// is disabled when URL is empty.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file (optional) and from
// LEDGER_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.path", "ledger.db")
	v.SetDefault("store.retry_interval", 30*time.Second)
	v.SetDefault("ledger.default_currency", "USD")
	v.SetDefault("ledger.horizon_months", 3)
	v.SetDefault("amqp.exchange", "ledger.events")
	v.SetDefault("amqp.queue", "ledger.changes")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Ledger.HorizonMonths < 1 {
		return nil, fmt.Errorf("ledger.horizon_months must be at least 1")
	}
	return &cfg, nil
}
