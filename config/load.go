package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/veyra/listwatch/errors"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "listwatch.db")

	v.SetDefault("engine.interval_seconds", 300)
	v.SetDefault("engine.monitor_delay_seconds", 10)
	v.SetDefault("engine.channel_delay_ms", 1000)

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.rate_per_minute", 10)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_seconds", 30)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_timeout_seconds", 900)

	v.SetDefault("server.addr", ":8710")

	v.SetDefault("scraper.url", "http://localhost:8720")
	v.SetDefault("scraper.timeout_seconds", 60)

	v.SetDefault("log.json", false)
}

// newViper builds a viper instance with defaults and env binding.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("LISTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from defaults and environment only.
func Load() (*Config, error) {
	return unmarshal(newViper())
}

// LoadFromFile reads configuration from a TOML file layered over defaults
// and environment variables.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
