// Package config loads engine configuration from TOML files and
// LISTWATCH_-prefixed environment variables.
package config

import "time"

// Config is the engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Server   ServerConfig   `mapstructure:"server"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures monitor scheduling and alert pacing.
type EngineConfig struct {
	IntervalSeconds     int `mapstructure:"interval_seconds"`      // how often monitors come due (default: 300)
	MonitorDelaySeconds int `mapstructure:"monitor_delay_seconds"` // loop mode spacing between monitors (default: 10)
	ChannelDelayMS      int `mapstructure:"channel_delay_ms"`      // spacing between sends on one alert channel (default: 1000)
}

// Interval returns the tick interval as a duration.
func (c EngineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MonitorDelay returns the loop-mode inter-monitor delay as a duration.
func (c EngineConfig) MonitorDelay() time.Duration {
	return time.Duration(c.MonitorDelaySeconds) * time.Second
}

// ChannelDelay returns the per-channel alert pacing as a duration.
func (c EngineConfig) ChannelDelay() time.Duration {
	return time.Duration(c.ChannelDelayMS) * time.Millisecond
}

// QueueConfig configures queue mode. When Enabled is false the engine runs
// the sequential loop instead.
type QueueConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	Workers            int  `mapstructure:"workers"`              // concurrent job workers (default: 5)
	RatePerMinute      int  `mapstructure:"rate_per_minute"`      // global job starts per minute (default: 10)
	MaxAttempts        int  `mapstructure:"max_attempts"`         // attempts before dead-letter (default: 3)
	BackoffBaseSeconds int  `mapstructure:"backoff_base_seconds"` // first retry delay, doubles per attempt (default: 30)
}

// BackoffBase returns the first retry delay as a duration.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BreakerConfig configures the per-site circuit breaker.
type BreakerConfig struct {
	FailureThreshold   int `mapstructure:"failure_threshold"`    // consecutive failures before opening (default: 5)
	OpenTimeoutSeconds int `mapstructure:"open_timeout_seconds"` // cooldown before a half-open probe (default: 900)
}

// OpenTimeout returns the breaker cooldown as a duration.
func (c BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSeconds) * time.Second
}

// ServerConfig configures the health endpoint.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ScraperConfig points at the scraper service the engine calls for
// listings. Scraping itself lives outside the engine.
type ScraperConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // per-scrape request timeout (default: 60)
}

// Timeout returns the scrape request timeout as a duration.
func (c ScraperConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AlertsConfig configures notification channel credentials. A channel is
// wired only when its credentials are set.
type AlertsConfig struct {
	TelegramToken string `mapstructure:"telegram_token"`
}

// LogConfig configures logging output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}
