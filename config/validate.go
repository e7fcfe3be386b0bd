package config

import "github.com/veyra/listwatch/errors"

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	if c.Engine.IntervalSeconds <= 0 {
		return errors.Newf("engine.interval_seconds must be > 0, got %d", c.Engine.IntervalSeconds)
	}
	if c.Engine.MonitorDelaySeconds < 0 {
		return errors.Newf("engine.monitor_delay_seconds must be >= 0, got %d", c.Engine.MonitorDelaySeconds)
	}
	if c.Engine.ChannelDelayMS < 0 {
		return errors.Newf("engine.channel_delay_ms must be >= 0, got %d", c.Engine.ChannelDelayMS)
	}

	if c.Queue.Workers <= 0 {
		return errors.Newf("queue.workers must be > 0, got %d", c.Queue.Workers)
	}
	if c.Queue.RatePerMinute < 0 {
		return errors.Newf("queue.rate_per_minute must be >= 0, got %d", c.Queue.RatePerMinute)
	}
	if c.Queue.MaxAttempts <= 0 {
		return errors.Newf("queue.max_attempts must be > 0, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BackoffBaseSeconds < 0 {
		return errors.Newf("queue.backoff_base_seconds must be >= 0, got %d", c.Queue.BackoffBaseSeconds)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return errors.Newf("breaker.failure_threshold must be > 0, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.OpenTimeoutSeconds <= 0 {
		return errors.Newf("breaker.open_timeout_seconds must be > 0, got %d", c.Breaker.OpenTimeoutSeconds)
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}

	if c.Scraper.URL == "" {
		return errors.New("scraper.url cannot be empty")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return errors.Newf("scraper.timeout_seconds must be > 0, got %d", c.Scraper.TimeoutSeconds)
	}

	return nil
}
