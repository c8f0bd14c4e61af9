package scheduler

import "time"

type Config struct {
	RunInterval    time.Duration
	JobTimeout     time.Duration
	ExpiryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		JobTimeout:     30 * time.Second,
		ExpiryInterval: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = defaults.ExpiryInterval
	}
	return c
}
