// Package config provides configuration parsing and validation for the
// engine.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration parameters for the engine.
type Config struct {
	KafkaBrokers    string
	EventsTopic     string
	AuditTopic      string
	ConsumerGroupID string

	RedisAddr   string
	PostgresDSN string // empty runs the in-memory rule store

	DebounceWindow     time.Duration
	ScanInterval       time.Duration
	QuietFlushInterval time.Duration
	WebhookTimeout     time.Duration

	ProactiveInterval      time.Duration
	ProactiveMinConfidence int
	ProactiveAlertTTL      time.Duration
}

// Validate checks that all required configuration fields are set and have
// valid values. Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.EventsTopic == "" {
		return fmt.Errorf("events-topic cannot be empty")
	}
	if c.AuditTopic == "" {
		return fmt.Errorf("audit-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce-window must be > 0")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan-interval must be > 0")
	}
	if c.QuietFlushInterval <= 0 {
		return fmt.Errorf("quiet-flush-interval must be > 0")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook-timeout must be > 0")
	}
	if c.ProactiveInterval <= 0 {
		return fmt.Errorf("proactive-interval must be > 0")
	}
	if c.ProactiveMinConfidence < 0 || c.ProactiveMinConfidence > 100 {
		return fmt.Errorf("proactive-min-confidence must be 0-100")
	}
	return nil
}
