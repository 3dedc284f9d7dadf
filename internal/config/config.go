package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultMaxReconnectAttempts bounds reconnects when the config leaves it unset.
const DefaultMaxReconnectAttempts = 10

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{
		Gateway: GatewayConfig{
			Port: 3000,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
	applyDefaults(&cfg)
	return cfg
}

// ReconnectBase returns the first reconnect delay.
func (s SessionsConfig) ReconnectBase() time.Duration {
	return time.Duration(s.ReconnectBaseMs) * time.Millisecond
}

// ReconnectMax returns the reconnect delay cap.
func (s SessionsConfig) ReconnectMax() time.Duration {
	return time.Duration(s.ReconnectMaxMs) * time.Millisecond
}

// MaxAttempts returns the reconnect bound; 0 means unbounded.
func (s SessionsConfig) MaxAttempts() int {
	if s.MaxReconnectAttempts == nil {
		return DefaultMaxReconnectAttempts
	}
	return *s.MaxReconnectAttempts
}

// Timeout returns the per-call inference deadline.
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the media download deadline.
func (c MediaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookTimeout returns the escalation webhook deadline.
func (c EscalationConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// BulkInterval returns the pause between recipients of a bulk send.
func (c DeliveryConfig) BulkInterval() time.Duration {
	return time.Duration(c.BulkIntervalMs) * time.Millisecond
}
