package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}

	validAuthModes := []string{"token", "password", "none"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// Bridge validation
	if cfg.Bridge.URL != "" {
		u, err := url.Parse(cfg.Bridge.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add("bridge.url", "must be a ws:// or wss:// url, got %q", cfg.Bridge.URL)
		}
	}

	// Session validation
	if cfg.Sessions.MaxReconnectAttempts != nil && *cfg.Sessions.MaxReconnectAttempts < 0 {
		add("sessions.maxReconnectAttempts", "must not be negative")
	}
	if cfg.Sessions.ReconnectJitter < 0 || cfg.Sessions.ReconnectJitter >= 1 {
		add("sessions.reconnectJitter", "must be in [0, 1), got %v", cfg.Sessions.ReconnectJitter)
	}
	if cfg.Sessions.ReconnectMaxMs < cfg.Sessions.ReconnectBaseMs {
		add("sessions.reconnectMaxMs", "must not be below reconnectBaseMs")
	}

	// Inference validation
	validVision := []string{"gemini", "openai"}
	if cfg.Inference.VisionBackend != "" && !slices.Contains(validVision, cfg.Inference.VisionBackend) {
		add("inference.visionBackend", "must be one of %v, got %q", validVision, cfg.Inference.VisionBackend)
	}
	if cfg.Inference.TimeoutSeconds < 0 {
		add("inference.timeoutSeconds", "must not be negative")
	}

	// Escalation notifiers (only if configured)
	if tg := cfg.Escalation.Telegram; tg != nil {
		if tg.Token == "" {
			add("escalation.telegram.token", "token is required")
		}
		if len(tg.ChatIDs) == 0 {
			add("escalation.telegram.chatIds", "at least one chat id is required")
		}
	}
	if irc := cfg.Escalation.IRC; irc != nil {
		if irc.Server == "" {
			add("escalation.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("escalation.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("escalation.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("escalation.irc.sasl", "SASL requires a password to be set")
		}
	}

	// Tenants
	seen := map[string]bool{}
	for i, t := range cfg.Tenants {
		path := fmt.Sprintf("tenants[%d]", i)
		if seen[t.TenantID] {
			add(path+".id", "duplicate tenant id %q", t.TenantID)
		}
		seen[t.TenantID] = true
		if err := t.Validate(); err != nil {
			for _, e := range unwrapAll(err) {
				add(path, "%v", e)
			}
		}
	}
	for i, s := range cfg.Sessions.Autostart {
		if s.ID == "" {
			add(fmt.Sprintf("sessions.autostart[%d].id", i), "id is required")
		}
	}

	return issues
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// TenantIDs lists the configured tenant ids in order.
func TenantIDs(tenants []domain.BusinessConfig) []string {
	ids := make([]string, 0, len(tenants))
	for _, t := range tenants {
		ids = append(ids, t.TenantID)
	}
	return ids
}
