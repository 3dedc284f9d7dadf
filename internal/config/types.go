package config

import "github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"

// Config is the root configuration for the bot process.
type Config struct {
	Gateway    GatewayConfig           `yaml:"gateway,omitempty"`
	Logging    LoggingConfig           `yaml:"logging,omitempty"`
	Store      StoreConfig             `yaml:"store,omitempty"`
	Bridge     BridgeConfig            `yaml:"bridge,omitempty"`
	Sessions   SessionsConfig          `yaml:"sessions,omitempty"`
	Inference  InferenceConfig         `yaml:"inference,omitempty"`
	Media      MediaConfig             `yaml:"media,omitempty"`
	Delivery   DeliveryConfig          `yaml:"delivery,omitempty"`
	Escalation EscalationConfig        `yaml:"escalation,omitempty"`
	Tenants    []domain.BusinessConfig `yaml:"tenants,omitempty"`

	// TenantsFile is an optional YAML file with a `tenants:` list that is
	// watched and re-applied on change.
	TenantsFile string `yaml:"tenantsFile,omitempty"`
}

// GatewayConfig controls the control-plane HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password" | "none"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures browser access to the gateway.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// StoreConfig selects the SQLite database file.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // defaults to <data>/masitaprex.db
}

// BridgeConfig points at the external WhatsApp bridge process.
type BridgeConfig struct {
	URL                     string `yaml:"url,omitempty"` // ws://host:port/ws
	Token                   string `yaml:"token,omitempty"`
	CredentialsDir          string `yaml:"credentialsDir,omitempty"`
	HandshakeTimeoutSeconds int    `yaml:"handshakeTimeoutSeconds,omitempty"`
}

// SessionsConfig controls the connection state machine.
type SessionsConfig struct {
	ReconnectBaseMs      int           `yaml:"reconnectBaseMs,omitempty"`
	ReconnectMaxMs       int           `yaml:"reconnectMaxMs,omitempty"`
	ReconnectJitter      float64       `yaml:"reconnectJitter,omitempty"`
	MaxReconnectAttempts *int          `yaml:"maxReconnectAttempts,omitempty"` // 0 = unbounded
	Autostart            []SessionSeed `yaml:"autostart,omitempty"`
	DefaultTenant        string        `yaml:"defaultTenant,omitempty"`
}

// SessionSeed is a session created at startup.
type SessionSeed struct {
	ID     string `yaml:"id"`
	Tenant string `yaml:"tenant"`
}

// InferenceConfig configures the generative backends.
type InferenceConfig struct {
	TimeoutSeconds int            `yaml:"timeoutSeconds,omitempty"`
	Gemini         ProviderConfig `yaml:"gemini,omitempty"`
	OpenAI         ProviderConfig `yaml:"openai,omitempty"`
	Cohere         ProviderConfig `yaml:"cohere,omitempty"`
	VisionBackend  string         `yaml:"visionBackend,omitempty"` // "gemini" | "openai"
	Speech         SpeechConfig   `yaml:"speech,omitempty"`
}

// ProviderConfig holds credentials for one HTTP inference provider.
type ProviderConfig struct {
	APIKey      string   `yaml:"apiKey,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	BaseURL     string   `yaml:"baseUrl,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// SpeechConfig configures speech-to-text for voice notes.
type SpeechConfig struct {
	APIKey          string `yaml:"apiKey,omitempty"`
	AccessToken     string `yaml:"accessToken,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	LanguageCode    string `yaml:"languageCode,omitempty"`
	SampleRateHertz int64  `yaml:"sampleRateHertz,omitempty"`
	Encoding        string `yaml:"encoding,omitempty"`
}

// MediaConfig bounds remote media downloads.
type MediaConfig struct {
	TimeoutSeconds int   `yaml:"timeoutSeconds,omitempty"`
	MaxBytes       int64 `yaml:"maxBytes,omitempty"`
}

// DeliveryConfig shapes how replies are paced on the wire.
type DeliveryConfig struct {
	TypingMsPerChar int `yaml:"typingMsPerChar,omitempty"`
	TypingMaxMs     int `yaml:"typingMaxMs,omitempty"`
	SplitThreshold  int `yaml:"splitThreshold,omitempty"`
	SplitPauseMinMs int `yaml:"splitPauseMinMs,omitempty"`
	SplitPauseMaxMs int `yaml:"splitPauseMaxMs,omitempty"`
	BulkIntervalMs  int `yaml:"bulkIntervalMs,omitempty"`
}

// EscalationConfig configures how unresolved messages reach operators.
type EscalationConfig struct {
	WebhookTimeoutSeconds int             `yaml:"webhookTimeoutSeconds,omitempty"`
	Concurrency           int             `yaml:"concurrency,omitempty"`
	Telegram              *TelegramConfig `yaml:"telegram,omitempty"`
	IRC                   *IRCConfig      `yaml:"irc,omitempty"`
}

// TelegramConfig posts escalations to Telegram chats.
type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chatIds"`
}

// IRCConfig posts escalations to IRC channels.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}
