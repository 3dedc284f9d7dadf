package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Bridge.Token = expandEnvVars(cfg.Bridge.Token)
	cfg.Inference.Gemini.APIKey = expandEnvVars(cfg.Inference.Gemini.APIKey)
	cfg.Inference.OpenAI.APIKey = expandEnvVars(cfg.Inference.OpenAI.APIKey)
	cfg.Inference.Cohere.APIKey = expandEnvVars(cfg.Inference.Cohere.APIKey)
	cfg.Inference.Speech.APIKey = expandEnvVars(cfg.Inference.Speech.APIKey)
	cfg.Inference.Speech.AccessToken = expandEnvVars(cfg.Inference.Speech.AccessToken)
	if cfg.Escalation.Telegram != nil {
		cfg.Escalation.Telegram.Token = expandEnvVars(cfg.Escalation.Telegram.Token)
	}
	if cfg.Escalation.IRC != nil {
		cfg.Escalation.IRC.Password = expandEnvVars(cfg.Escalation.IRC.Password)
	}
	for i := range cfg.Tenants {
		cfg.Tenants[i].WebhookTarget = expandEnvVars(cfg.Tenants[i].WebhookTarget)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// tenantsFile is the shape of a standalone tenant seed file.
type tenantsFile struct {
	Tenants []domain.BusinessConfig `yaml:"tenants"`
}

// LoadTenantsFile reads a YAML file holding a `tenants:` list.
func LoadTenantsFile(path string) ([]domain.BusinessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f tenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigError{Message: "failed to parse tenants file: " + err.Error()}
	}
	for i := range f.Tenants {
		f.Tenants[i].WebhookTarget = expandEnvVars(f.Tenants[i].WebhookTarget)
	}
	return f.Tenants, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 3000
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Bridge.HandshakeTimeoutSeconds == 0 {
		cfg.Bridge.HandshakeTimeoutSeconds = 10
	}
	if cfg.Sessions.ReconnectBaseMs == 0 {
		cfg.Sessions.ReconnectBaseMs = 2000
	}
	if cfg.Sessions.ReconnectMaxMs == 0 {
		cfg.Sessions.ReconnectMaxMs = 60000
	}
	if cfg.Sessions.ReconnectJitter == 0 {
		cfg.Sessions.ReconnectJitter = 0.2
	}
	if cfg.Sessions.DefaultTenant == "" {
		cfg.Sessions.DefaultTenant = "default"
	}
	if cfg.Inference.TimeoutSeconds == 0 {
		cfg.Inference.TimeoutSeconds = 20
	}
	if cfg.Inference.Gemini.Model == "" {
		cfg.Inference.Gemini.Model = "gemini-2.5-flash"
	}
	if cfg.Inference.OpenAI.Model == "" {
		cfg.Inference.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Inference.Cohere.Model == "" {
		cfg.Inference.Cohere.Model = "command-r"
	}
	if cfg.Inference.VisionBackend == "" {
		cfg.Inference.VisionBackend = "gemini"
	}
	if cfg.Inference.Speech.LanguageCode == "" {
		cfg.Inference.Speech.LanguageCode = "es-PE"
	}
	if cfg.Inference.Speech.SampleRateHertz == 0 {
		cfg.Inference.Speech.SampleRateHertz = 16000
	}
	if cfg.Inference.Speech.Encoding == "" {
		cfg.Inference.Speech.Encoding = "OGG_OPUS"
	}
	if cfg.Media.TimeoutSeconds == 0 {
		cfg.Media.TimeoutSeconds = 15
	}
	if cfg.Media.MaxBytes == 0 {
		cfg.Media.MaxBytes = 16 << 20
	}
	if cfg.Delivery.TypingMsPerChar == 0 {
		cfg.Delivery.TypingMsPerChar = 40
	}
	if cfg.Delivery.TypingMaxMs == 0 {
		cfg.Delivery.TypingMaxMs = 5000
	}
	if cfg.Delivery.SplitThreshold == 0 {
		cfg.Delivery.SplitThreshold = 2000
	}
	if cfg.Delivery.SplitPauseMinMs == 0 {
		cfg.Delivery.SplitPauseMinMs = 1000
	}
	if cfg.Delivery.SplitPauseMaxMs == 0 {
		cfg.Delivery.SplitPauseMaxMs = 1500
	}
	if cfg.Delivery.BulkIntervalMs == 0 {
		cfg.Delivery.BulkIntervalMs = 1500
	}
	if cfg.Escalation.WebhookTimeoutSeconds == 0 {
		cfg.Escalation.WebhookTimeoutSeconds = 10
	}
	if cfg.Escalation.Concurrency == 0 {
		cfg.Escalation.Concurrency = 4
	}
	if irc := cfg.Escalation.IRC; irc != nil && irc.Port == 0 {
		if irc.UseTLS {
			irc.Port = 6697
		} else {
			irc.Port = 6667
		}
	}
}

// applyEnvOverrides reads MASITAPREX_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MASITAPREX_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("PORT"); v != "" && os.Getenv("MASITAPREX_GATEWAY_PORT") == "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("MASITAPREX_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("MASITAPREX_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("MASITAPREX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MASITAPREX_BRIDGE_URL"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Inference.Gemini.APIKey == "" {
		cfg.Inference.Gemini.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Inference.OpenAI.APIKey == "" {
		cfg.Inference.OpenAI.APIKey = v
	}
	if v := os.Getenv("COHERE_API_KEY"); v != "" && cfg.Inference.Cohere.APIKey == "" {
		cfg.Inference.Cohere.APIKey = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_API_KEY"); v != "" && cfg.Inference.Speech.APIKey == "" {
		cfg.Inference.Speech.APIKey = v
	}
}
