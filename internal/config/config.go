package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for botgate. It is loaded once at startup
// and treated as immutable for the process lifetime.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	Platforms PlatformsConfig `json:"platforms"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Outbound  OutboundConfig  `json:"outbound"`
	Resolver  ResolverConfig  `json:"resolver"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`          // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	PublicURL string `json:"publicUrl,omitempty"` // base URL platforms deliver webhooks to
}

type PlatformsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	Max      MaxConfig      `json:"max"`
}

// LimitsConfig tunes a platform's outbound rate limiting.
type LimitsConfig struct {
	RatePerSecond    float64 `json:"ratePerSecond"`              // platform-wide sends/sec
	Burst            int     `json:"burst"`                      // token bucket capacity
	PerChatPerMinute float64 `json:"perChatPerMinute,omitempty"` // 0 = no per-chat limiter
}

type TelegramConfig struct {
	Enabled       bool         `json:"enabled"`
	Token         string       `json:"token"`
	WebhookSecret string       `json:"webhookSecret"` // X-Telegram-Bot-Api-Secret-Token value
	Limits        LimitsConfig `json:"limits"`
}

type SlackConfig struct {
	Enabled       bool         `json:"enabled"`
	BotToken      string       `json:"botToken"`
	SigningSecret string       `json:"signingSecret"`
	Limits        LimitsConfig `json:"limits"`
}

type MaxConfig struct {
	Enabled       bool         `json:"enabled"`
	APIKey        string       `json:"apiKey"`
	APIBase       string       `json:"apiBase"`
	WebhookSecret string       `json:"webhookSecret"` // HMAC key for X-Max-Signature
	Limits        LimitsConfig `json:"limits"`
}

type DispatchConfig struct {
	QueueCapacity       int `json:"queueCapacity"`       // per-chat FIFO capacity
	DedupWindow         int `json:"dedupWindow"`         // recent rawIds kept per chat
	IdleEvictionMinutes int `json:"idleEvictionMinutes"` // idle chats evicted after this
	Workers             int `json:"workers"`             // shared worker pool size
	MaxChats            int `json:"maxChats"`            // upper bound on live chat queues
}

type OutboundConfig struct {
	MaxAttempts         int `json:"maxAttempts"`
	MaxTotalWaitSeconds int `json:"maxTotalWaitSeconds"`
	BackoffFloorSeconds int `json:"backoffFloorSeconds"`
	SendTimeoutSeconds  int `json:"sendTimeoutSeconds"`
}

type ResolverConfig struct {
	Mode           string `json:"mode"` // "faq" | "http"
	URL            string `json:"url,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Retries        int    `json:"retries"` // retries after the first attempt
	DBPath         string `json:"dbPath,omitempty"`
	SeedPath       string `json:"seedPath,omitempty"` // YAML FAQ seed file
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.botgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botgate"
	}
	return filepath.Join(home, ".botgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Resolver.DBPath = ExpandPath(cfg.Resolver.DBPath)
	cfg.Resolver.SeedPath = ExpandPath(cfg.Resolver.SeedPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Dispatch.QueueCapacity < 1 {
		errs = append(errs, "dispatch.queueCapacity must be >= 1")
	}
	if cfg.Dispatch.DedupWindow < 1 {
		errs = append(errs, "dispatch.dedupWindow must be >= 1")
	}
	if cfg.Dispatch.Workers < 1 || cfg.Dispatch.Workers > 256 {
		errs = append(errs, "dispatch.workers must be between 1 and 256")
	}
	if cfg.Dispatch.IdleEvictionMinutes < 1 {
		errs = append(errs, "dispatch.idleEvictionMinutes must be >= 1")
	}

	if cfg.Outbound.MaxAttempts < 1 {
		errs = append(errs, "outbound.maxAttempts must be >= 1")
	}
	if cfg.Outbound.MaxTotalWaitSeconds < 1 {
		errs = append(errs, "outbound.maxTotalWaitSeconds must be >= 1")
	}

	switch cfg.Resolver.Mode {
	case "faq", "http":
		// valid
	default:
		errs = append(errs, "resolver.mode must be one of: faq, http")
	}
	if cfg.Resolver.Mode == "http" && cfg.Resolver.URL == "" {
		errs = append(errs, "resolver.url is required for http mode")
	}
	if cfg.Resolver.TimeoutSeconds < 1 {
		errs = append(errs, "resolver.timeoutSeconds must be >= 1")
	}
	if cfg.Resolver.Retries < 0 {
		errs = append(errs, "resolver.retries must be >= 0")
	}

	for name, lim := range map[string]LimitsConfig{
		"telegram": cfg.Platforms.Telegram.Limits,
		"slack":    cfg.Platforms.Slack.Limits,
		"max":      cfg.Platforms.Max.Limits,
	} {
		if lim.RatePerSecond < 0 || lim.PerChatPerMinute < 0 || lim.Burst < 0 {
			errs = append(errs, fmt.Sprintf("platforms.%s.limits values must not be negative", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy with credential material masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Platforms.Telegram.Token = mask(cfg.Platforms.Telegram.Token)
	out.Platforms.Telegram.WebhookSecret = mask(cfg.Platforms.Telegram.WebhookSecret)
	out.Platforms.Slack.BotToken = mask(cfg.Platforms.Slack.BotToken)
	out.Platforms.Slack.SigningSecret = mask(cfg.Platforms.Slack.SigningSecret)
	out.Platforms.Max.APIKey = mask(cfg.Platforms.Max.APIKey)
	out.Platforms.Max.WebhookSecret = mask(cfg.Platforms.Max.WebhookSecret)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Print writes the config as indented JSON. Pass a Sanitize copy when the
// output may be shown or pasted anywhere.
func Print(w io.Writer, cfg *Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
