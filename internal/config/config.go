package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for clawbot.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Channels ChannelsConfig `yaml:"channels"`
	Tools    ToolsConfig    `yaml:"tools"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel"`
	// LogFile is an optional log file path; empty logs to stderr.
	LogFile string `yaml:"logFile,omitempty"`
	// QueueSize bounds the delivery queue between channels and the dispatcher.
	QueueSize             int `yaml:"queueSize"`
	MaxConcurrentMessages int `yaml:"maxConcurrentMessages"`
}

type ChannelsConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Discord   DiscordConfig   `yaml:"discord,omitempty"`
	Slack     SlackConfig     `yaml:"slack,omitempty"`
	IMessage  IMessageConfig  `yaml:"imessage,omitempty"`
	Webhook   WebhookConfig   `yaml:"webhook,omitempty"`
	WebSocket WebSocketConfig `yaml:"websocket,omitempty"`
	CLI       CLIConfig       `yaml:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Token     string         `yaml:"token"`
	AllowFrom FlexStringList `yaml:"allowFrom"`
	ParseMode string         `yaml:"parseMode,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Token     string         `yaml:"token"`
	GuildID   string         `yaml:"guildId,omitempty"`
	AllowFrom FlexStringList `yaml:"allowFrom"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"botToken"`
	// AppToken is the app-level token required for Socket Mode.
	AppToken  string         `yaml:"appToken"`
	AllowFrom FlexStringList `yaml:"allowFrom"`
}

type IMessageConfig struct {
	Enabled bool `yaml:"enabled"`
	// DBPath is the Messages store, default ~/Library/Messages/chat.db.
	DBPath              string         `yaml:"dbPath,omitempty"`
	AllowFrom           FlexStringList `yaml:"allowFrom"`
	PollIntervalSeconds int            `yaml:"pollIntervalSeconds,omitempty"`
	// Driver is "cli" (sqlite3 subprocess, default) or "sqlite" (in-process).
	Driver string `yaml:"driver,omitempty"`
}

type WebhookConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Port      int            `yaml:"port,omitempty"`
	Path      string         `yaml:"path,omitempty"`
	Secret    string         `yaml:"secret,omitempty"`
	AllowFrom FlexStringList `yaml:"allowFrom"`
}

type WebSocketConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Port      int            `yaml:"port,omitempty"`
	Path      string         `yaml:"path,omitempty"`
	AllowFrom FlexStringList `yaml:"allowFrom"`
}

type CLIConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ToolsConfig struct {
	Weather WeatherToolConfig `yaml:"weather"`
	Search  SearchToolConfig  `yaml:"search"`
	Browser BrowserToolConfig `yaml:"browser"`
}

type WeatherToolConfig struct {
	// APIKey for weatherapi.com; falls back to WEATHER_API_KEY.
	APIKey string `yaml:"apiKey,omitempty"`
}

type SearchToolConfig struct {
	MaxResults int `yaml:"maxResults,omitempty"`
}

type BrowserToolConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeoutSeconds,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// FlexStringList is a []string that also unmarshals YAML sequences of
// numbers, so "allowFrom: [123456, alice]" works without quoting.
type FlexStringList []string

func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("allowFrom must be a list, got %s", value.Tag)
	}
	result := make([]string, 0, len(value.Content))
	for _, item := range value.Content {
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.clawbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawbot"
	}
	return filepath.Join(home, ".clawbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads, env-expands, parses, and validates the config file.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Channels.IMessage.DBPath = ExpandPath(cfg.Channels.IMessage.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unknown
// variables without a default are left as-is.
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
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.QueueSize < 1 || cfg.General.QueueSize > 100000 {
		errs = append(errs, "general.queueSize must be between 1 and 100000")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	for name, port := range map[string]int{
		"channels.webhook.port":   cfg.Channels.Webhook.Port,
		"channels.websocket.port": cfg.Channels.WebSocket.Port,
	} {
		if port < 0 || port > 65535 {
			errs = append(errs, name+" must be between 0 and 65535")
		}
	}

	if cfg.Channels.IMessage.PollIntervalSeconds < 0 {
		errs = append(errs, "channels.imessage.pollIntervalSeconds must be >= 0")
	}
	switch cfg.Channels.IMessage.Driver {
	case "", "cli", "sqlite":
	default:
		errs = append(errs, "channels.imessage.driver must be one of: cli, sqlite")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram: token is required when enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord: token is required when enabled")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		errs = append(errs, "channels.slack: botToken and appToken are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
