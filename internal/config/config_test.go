package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"
	cfg.Channels.Telegram.AllowFrom = FlexStringList{"42", "alice"}
	cfg.Channels.IMessage.PollIntervalSeconds = 7
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Channels.Telegram.Enabled || loaded.Channels.Telegram.Token != "123:abc" {
		t.Errorf("telegram config lost: %+v", loaded.Channels.Telegram)
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 2 || loaded.Channels.Telegram.AllowFrom[1] != "alice" {
		t.Errorf("allowFrom lost: %v", loaded.Channels.Telegram.AllowFrom)
	}
	if loaded.Channels.IMessage.PollIntervalSeconds != 7 {
		t.Errorf("poll interval lost: %d", loaded.Channels.IMessage.PollIntervalSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file must be an error")
	}
}

func TestFlexStringListNumericEntries(t *testing.T) {
	var cfg TelegramConfig
	data := "enabled: true\ntoken: t\nallowFrom: [123456, alice, 789]\n"
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatal(err)
	}
	want := []string{"123456", "alice", "789"}
	if len(cfg.AllowFrom) != len(want) {
		t.Fatalf("allowFrom = %v", cfg.AllowFrom)
	}
	for i := range want {
		if cfg.AllowFrom[i] != want[i] {
			t.Errorf("allowFrom[%d] = %q, want %q", i, cfg.AllowFrom[i], want[i])
		}
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("CLAWBOT_TEST_TOKEN", "secret-token")
	defer os.Unsetenv("CLAWBOT_TEST_TOKEN")

	out := ExpandEnvVars("token: ${CLAWBOT_TEST_TOKEN}")
	if out != "token: secret-token" {
		t.Errorf("got %q", out)
	}

	out = ExpandEnvVars("path: ${CLAWBOT_TEST_UNSET:-/tmp/fallback}")
	if out != "path: /tmp/fallback" {
		t.Errorf("got %q", out)
	}

	out = ExpandEnvVars("raw: ${CLAWBOT_TEST_UNSET}")
	if out != "raw: ${CLAWBOT_TEST_UNSET}" {
		t.Errorf("unknown var without default must stay untouched, got %q", out)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"zero queue", func(c *Config) { c.General.QueueSize = 0 }, "queueSize"},
		{"bad log level", func(c *Config) { c.General.LogLevel = "verbose" }, "logLevel"},
		{"bad port", func(c *Config) { c.Channels.Webhook.Port = 70000 }, "port"},
		{"bad driver", func(c *Config) { c.Channels.IMessage.Driver = "postgres" }, "driver"},
		{"enabled telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, "token"},
		{"enabled slack without tokens", func(c *Config) { c.Channels.Slack.Enabled = true }, "slack"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Errorf("error %q does not mention %q", err, tc.substr)
			}
		})
	}
}

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	v, err := GetByPath(cfg, "channels.cli.enabled")
	if err != nil {
		t.Fatal(err)
	}
	if v != true {
		t.Errorf("channels.cli.enabled = %v", v)
	}

	if _, err := GetByPath(cfg, "channels.nothere.enabled"); err == nil {
		t.Error("unknown path must be an error")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.queueSize", "250"); err != nil {
		t.Fatal(err)
	}
	if cfg.General.QueueSize != 250 {
		t.Errorf("queueSize = %d", cfg.General.QueueSize)
	}

	if err := SetByPath(cfg, "channels.telegram.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram.enabled not set")
	}
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "1234567890:AAElongbotsecrettoken"
	cfg.Channels.Webhook.Secret = "hush"

	clean := Sanitize(cfg)
	if clean.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Error("telegram token not masked")
	}
	if !strings.HasPrefix(clean.Channels.Telegram.Token, "1234") {
		t.Errorf("mask should keep prefix: %q", clean.Channels.Telegram.Token)
	}
	if clean.Channels.Webhook.Secret != "***" {
		t.Errorf("webhook secret = %q", clean.Channels.Webhook.Secret)
	}
	// Original must stay intact.
	if cfg.Channels.Webhook.Secret != "hush" {
		t.Error("sanitize mutated the original config")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := ExpandPath("~/Library/Messages/chat.db")
	if got != filepath.Join(home, "Library/Messages/chat.db") {
		t.Errorf("got %q", got)
	}
	if ExpandPath("/abs/path") != "/abs/path" {
		t.Error("absolute path must pass through")
	}
}
