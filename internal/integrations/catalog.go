// Package integrations describes the channels and tools clawbot can connect
// to, with setup instructions and configuration-derived status.
package integrations

import (
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"clawbot/internal/config"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Integration is one catalog entry.
type Integration struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // "channel" | "tool"
	Summary string `yaml:"summary"`
	Setup   string `yaml:"setup"`
}

type catalog struct {
	Integrations []Integration `yaml:"integrations"`
}

// All returns every catalog entry, sorted by kind then name.
func All() ([]Integration, error) {
	var c catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return nil, fmt.Errorf("parse integration catalog: %w", err)
	}
	sort.Slice(c.Integrations, func(i, j int) bool {
		if c.Integrations[i].Kind != c.Integrations[j].Kind {
			return c.Integrations[i].Kind < c.Integrations[j].Kind
		}
		return c.Integrations[i].Name < c.Integrations[j].Name
	})
	return c.Integrations, nil
}

// Find returns the named entry.
func Find(name string) (Integration, error) {
	all, err := All()
	if err != nil {
		return Integration{}, err
	}
	for _, in := range all {
		if in.Name == name {
			return in, nil
		}
	}
	return Integration{}, fmt.Errorf("unknown integration: %s", name)
}

// Status derives each integration's configured/enabled state from cfg.
func Status(cfg *config.Config, name string) string {
	enabled, configured := false, false
	switch name {
	case "telegram":
		enabled = cfg.Channels.Telegram.Enabled
		configured = cfg.Channels.Telegram.Token != ""
	case "discord":
		enabled = cfg.Channels.Discord.Enabled
		configured = cfg.Channels.Discord.Token != ""
	case "slack":
		enabled = cfg.Channels.Slack.Enabled
		configured = cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != ""
	case "imessage":
		enabled = cfg.Channels.IMessage.Enabled
		configured = cfg.Channels.IMessage.DBPath != ""
	case "webhook":
		enabled = cfg.Channels.Webhook.Enabled
		configured = true
	case "websocket":
		enabled = cfg.Channels.WebSocket.Enabled
		configured = true
	case "weather":
		enabled = true
		configured = cfg.Tools.Weather.APIKey != ""
	case "web_search":
		enabled, configured = true, true
	case "page_snapshot":
		enabled = cfg.Tools.Browser.Enabled
		configured = true
	default:
		return "unknown"
	}

	switch {
	case enabled && configured:
		return "ready"
	case enabled:
		return "enabled, missing credentials"
	case configured:
		return "configured, disabled"
	default:
		return "not configured"
	}
}

// List writes a table of all integrations and their status.
func List(w io.Writer, cfg *config.Config) error {
	all, err := All()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-14s %-8s %-28s %s\n", "NAME", "KIND", "STATUS", "SUMMARY")
	for _, in := range all {
		fmt.Fprintf(w, "%-14s %-8s %-28s %s\n", in.Name, in.Kind, Status(cfg, in.Name), in.Summary)
	}
	return nil
}

// Info writes the detail view for one integration.
func Info(w io.Writer, cfg *config.Config, name string) error {
	in, err := Find(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s)\n%s\nStatus: %s\n\nSetup:\n%s\n",
		in.Name, in.Kind, in.Summary, Status(cfg, in.Name), strings.TrimSpace(in.Setup))
	return nil
}
