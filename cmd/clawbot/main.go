package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"clawbot/internal/agent"
	"clawbot/internal/bus"
	"clawbot/internal/channel"
	"clawbot/internal/config"
	"clawbot/internal/integrations"
	"clawbot/internal/tool"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// A .env next to the binary is a convenient place for tokens.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "clawbot",
		Short: "clawbot: multi-channel personal assistant gateway",
		Long:  "clawbot ingests messages from Telegram, Discord, Slack, iMessage, webhooks, and the terminal, and routes replies back to where they came from.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.clawbot/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(integrationsCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// buildLogger rebuilds the process logger from config (level, optional file).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			w = f
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// buildTools registers all configured tools.
func buildTools(cfg *config.Config) *tool.Registry {
	reg := tool.NewRegistry(logger)
	reg.Register(tool.NewWeatherTool(cfg.Tools.Weather.APIKey))
	reg.Register(tool.NewWebSearchTool(cfg.Tools.Search.MaxResults))
	if cfg.Tools.Browser.Enabled {
		reg.Register(tool.NewPageSnapshotTool(time.Duration(cfg.Tools.Browser.TimeoutSeconds) * time.Second))
	}
	return reg
}

// buildChannels registers every enabled channel with the registry.
func buildChannels(cfg *config.Config, events *bus.EventBus, includeCLI bool) (*channel.Registry, error) {
	reg := channel.NewRegistry(logger, events)

	if cfg.Channels.Telegram.Enabled {
		if err := reg.Register(channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
		}, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Channels.Discord.Enabled {
		if err := reg.Register(channel.NewDiscord(channel.DiscordConfig{
			Token:     cfg.Channels.Discord.Token,
			GuildID:   cfg.Channels.Discord.GuildID,
			AllowFrom: cfg.Channels.Discord.AllowFrom,
		}, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Channels.Slack.Enabled {
		if err := reg.Register(channel.NewSlack(channel.SlackConfig{
			BotToken:  cfg.Channels.Slack.BotToken,
			AppToken:  cfg.Channels.Slack.AppToken,
			AllowFrom: cfg.Channels.Slack.AllowFrom,
		}, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Channels.IMessage.Enabled {
		if err := reg.Register(channel.NewIMessage(channel.IMessageConfig{
			DBPath:       cfg.Channels.IMessage.DBPath,
			AllowFrom:    cfg.Channels.IMessage.AllowFrom,
			PollInterval: time.Duration(cfg.Channels.IMessage.PollIntervalSeconds) * time.Second,
			Driver:       cfg.Channels.IMessage.Driver,
		}, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Channels.Webhook.Enabled {
		if err := reg.Register(channel.NewWebhook(channel.WebhookConfig{
			Port:          cfg.Channels.Webhook.Port,
			Path:          cfg.Channels.Webhook.Path,
			Secret:        cfg.Channels.Webhook.Secret,
			AllowFrom:     cfg.Channels.Webhook.AllowFrom,
			ExposeMetrics: cfg.Metrics.Enabled,
		}, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Channels.WebSocket.Enabled {
		if err := reg.Register(channel.NewWebSocketChannel(channel.WSConfig{
			Port:      cfg.Channels.WebSocket.Port,
			Path:      cfg.Channels.WebSocket.Path,
			AllowFrom: cfg.Channels.WebSocket.AllowFrom,
		}, logger)); err != nil {
			return nil, err
		}
	}
	if includeCLI && cfg.Channels.CLI.Enabled {
		if err := reg.Register(channel.NewCLI(channel.CLIConfig{}, logger)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.DefaultConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI only)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadOrDefaults()
	logger = buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.QueueSize, logger)
	defer messageBus.Close()

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Bus:           messageBus,
		Responder:     agent.NewCommandResponder(buildTools(cfg), logger),
		MaxConcurrent: cfg.General.MaxConcurrentMessages,
	}, logger)
	go dispatcher.Run(ctx)

	cliCh := channel.NewCLI(channel.CLIConfig{}, logger)
	return cliCh.Start(ctx, messageBus)
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start all enabled channels and the dispatcher",
		Long:  "Starts every enabled channel and the message dispatcher. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.QueueSize, logger)
	events := bus.NewEventBus(logger)

	registry, err := buildChannels(cfg, events, false)
	if err != nil {
		return err
	}
	if len(registry.Names()) == 0 {
		return fmt.Errorf("no channels enabled; edit %s or run 'clawbot chat'", cfgPath)
	}

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Bus:           messageBus,
		Responder:     agent.NewCommandResponder(buildTools(cfg), logger),
		Events:        events,
		MaxConcurrent: cfg.General.MaxConcurrentMessages,
	}, logger)
	go dispatcher.Run(ctx)

	registry.StartAll(ctx, messageBus)
	logger.Info("gateway started", "channels", registry.Names())

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		registry.StopAll()
		messageBus.Close()
		registry.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show channel health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			registry, err := buildChannels(cfg, nil, true)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for name, healthy := range registry.Health(ctx) {
				logger.Info("channel", "name", name, "healthy", healthy)
			}
			return nil
		},
	}
}

func integrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "List available channel and tool integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return integrations.List(os.Stdout, loadOrDefaults())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info [name]",
		Short: "Show setup instructions for an integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return integrations.Info(os.Stdout, loadOrDefaults(), args[0])
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. channels.telegram.enabled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := yaml.Marshal(val)
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.cli.enabled false)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := yaml.Marshal(config.Sanitize(cfg))
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
