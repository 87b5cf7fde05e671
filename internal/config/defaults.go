package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			QueueSize:             100,
			MaxConcurrentMessages: 5,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			IMessage: IMessageConfig{
				Enabled:             false,
				DBPath:              "~/Library/Messages/chat.db",
				PollIntervalSeconds: 3,
				Driver:              "cli",
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Port:    9090,
				Path:    "/webhook",
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Port:    8081,
				Path:    "/ws",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Tools: ToolsConfig{
			Search: SearchToolConfig{
				MaxResults: 5,
			},
			Browser: BrowserToolConfig{
				Enabled:        false,
				TimeoutSeconds: 30,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
