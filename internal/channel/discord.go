package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel over the Discord gateway.
type Discord struct {
	token   string
	guildID string
	allow   AllowList
	session *discordgo.Session
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token string
	// GuildID restricts the bot to one guild when set.
	GuildID string
	// AllowFrom entries match either the user ID or the username.
	AllowFrom []string
}

// NewDiscord creates a new Discord channel.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		allow:   AllowList(cfg.AllowFrom),
		logger:  logger.With("channel", "discord"),
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord and listens until ctx is cancelled or the bus
// closes. Message events arrive on discordgo's own goroutines.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	bus.OnOutbound(d.Name(), func(msg domain.OutboundMessage) error {
		return d.Send(ctx, msg.ChatID, msg.Content)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		if !d.allow.AllowsAny(m.Author.ID, m.Author.Username) {
			d.logger.Warn("unauthorized discord user", "user_id", m.Author.ID, "username", m.Author.Username)
			metrics.Denied(d.Name()).Inc()
			return
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			metrics.Empty(d.Name()).Inc()
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username, "channel_id", m.ChannelID, "content_len", len(content))

		if err := bus.Publish(domain.InboundMessage{
			ID:        m.ID,
			Channel:   d.Name(),
			ChatID:    m.ChannelID,
			SenderID:  m.Author.ID,
			Content:   content,
			Timestamp: time.Now(),
		}); err != nil {
			d.logger.Debug("discord publish dropped", "err", err)
			return
		}
		metrics.Received(d.Name()).Inc()
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	select {
	case <-ctx.Done():
		d.logger.Info("discord bot disconnecting")
	case <-busDone(bus):
		d.logger.Info("bus closed, discord bot disconnecting")
	}
	if err := session.Close(); err != nil {
		d.logger.Warn("discord close failed", "err", err)
	}
	return nil
}

func (d *Discord) Stop() error { return nil }

// Send delivers a reply, chunked to Discord's message length limit.
func (d *Discord) Send(ctx context.Context, chatID string, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord session not started")
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(chatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	metrics.Sent(d.Name()).Inc()
	return nil
}

// Healthy reports token presence before connect and gateway liveness after.
func (d *Discord) Healthy(ctx context.Context) bool {
	if d.token == "" {
		return false
	}
	if d.session == nil {
		return true
	}
	return d.session.State != nil && d.session.State.User != nil
}

// splitMessage splits a message into chunks that fit within maxLen,
// preferring newline boundaries in the second half of the chunk.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
