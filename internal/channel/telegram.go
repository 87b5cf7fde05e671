package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel over the Telegram Bot API long-poll.
type Telegram struct {
	token     string
	allow     AllowList
	parseMode string

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token string
	// AllowFrom entries match either the numeric user ID or the username.
	AllowFrom []string
	ParseMode string
}

// NewTelegram creates a new Telegram channel.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:     cfg.Token,
		allow:     AllowList(cfg.AllowFrom),
		parseMode: cfg.ParseMode,
		logger:    logger.With("channel", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and consumes updates until ctx is cancelled or
// the bus is closed.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound(t.Name(), func(msg domain.OutboundMessage) error {
		return t.Send(ctx, msg.ChatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := t.handleUpdate(update, bus); err != nil {
				if errors.Is(err, domain.ErrBusClosed) {
					bot.StopReceivingUpdates()
					return nil
				}
				return err
			}
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates must not be called twice.
func (t *Telegram) Stop() error { return nil }

// Send delivers a reply, chunked to Telegram's message length limit.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", chatID, err)
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	metrics.Sent(t.Name()).Inc()
	return nil
}

// Healthy reports whether the channel can serve traffic. Before Start only
// the token presence is checked; after connect it probes the API.
func (t *Telegram) Healthy(ctx context.Context) bool {
	if t.token == "" {
		return false
	}
	if t.bot == nil {
		return true
	}
	_, err := t.bot.GetMe()
	return err == nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, bus domain.MessageBus) error {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil
	}

	from := update.Message.From
	chatID := update.Message.Chat.ID

	if !t.allow.AllowsAny(strconv.FormatInt(from.ID, 10), from.UserName) {
		t.logger.Warn("unauthorized telegram user", "user_id", from.ID, "username", from.UserName)
		metrics.Denied(t.Name()).Inc()
		return nil
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		metrics.Empty(t.Name()).Inc()
		return nil
	}

	t.logger.Info("telegram message received",
		"user_id", from.ID, "chat_id", chatID, "text_len", len(text))

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	if err := bus.Publish(domain.InboundMessage{
		ID:        strconv.Itoa(update.Message.MessageID),
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(from.ID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	}); err != nil {
		return err
	}
	metrics.Received(t.Name()).Inc()
	return nil
}

// sendChunk sends one chunk with rate-limit backoff. Markdown parse errors
// fall back to plain text immediately: a reply with odd formatting must
// still reach the user.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter):
			}
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			plain := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plain); err2 == nil {
				return nil
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("telegram send after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}
