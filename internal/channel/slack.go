package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel over Slack Socket Mode.
type Slack struct {
	botToken string
	appToken string
	allow    AllowList
	client   *slack.Client
	socket   *socketmode.Client
	logger   *slog.Logger
	botUID   string
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	// AllowFrom entries match Slack user IDs.
	AllowFrom []string
}

// NewSlack creates a new Slack channel.
func NewSlack(cfg SlackConfig, logger *slog.Logger) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		allow:    AllowList(cfg.AllowFrom),
		logger:   logger.With("channel", "slack"),
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and listens until ctx is cancelled or the
// bus closes.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	bus.OnOutbound(s.Name(), func(msg domain.OutboundMessage) error {
		return s.Send(ctx, msg.ChatID, msg.Content)
	})

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent, bus)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleSlashCommand(cmd, bus)

			default:
				// Unacknowledged events get Socket Mode disconnected.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	// A derived context so a closed bus can stop the socket client too.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(runCtx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case <-busDone(bus):
		s.logger.Info("bus closed, slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

// Send posts a reply, chunked to Slack's message length limit.
func (s *Slack) Send(ctx context.Context, chatID string, content string) error {
	if s.client == nil {
		return fmt.Errorf("slack client not started")
	}
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessageContext(ctx, chatID,
			slack.MsgOptionText(chunk, false))
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	metrics.Sent(s.Name()).Inc()
	return nil
}

// Healthy reports token presence before connect; afterwards it probes auth.
func (s *Slack) Healthy(ctx context.Context) bool {
	if s.botToken == "" || s.appToken == "" {
		return false
	}
	if s.client == nil {
		return true
	}
	_, err := s.client.AuthTestContext(ctx)
	return err == nil
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent, bus domain.MessageBus) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// The bot's own messages and edit subtypes are not inbound traffic.
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		s.publish(bus, ev.TimeStamp, ev.Channel, ev.User, ev.Text)

	case *slackevents.AppMentionEvent:
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		s.publish(bus, ev.TimeStamp, ev.Channel, ev.User, content)
	}
}

func (s *Slack) handleSlashCommand(cmd slack.SlashCommand, bus domain.MessageBus) {
	content := strings.TrimSpace(cmd.Command + " " + cmd.Text)
	s.publish(bus, cmd.TriggerID, cmd.ChannelID, cmd.UserID, content)
}

func (s *Slack) publish(bus domain.MessageBus, id, channelID, userID, text string) {
	if !s.allow.Allows(userID) {
		s.logger.Warn("unauthorized slack user", "user_id", userID)
		metrics.Denied(s.Name()).Inc()
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Empty(s.Name()).Inc()
		return
	}

	s.logger.Info("slack message received",
		"user", userID, "channel", channelID, "content_len", len(text))

	if err := bus.Publish(domain.InboundMessage{
		ID:        id,
		Channel:   s.Name(),
		ChatID:    channelID,
		SenderID:  userID,
		Content:   text,
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.Debug("slack publish dropped", "err", err)
		return
	}
	metrics.Received(s.Name()).Inc()
}
