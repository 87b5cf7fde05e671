package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"clawbot/internal/domain"
	"clawbot/internal/tool"
)

const helpText = `Available commands:
/weather <location> [days] - current weather or forecast (up to 7 days)
/search <query>            - search the web
/page <url>                - fetch the rendered text of a web page
/help                      - show this message`

// CommandResponder maps slash commands onto registered tools. Messages that
// are not commands get a short usage hint instead of silence.
type CommandResponder struct {
	tools  *tool.Registry
	logger *slog.Logger
}

func NewCommandResponder(tools *tool.Registry, logger *slog.Logger) *CommandResponder {
	return &CommandResponder{tools: tools, logger: logger}
}

func (c *CommandResponder) Respond(ctx context.Context, msg domain.InboundMessage) (string, error) {
	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, "/") {
		return "I understand slash commands. Try /help.", nil
	}

	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/help", "/start":
		return helpText, nil

	case "/weather":
		if rest == "" {
			return "Usage: /weather <location> [days]", nil
		}
		args := map[string]any{"query": rest}
		if fields := strings.Fields(rest); len(fields) > 1 {
			if days, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
				args["query"] = strings.Join(fields[:len(fields)-1], " ")
				args["days"] = days
			}
		}
		return c.run(ctx, "weather", args)

	case "/search":
		if rest == "" {
			return "Usage: /search <query>", nil
		}
		return c.run(ctx, "web_search", map[string]any{"query": rest})

	case "/page":
		if rest == "" {
			return "Usage: /page <url>", nil
		}
		return c.run(ctx, "page_snapshot", map[string]any{"url": rest})

	default:
		return fmt.Sprintf("Unknown command %s. Try /help.", cmd), nil
	}
}

func (c *CommandResponder) run(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := c.tools.Execute(ctx, name, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	if !res.Success {
		c.logger.Warn("tool reported failure", "tool", name, "err", res.Error)
		return "That didn't work: " + res.Error, nil
	}
	return res.Output, nil
}
