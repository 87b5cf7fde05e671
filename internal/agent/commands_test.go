package agent

import (
	"context"
	"strings"
	"testing"

	"clawbot/internal/domain"
	"clawbot/internal/tool"
)

type fakeTool struct {
	name   string
	result domain.ToolResult
	err    error

	lastArgs map[string]any
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake" }
func (f *fakeTool) Parameters() map[string]any { return tool.ToolParameters(nil, nil) }
func (f *fakeTool) Execute(_ context.Context, args map[string]any) (domain.ToolResult, error) {
	f.lastArgs = args
	return f.result, f.err
}

func respond(t *testing.T, c *CommandResponder, content string) string {
	t.Helper()
	reply, err := c.Respond(context.Background(), domain.InboundMessage{
		ID: "1", Channel: "cli", ChatID: "direct", Content: content,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestCommandHelp(t *testing.T) {
	c := NewCommandResponder(tool.NewRegistry(testLogger()), testLogger())
	reply := respond(t, c, "/help")
	if !strings.Contains(reply, "/weather") || !strings.Contains(reply, "/search") {
		t.Errorf("help = %q", reply)
	}
}

func TestCommandNonCommandGetsHint(t *testing.T) {
	c := NewCommandResponder(tool.NewRegistry(testLogger()), testLogger())
	reply := respond(t, c, "what's the weather")
	if !strings.Contains(reply, "/help") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommandUnknown(t *testing.T) {
	c := NewCommandResponder(tool.NewRegistry(testLogger()), testLogger())
	reply := respond(t, c, "/frobnicate now")
	if !strings.Contains(reply, "Unknown command /frobnicate") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommandWeatherParsesDays(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	weather := &fakeTool{name: "weather", result: domain.ToolResult{Success: true, Output: "sunny"}}
	reg.Register(weather)
	c := NewCommandResponder(reg, testLogger())

	reply := respond(t, c, "/weather New York 3")
	if reply != "sunny" {
		t.Errorf("reply = %q", reply)
	}
	if weather.lastArgs["query"] != "New York" {
		t.Errorf("query = %v", weather.lastArgs["query"])
	}
	if weather.lastArgs["days"] != 3 {
		t.Errorf("days = %v", weather.lastArgs["days"])
	}
}

func TestCommandWeatherWithoutDays(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	weather := &fakeTool{name: "weather", result: domain.ToolResult{Success: true, Output: "rainy"}}
	reg.Register(weather)
	c := NewCommandResponder(reg, testLogger())

	respond(t, c, "/weather Oslo")
	if weather.lastArgs["query"] != "Oslo" {
		t.Errorf("query = %v", weather.lastArgs["query"])
	}
	if _, ok := weather.lastArgs["days"]; ok {
		t.Error("days must be absent when not given")
	}
}

func TestCommandToolFailureRelayed(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "web_search", result: domain.ToolResult{Error: "rate limited"}})
	c := NewCommandResponder(reg, testLogger())

	reply := respond(t, c, "/search golang")
	if !strings.Contains(reply, "rate limited") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommandUsageHints(t *testing.T) {
	c := NewCommandResponder(tool.NewRegistry(testLogger()), testLogger())
	for cmd, want := range map[string]string{
		"/weather": "Usage: /weather",
		"/search":  "Usage: /search",
		"/page":    "Usage: /page",
	} {
		if reply := respond(t, c, cmd); !strings.Contains(reply, want) {
			t.Errorf("%s reply = %q", cmd, reply)
		}
	}
}
