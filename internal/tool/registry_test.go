package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"clawbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes its input" }
func (echoTool) Parameters() map[string]any { return ToolParameters(nil, nil) }
func (echoTool) Execute(_ context.Context, args map[string]any) (domain.ToolResult, error) {
	return domain.ToolResult{Success: true, Output: ArgsString(args, "text")}, nil
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoTool{})

	res, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Output != "hi" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoTool{})

	_, err := r.Execute(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("unknown tool must be an error")
	}
	if !strings.Contains(err.Error(), "echo") {
		t.Errorf("error should list available tools: %v", err)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(echoTool{})
	r.Register(NewWeatherTool(""))

	defs := r.GetDefinitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		if d.Parameters == nil {
			t.Errorf("tool %s has nil parameters", d.Name)
		}
	}
	if !names["echo"] || !names["weather"] {
		t.Errorf("names = %v", names)
	}
}

func TestToolParameters(t *testing.T) {
	schema := ToolParameters(map[string]Param{
		"query": {Type: "string", Description: "the query"},
	}, []string{"query"})

	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	if _, ok := props["query"]; !ok {
		t.Error("query property missing")
	}
	req := schema["required"].([]string)
	if len(req) != 1 || req[0] != "query" {
		t.Errorf("required = %v", req)
	}
}

func TestArgsString(t *testing.T) {
	args := map[string]any{"s": "text", "n": float64(42)}
	if got := ArgsString(args, "s"); got != "text" {
		t.Errorf("got %q", got)
	}
	if got := ArgsString(args, "n"); got != "42" {
		t.Errorf("non-string should marshal: %q", got)
	}
	if got := ArgsString(nil, "s"); got != "" {
		t.Errorf("nil args: %q", got)
	}
}

func TestArgsInt(t *testing.T) {
	args := map[string]any{"f": float64(3), "i": 4}
	if got := ArgsInt(args, "f", 1); got != 3 {
		t.Errorf("float64 arg: %d", got)
	}
	if got := ArgsInt(args, "i", 1); got != 4 {
		t.Errorf("int arg: %d", got)
	}
	if got := ArgsInt(args, "missing", 7); got != 7 {
		t.Errorf("fallback: %d", got)
	}
}

func TestWebSearchExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		json.NewEncoder(rw).Encode(ddgResponse{
			Heading:     "Go",
			Abstract:    "Go is a programming language.",
			AbstractURL: "https://example.com/go",
			RelatedTopics: []ddgTopic{
				{Text: "Golang history"},
				{Text: "Go tooling"},
			},
		})
	}))
	defer srv.Close()

	s := NewWebSearchTool(5)
	s.baseURL = srv.URL

	res, err := s.Execute(context.Background(), map[string]any{"query": "golang"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result failed: %s", res.Error)
	}
	for _, want := range []string{"Go is a programming language", "Golang history"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q:\n%s", want, res.Output)
		}
	}
}

func TestWebSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewWebSearchTool(5)
	s.baseURL = srv.URL

	res, err := s.Execute(context.Background(), map[string]any{"query": "xyzzy"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !strings.Contains(res.Output, "No instant results") {
		t.Errorf("result = %+v", res)
	}
}

func TestWebSearchMissingQuery(t *testing.T) {
	s := NewWebSearchTool(5)
	if _, err := s.Execute(context.Background(), nil); err == nil {
		t.Error("missing query must be a hard error")
	}
}

func TestPageSnapshotRejectsBadScheme(t *testing.T) {
	p := NewPageSnapshotTool(0)
	if _, err := p.Execute(context.Background(), map[string]any{"url": "ftp://example.com"}); err == nil {
		t.Error("non-http scheme must be a hard error")
	}
	if _, err := p.Execute(context.Background(), nil); err == nil {
		t.Error("missing url must be a hard error")
	}
}
