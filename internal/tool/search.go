package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clawbot/internal/domain"
)

const (
	searchTimeout   = 15 * time.Second
	userAgentString = "clawbot/0.1"
)

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
type WebSearchTool struct {
	client     *http.Client
	maxResults int
	baseURL    string
}

func NewWebSearchTool(maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		client:     &http.Client{Timeout: searchTimeout},
		maxResults: maxResults,
		baseURL:    "https://api.duckduckgo.com",
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns a summary of search results. Use for current events, facts, or anything you're unsure about."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
		},
		[]string{"query"},
	)
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	query := strings.TrimSpace(ArgsString(args, "query"))
	if query == "" {
		return domain.ToolResult{}, fmt.Errorf("missing argument: query")
	}

	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		t.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ToolResult{}, err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.ToolResult{Error: fmt.Sprintf("search request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ToolResult{Error: fmt.Sprintf("read search response: %v", err)}, nil
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return domain.ToolResult{}, fmt.Errorf("parse search response: %w", err)
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, "Answer: "+ddg.Answer)
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= t.maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, "- "+topic.Text)
		}
	}

	if len(results) == 0 {
		return domain.ToolResult{
			Success: true,
			Output:  fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query),
		}, nil
	}
	return domain.ToolResult{Success: true, Output: strings.Join(results, "\n\n")}, nil
}

// DuckDuckGo response types.
type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}
