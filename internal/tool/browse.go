package tool

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"clawbot/internal/domain"
)

const snapshotMaxOutput = 10000

// PageSnapshotTool renders a web page in headless Chrome and returns its
// visible text. JavaScript-heavy pages that a plain HTTP fetch cannot read
// come back fully rendered.
type PageSnapshotTool struct {
	timeout time.Duration
}

func NewPageSnapshotTool(timeout time.Duration) *PageSnapshotTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageSnapshotTool{timeout: timeout}
}

func (t *PageSnapshotTool) Name() string { return "page_snapshot" }
func (t *PageSnapshotTool) Description() string {
	return "Load a web page in a headless browser and return its rendered text content. Works on JavaScript-heavy pages."
}
func (t *PageSnapshotTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "Full URL to load (must start with http:// or https://)"},
		},
		[]string{"url"},
	)
}

func (t *PageSnapshotTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	rawURL := strings.TrimSpace(ArgsString(args, "url"))
	if rawURL == "" {
		return domain.ToolResult{}, fmt.Errorf("missing argument: url")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return domain.ToolResult{}, fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var text string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		// Navigation and render failures are remote conditions the agent can
		// report back; the tool call itself succeeded.
		return domain.ToolResult{Error: fmt.Sprintf("page load failed for %s: %v", rawURL, err)}, nil
	}

	text = strings.TrimSpace(text)
	if len(text) > snapshotMaxOutput {
		text = text[:snapshotMaxOutput] + "\n... (truncated)"
	}
	return domain.ToolResult{Success: true, Output: text}, nil
}
