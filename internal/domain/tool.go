package domain

import "context"

// ToolResult is the outcome of one tool execution. Recoverable remote
// failures (API errors, timeouts) are reported with Success=false instead of
// a Go error, so the agent can relay them to the user.
type ToolResult struct {
	Success bool
	Output  string
	Error   string
}

// Tool is the interface for agent capabilities (weather, search, page snapshots).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-Schema shaped description of accepted arguments.
	Parameters() map[string]any
	// Execute runs the tool. A non-nil error means the call itself failed
	// unrecoverably (e.g. a response body that cannot be parsed); remote
	// failures come back inside the ToolResult.
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolDefinition describes a registered tool to the dispatcher.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}
