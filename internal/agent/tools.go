package agent

import (
	"context"

	"github.com/refereehq/referee/internal/providers"
)

// Tools defines the interface the agent drives. The review runtime provides
// the implementation with the nine review tools.
type Tools interface {
	// GetTools returns OpenAI-format tool definitions for the LLM.
	GetTools() []providers.Tool

	// ExecuteTool runs a tool and returns the result as a JSON string.
	// The agent loop calls this for each tool_call in the LLM response.
	ExecuteTool(ctx context.Context, name string, arguments map[string]any) (string, error)

	// IsComplete returns true when the agent has achieved its goal.
	// Here: when the final report has been committed.
	IsComplete() bool

	// GetResult returns the final result after IsComplete() returns true.
	GetResult() any
}
