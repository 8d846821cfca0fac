package review

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/refereehq/referee/internal/providers"
)

// toolOrder is the order tools are presented to the LLM.
var toolOrder = []string{
	"status_update",
	"pdf_search",
	"pdf_read_lines",
	"pdf_jump",
	"pdf_annotate",
	"paper_search",
	"read_paper",
	"question_prompt",
	"review_final_markdown_write",
}

type toolHandler func(ctx context.Context, rt *Runtime, args map[string]any) map[string]any

// ToolSet binds the review runtime to the agent loop.
type ToolSet struct {
	rt       *Runtime
	handlers map[string]toolHandler
}

// NewToolSet builds the nine review tools over one runtime.
func NewToolSet(rt *Runtime) *ToolSet {
	return &ToolSet{
		rt: rt,
		handlers: map[string]toolHandler{
			"status_update":               handleStatusUpdate,
			"pdf_search":                  handlePDFSearch,
			"pdf_read_lines":              handlePDFReadLines,
			"pdf_jump":                    handlePDFJump,
			"pdf_annotate":                handlePDFAnnotate,
			"paper_search":                handlePaperSearch,
			"read_paper":                  handleReadPaper,
			"question_prompt":             handleQuestionPrompt,
			"review_final_markdown_write": handleFinalWrite,
		},
	}
}

// Runtime exposes the underlying runtime, mainly for the controller.
func (ts *ToolSet) Runtime() *Runtime {
	return ts.rt
}

// GetTools returns the OpenAI-format tool definitions.
func (ts *ToolSet) GetTools() []providers.Tool {
	tools := make([]providers.Tool, 0, len(toolOrder))
	for _, name := range toolOrder {
		tools = append(tools, providers.Tool{
			Type: "function",
			Function: providers.ToolFunction{
				Name:        name,
				Description: toolDescriptions[name],
				Parameters:  json.RawMessage(toolSchemas[name]),
			},
		})
	}
	return tools
}

// ExecuteTool validates arguments against the tool's schema and dispatches.
// Every outcome, including validation failure, is a structured JSON payload.
func (ts *ToolSet) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	handler, ok := ts.handlers[name]
	if !ok {
		return marshalPayload(map[string]any{
			"status":  "error",
			"reason":  "unknown_tool",
			"message": fmt.Sprintf("tool %q is not part of the review tool set", name),
		})
	}

	if args == nil {
		args = map[string]any{}
	}
	if schema := compiledSchemas[name]; schema != nil {
		if err := schema.Validate(map[string]any(args)); err != nil {
			return marshalPayload(map[string]any{
				"status":         "error",
				"reason":         "invalid_arguments",
				"message":        fmt.Sprintf("invalid arguments for %s: %v", name, err),
				"retry_required": true,
				"retry_tool":     name,
			})
		}
	}

	return marshalPayload(handler(ctx, ts.rt, args))
}

// IsComplete reports whether the final report has been committed.
func (ts *ToolSet) IsComplete() bool {
	return ts.rt.FinalMarkdown() != ""
}

// GetResult returns the run summary once complete.
func (ts *ToolSet) GetResult() any {
	return map[string]any{
		"final_report_persisted": ts.rt.FinalMarkdown() != "",
		"annotation_count":       ts.rt.AnnotationCount(),
		"paper_search_usage":     ts.rt.usageSnapshot(),
		"draft_version":          ts.rt.DraftVersion(),
	}
}

func marshalPayload(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool payload: %w", err)
	}
	return string(data), nil
}

// Argument readers. Arguments arrive as decoded JSON, so numbers are
// float64.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
