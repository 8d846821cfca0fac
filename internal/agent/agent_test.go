package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/refereehq/referee/internal/providers"
)

// scriptedTools completes after a configurable number of tool executions.
type scriptedTools struct {
	completeAfter int
	executed      []string
	argsSeen      []map[string]any
	execErr       error
}

func (s *scriptedTools) GetTools() []providers.Tool {
	return []providers.Tool{
		{Type: "function", Function: providers.ToolFunction{Name: "status_update"}},
		{Type: "function", Function: providers.ToolFunction{Name: "pdf_search"}},
	}
}

func (s *scriptedTools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if s.execErr != nil {
		return "", s.execErr
	}
	s.executed = append(s.executed, name)
	s.argsSeen = append(s.argsSeen, args)
	return `{"status": "ok"}`, nil
}

func (s *scriptedTools) IsComplete() bool {
	return s.completeAfter > 0 && len(s.executed) >= s.completeAfter
}

func (s *scriptedTools) GetResult() any {
	return map[string]any{"tools_run": len(s.executed)}
}

func TestAgentRun_CompletesAfterToolCalls(t *testing.T) {
	client := providers.NewMockClient(
		providers.ToolCallResult("c1", "status_update", `{"step": "reading"}`),
		providers.ToolCallResult("c2", "pdf_search", `{"query": "ablation"}`),
	)
	tools := &scriptedTools{completeAfter: 2}

	a := New(Config{Client: client, Tools: tools, Model: "m"}, []providers.Message{
		{Role: "system", Content: "review the paper"},
		{Role: "user", Content: "begin"},
	})

	result, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Turns != 2 {
		t.Errorf("expected 2 turns, got %d", result.Turns)
	}
	if len(tools.executed) != 2 || tools.executed[0] != "status_update" {
		t.Errorf("unexpected execution order: %v", tools.executed)
	}
	if tools.argsSeen[0]["step"] != "reading" {
		t.Errorf("arguments not parsed: %v", tools.argsSeen[0])
	}
	if result.Usage.Requests != 2 || result.Usage.TotalTokens != 30 {
		t.Errorf("usage not accumulated: %+v", result.Usage)
	}
	if res, ok := result.ToolResult.(map[string]any); !ok || res["tools_run"] != 2 {
		t.Errorf("tool result not captured: %v", result.ToolResult)
	}

	// Tool outputs must be threaded back with the matching call id.
	msgs := result.Messages
	var toolMsgs []providers.Message
	for _, m := range msgs {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 || toolMsgs[0].ToolCallID != "c1" || toolMsgs[1].ToolCallID != "c2" {
		t.Errorf("tool messages not threaded: %+v", toolMsgs)
	}
}

func TestAgentRun_NudgesWhenNoToolCalls(t *testing.T) {
	client := providers.NewMockClient(
		providers.TextResult("thinking out loud"),
		providers.ToolCallResult("c1", "status_update", `{}`),
	)
	tools := &scriptedTools{completeAfter: 1}

	a := New(Config{Client: client, Tools: tools}, nil)
	result, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success || result.Turns != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var nudged bool
	for _, m := range result.Messages {
		if m.Role == "user" && m.Content == "Please continue using the available tools to complete your task." {
			nudged = true
		}
	}
	if !nudged {
		t.Error("expected continuation nudge after tool-free turn")
	}
	if result.FinalText != "thinking out loud" {
		t.Errorf("final text not captured: %q", result.FinalText)
	}
}

func TestAgentRun_TurnLimit(t *testing.T) {
	client := &providers.MockClient{}
	client.OnRequest = func(req *providers.ChatRequest, tools []providers.Tool) (*providers.ChatResult, error) {
		return providers.ToolCallResult("c", "status_update", `{}`), nil
	}
	tools := &scriptedTools{completeAfter: 0}

	a := New(Config{Client: client, Tools: tools, MaxTurns: 3}, nil)
	result, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure on turn exhaustion")
	}
	if result.Turns != 3 {
		t.Errorf("expected 3 turns, got %d", result.Turns)
	}
	if result.Error == "" {
		t.Error("expected error message")
	}
}

func TestAgentRun_ToolChoiceFirstTurnOnly(t *testing.T) {
	client := providers.NewMockClient(
		providers.ToolCallResult("c1", "review_final_markdown_write", `{}`),
		providers.ToolCallResult("c2", "review_final_markdown_write", `{}`),
	)
	tools := &scriptedTools{completeAfter: 2}

	a := New(Config{Client: client, Tools: tools, ToolChoice: "required"}, nil)
	if _, err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := client.Requests[0].ToolChoice; got != "required" {
		t.Errorf("first request tool choice: %q", got)
	}
	if got := client.Requests[1].ToolChoice; got != "" {
		t.Errorf("tool choice must clear after first turn, got %q", got)
	}
}

func TestAgentRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &providers.MockClient{}
	client.OnRequest = func(req *providers.ChatRequest, tools []providers.Tool) (*providers.ChatResult, error) {
		cancel()
		return providers.ToolCallResult("c", "status_update", `{}`), nil
	}

	a := New(Config{Client: client, Tools: &scriptedTools{}}, nil)
	result, err := a.Run(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if result.Success {
		t.Error("cancelled run must not report success")
	}
}

func TestAgentRun_ClientError(t *testing.T) {
	client := &providers.MockClient{}
	client.SetError(fmt.Errorf("upstream down"))

	a := New(Config{Client: client, Tools: &scriptedTools{}}, nil)
	result, err := a.Run(context.Background())
	if err == nil {
		t.Fatal("expected client error to propagate")
	}
	if result.Success || result.Error == "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestExecuteTool_BadArguments(t *testing.T) {
	a := New(Config{Tools: &scriptedTools{}}, nil)
	out := a.executeTool(context.Background(), providers.NewToolCall("c1", "pdf_search", `{not json`))

	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("output not JSON: %q", out)
	}
	if payload["status"] != "error" {
		t.Errorf("expected error payload, got %v", payload)
	}
}
