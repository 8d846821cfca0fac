// Package agent runs a multi-turn tool-calling conversation against an LLM
// client. The loop is synchronous: one chat request per turn, then each tool
// call executed in order, until the tools report completion or the turn
// budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refereehq/referee/internal/providers"
)

// Config configures an agent instance.
type Config struct {
	// ID uniquely identifies this agent (auto-generated if empty).
	ID string

	// Client performs the chat requests.
	Client providers.LLMClient

	// Tools provides the agent's capabilities.
	Tools Tools

	// Generation parameters forwarded to the client.
	Model       string
	Temperature float64
	MaxTokens   int

	// MaxTurns limits the loop (default: 15).
	MaxTurns int

	// ToolChoice constrains the first turn's tool selection ("required" or
	// a tool name). Cleared after the first turn so tool results can be
	// processed normally.
	ToolChoice string
}

// TokenTotals is the cumulative usage across all requests of one run.
type TokenTotals struct {
	Requests         int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a run.
type Result struct {
	Success       bool
	Error         string
	Turns         int
	MaxTurns      int
	ExecutionTime time.Duration
	FinalText     string
	Messages      []providers.Message
	Usage         TokenTotals
	ToolResult    any
}

// Agent manages state for a single conversation.
type Agent struct {
	mu sync.Mutex

	id       string
	cfg      Config
	messages []providers.Message
	usage    TokenTotals
}

// New creates an Agent seeded with the initial conversation.
func New(cfg Config, initial []providers.Message) *Agent {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 15
	}

	messages := make([]providers.Message, len(initial))
	copy(messages, initial)

	return &Agent{id: id, cfg: cfg, messages: messages}
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string { return a.id }

// Usage returns the cumulative token totals so far. Safe to call while Run
// is in flight.
func (a *Agent) Usage() TokenTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Messages returns a snapshot of the conversation.
func (a *Agent) Messages() []providers.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]providers.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Run executes the conversation loop until completion, turn exhaustion, a
// client error, or context cancellation.
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	finalText := ""
	toolChoice := a.cfg.ToolChoice

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return a.failure(turn-1, start, finalText, err.Error()), err
		}

		req := &providers.ChatRequest{
			Messages:    a.Messages(),
			Model:       a.cfg.Model,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			ToolChoice:  toolChoice,
		}
		toolChoice = ""

		result, err := a.cfg.Client.ChatWithTools(ctx, req, a.cfg.Tools.GetTools())
		if result != nil {
			a.addUsage(result)
		}
		if err != nil {
			return a.failure(turn, start, finalText, err.Error()), err
		}

		assistant := providers.Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		}
		a.appendMessage(assistant)
		if strings.TrimSpace(result.Content) != "" {
			finalText = result.Content
		}

		if len(result.ToolCalls) > 0 {
			for _, tc := range result.ToolCalls {
				if err := ctx.Err(); err != nil {
					return a.failure(turn, start, finalText, err.Error()), err
				}
				output := a.executeTool(ctx, tc)
				a.appendMessage(providers.Message{
					Role:       "tool",
					Content:    output,
					ToolCallID: tc.ID,
				})
			}
			if a.cfg.Tools.IsComplete() {
				return a.success(turn, start, finalText), nil
			}
			continue
		}

		if a.cfg.Tools.IsComplete() {
			return a.success(turn, start, finalText), nil
		}

		// No tool calls and not complete: nudge the model onward.
		a.appendMessage(providers.Message{
			Role:    "user",
			Content: "Please continue using the available tools to complete your task.",
		})
	}

	msg := fmt.Sprintf("agent did not complete within %d turns", a.cfg.MaxTurns)
	return a.failure(a.cfg.MaxTurns, start, finalText, msg), nil
}

// executeTool parses arguments and dispatches one tool call. Failures come
// back as a JSON error payload for the model, never as a Go error.
func (a *Agent) executeTool(ctx context.Context, tc providers.ToolCall) string {
	args := map[string]any{}
	if strings.TrimSpace(tc.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			payload, _ := json.Marshal(map[string]string{
				"status": "error",
				"error":  fmt.Sprintf("failed to parse tool arguments: %v", err),
			})
			return string(payload)
		}
	}

	output, err := a.cfg.Tools.ExecuteTool(ctx, tc.Function.Name, args)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{
			"status": "error",
			"error":  fmt.Sprintf("tool execution failed: %v", err),
		})
		return string(payload)
	}
	return output
}

func (a *Agent) appendMessage(msg providers.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
}

func (a *Agent) addUsage(result *providers.ChatResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.Requests++
	a.usage.PromptTokens += result.PromptTokens
	a.usage.CompletionTokens += result.CompletionTokens
	a.usage.TotalTokens += result.TotalTokens
}

func (a *Agent) success(turns int, start time.Time, finalText string) *Result {
	return &Result{
		Success:       true,
		Turns:         turns,
		MaxTurns:      a.cfg.MaxTurns,
		ExecutionTime: time.Since(start),
		FinalText:     finalText,
		Messages:      a.Messages(),
		Usage:         a.Usage(),
		ToolResult:    a.cfg.Tools.GetResult(),
	}
}

func (a *Agent) failure(turns int, start time.Time, finalText string, errMsg string) *Result {
	return &Result{
		Turns:         turns,
		MaxTurns:      a.cfg.MaxTurns,
		ExecutionTime: time.Since(start),
		FinalText:     finalText,
		Messages:      a.Messages(),
		Usage:         a.Usage(),
		Error:         errMsg,
	}
}
