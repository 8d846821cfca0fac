package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted LLMClient for tests. Each call pops the next
// queued result; requests are recorded for assertions.
type MockClient struct {
	mu       sync.Mutex
	script   []*ChatResult
	err      error
	Requests []*ChatRequest

	// OnRequest, when set, produces the result dynamically and overrides
	// the script.
	OnRequest func(req *ChatRequest, tools []Tool) (*ChatResult, error)
}

// NewMockClient creates a MockClient with a fixed response script.
func NewMockClient(script ...*ChatResult) *MockClient {
	return &MockClient{script: script}
}

// SetError makes every call fail with err.
func (m *MockClient) SetError(err error) { m.err = err }

// Enqueue appends results to the script.
func (m *MockClient) Enqueue(results ...*ChatResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// Name returns the client identifier.
func (m *MockClient) Name() string { return "mock" }

// Chat pops the next scripted result.
func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return m.ChatWithTools(ctx, req, nil)
}

// ChatWithTools pops the next scripted result.
func (m *MockClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	onRequest := m.OnRequest
	err := m.err
	var next *ChatResult
	if onRequest == nil && err == nil {
		if len(m.script) == 0 {
			m.mu.Unlock()
			return nil, fmt.Errorf("mock client script exhausted")
		}
		next = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if onRequest != nil {
		return onRequest(req, tools)
	}
	return next, nil
}

// TextResult builds a successful plain-text result.
func TextResult(content string) *ChatResult {
	return &ChatResult{
		Success:          true,
		Content:          content,
		Provider:         "mock",
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
	}
}

// ToolCallResult builds a successful result that invokes one tool.
func ToolCallResult(id, name, arguments string) *ChatResult {
	return &ChatResult{
		Success:          true,
		ToolCalls:        []ToolCall{NewToolCall(id, name, arguments)},
		Provider:         "mock",
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
	}
}
