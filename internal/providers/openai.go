package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// OpenAIName identifies the OpenAI-compatible client.
const OpenAIName = "openai"

const defaultChatTimeout = 5 * time.Minute

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	client       *http.Client
}

// OpenAIOption customizes the client.
type OpenAIOption func(*OpenAIClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithMaxRetries sets the retry budget for transient failures.
func WithMaxRetries(n int) OpenAIOption {
	return func(c *OpenAIClient) { c.maxRetries = n }
}

// WithHTTPClient overrides the transport. Used by tests.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.client = hc }
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, defaultModel string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:      "https://api.openai.com/v1",
		apiKey:       apiKey,
		defaultModel: defaultModel,
		maxRetries:   3,
		retryDelay:   500 * time.Millisecond,
		client:       &http.Client{Timeout: defaultChatTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string { return OpenAIName }

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return c.doChat(ctx, req, nil)
}

// ChatWithTools sends a chat request with tool definitions.
func (c *OpenAIClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	return c.doChat(ctx, req, tools)
}

type apiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  any       `json:"tool_choice,omitempty"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *OpenAIClient) doChat(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	apiReq := apiRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}
	if req.ToolChoice != "" {
		apiReq.ToolChoice = encodeToolChoice(req.ToolChoice, tools)
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenAIName,
		Attempts:  1,
	}

	apiResp, attempts, err := c.doRequest(ctx, "/chat/completions", &apiReq)
	result.Attempts = attempts
	if err != nil {
		result.ErrorType = "http_error"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	if len(apiResp.Choices) == 0 {
		result.ErrorType = "empty_response"
		result.ErrorMessage = "no choices in response"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("no choices in response")
	}

	choice := apiResp.Choices[0]
	result.Success = true
	result.Content = choice.Message.Content
	result.ToolCalls = choice.Message.ToolCalls
	result.ModelUsed = apiResp.Model
	result.PromptTokens = apiResp.Usage.PromptTokens
	result.CompletionTokens = apiResp.Usage.CompletionTokens
	result.TotalTokens = apiResp.Usage.TotalTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// encodeToolChoice maps our string form to the wire shape: "required" and
// "auto" pass through, a known tool name becomes the function selector, and
// anything else is rejected upstream by the API.
func encodeToolChoice(choice string, tools []Tool) any {
	if choice == "required" || choice == "auto" || choice == "none" {
		return choice
	}
	for _, tool := range tools {
		if tool.Function.Name == choice {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": choice},
			}
		}
	}
	return choice
}

// doRequest posts the chat request with retry on transient failures.
func (c *OpenAIClient) doRequest(ctx context.Context, path string, body *apiRequest) (*apiResponse, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		attempts = attempt + 1
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, attempts, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, attempts, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.sleepBackoff(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			c.sleepBackoff(ctx, attempt)
			continue
		}

		if c.shouldRetry(resp.StatusCode) {
			lastErr = fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(respBody))
			c.sleepBackoff(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, attempts, fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(respBody))
		}

		var apiResp apiResponse
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, attempts, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if apiResp.Error != nil {
			return nil, attempts, fmt.Errorf("chat API error: %s", apiResp.Error.Message)
		}

		return &apiResp, attempts, nil
	}

	return nil, attempts, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// shouldRetry returns true for status codes that should be retried.
func (c *OpenAIClient) shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524:
		return true
	default:
		return statusCode >= 500
	}
}

// sleepBackoff sleeps with exponential backoff, respecting cancellation.
func (c *OpenAIClient) sleepBackoff(ctx context.Context, attempt int) {
	delay := c.retryDelay * time.Duration(1<<attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
