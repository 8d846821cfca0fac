// Package mineru is the external PDF-parse adapter: batch upload, multi-URL
// status polling, and multi-source result extraction, with a local parser
// fallback when the remote is unavailable.
package mineru

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds the remote parser settings.
type Config struct {
	BaseURL            string
	APIToken           string
	ModelVersion       string
	UploadEndpoint     string
	PollTemplates      []string
	PollInterval       time.Duration
	PollTimeout        time.Duration
	AllowLocalFallback bool
}

// ParseResult is the adapter output.
type ParseResult struct {
	Markdown    string
	ContentList []map[string]any
	BatchID     string
	RawResult   map[string]any
	Provider    string
	Warning     string
}

// Adapter submits PDFs to the remote parser and polls for results.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New creates an Adapter. HTTP timeout floors at 20 seconds.
func New(cfg Config) *Adapter {
	timeout := cfg.PollTimeout
	if timeout < 20*time.Second {
		timeout = 20 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient overrides the transport. Used by tests.
func (a *Adapter) SetHTTPClient(c *http.Client) { a.client = c }

// Configured reports whether the remote parser can be used.
func (a *Adapter) Configured() bool {
	return a.cfg.APIToken != "" && a.cfg.BaseURL != ""
}

// ParsePDF runs the full parse protocol for the file at path. dataID tags
// the upload for upstream tracing.
func (a *Adapter) ParsePDF(ctx context.Context, path string, dataID string) (*ParseResult, error) {
	pdfBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	if !a.Configured() {
		if !a.cfg.AllowLocalFallback {
			return nil, fmt.Errorf("parser is not configured and local fallback is disabled")
		}
		return localFallback(pdfBytes, "remote parser is not configured; used local parser fallback.")
	}

	result, err := a.parseRemote(ctx, filepath.Base(path), pdfBytes, dataID)
	if err != nil {
		if !a.cfg.AllowLocalFallback {
			return nil, fmt.Errorf("remote parse failed and fallback is disabled: %w", err)
		}
		return localFallback(pdfBytes, fmt.Sprintf("remote parse failed; used local parser fallback. reason=%v", err))
	}
	return result, nil
}

func (a *Adapter) parseRemote(ctx context.Context, name string, pdfBytes []byte, dataID string) (*ParseResult, error) {
	applyResult, err := a.applyUploadURLs(ctx, name, dataID)
	if err != nil {
		return nil, err
	}

	data, _ := applyResult["data"].(map[string]any)
	batchID := strings.TrimSpace(stringValue(data, "batch_id"))

	urls, ok := data["file_urls"].([]any)
	if !ok || len(urls) == 0 {
		return nil, fmt.Errorf("upload response missing file_urls")
	}
	for _, raw := range urls {
		u, ok := raw.(string)
		if !ok || strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("invalid upload URL in response: %v", raw)
		}
		if err := a.putBytes(ctx, u, pdfBytes); err != nil {
			return nil, err
		}
	}

	if batchID == "" {
		return nil, fmt.Errorf("upload response missing batch_id")
	}

	payload, err := a.pollBatchResult(ctx, batchID, applyResult)
	if err != nil {
		return nil, err
	}

	markdown, contentList, err := a.extractOutputs(ctx, payload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("empty_markdown: remote parser returned no markdown")
	}

	return &ParseResult{
		Markdown:    markdown,
		ContentList: contentList,
		BatchID:     batchID,
		RawResult:   payload,
		Provider:    "mineru_v4",
	}, nil
}

func (a *Adapter) applyUploadURLs(ctx context.Context, name, dataID string) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"files":         []map[string]any{{"name": name, "data_id": dataID}},
		"model_version": a.cfg.ModelVersion,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.buildURL(a.cfg.UploadEndpoint), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parse_upload_failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("parse_upload_failed: upload returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var applyResult map[string]any
	if err := json.Unmarshal(raw, &applyResult); err != nil {
		return nil, fmt.Errorf("parse_upload_failed: invalid upload response: %w", err)
	}
	if code := intValue(applyResult, "code", -1); code != 0 {
		return nil, fmt.Errorf("parse_upload_failed: apply upload URL failed: %s", string(raw))
	}
	return applyResult, nil
}

// putBytes uploads the PDF to one presigned URL, retrying transient errors.
func (a *Adapter) putBytes(ctx context.Context, url string, data []byte) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := a.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("parse_upload_failed: upload PUT returned HTTP %d for %s", resp.StatusCode, url)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func (a *Adapter) pollBatchResult(ctx context.Context, batchID string, applyPayload map[string]any) (map[string]any, error) {
	timeout := a.cfg.PollTimeout
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	interval := a.cfg.PollInterval
	if interval < 800*time.Millisecond {
		interval = 800 * time.Millisecond
	}

	statusURLs := a.buildStatusURLs(batchID, applyPayload)
	if len(statusURLs) == 0 {
		return nil, fmt.Errorf("no status polling URL available")
	}

	var lastPayload map[string]any
	for time.Now().Before(deadline) {
		for _, statusURL := range statusURLs {
			payload, ok := a.fetchStatus(ctx, statusURL)
			if !ok {
				continue
			}
			lastPayload = payload
			if isTerminalSuccess(payload) {
				return payload, nil
			}
			if isTerminalFailure(payload) {
				detail, _ := json.Marshal(payload)
				return nil, fmt.Errorf("batch failed: %s", detail)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	if lastPayload != nil {
		detail, _ := json.Marshal(lastPayload)
		return nil, fmt.Errorf("parse_timeout: batch_id=%s, last=%s", batchID, detail)
	}
	return nil, fmt.Errorf("parse_timeout: no payload for batch_id=%s", batchID)
}

// fetchStatus GETs one status URL. Transport errors, 5xx, 404, and
// non-object payloads are soft-skipped.
func (a *Adapter) fetchStatus(ctx context.Context, url string) (map[string]any, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

// buildStatusURLs collects polling URLs from the upload response first, then
// the configured templates, deduplicated in order.
func (a *Adapter) buildStatusURLs(batchID string, applyPayload map[string]any) []string {
	var urls []string
	seen := map[string]bool{}
	add := func(value string) {
		resolved := a.resolvePossibleURL(value)
		if resolved != "" && !seen[resolved] {
			seen[resolved] = true
			urls = append(urls, resolved)
		}
	}

	if data, ok := applyPayload["data"].(map[string]any); ok {
		for _, key := range []string{"status_url", "result_url", "batch_status_url", "batch_result_url"} {
			if raw, ok := data[key].(string); ok {
				add(raw)
			}
		}
	}

	for _, template := range a.cfg.PollTemplates {
		if !strings.Contains(template, "{batch_id}") {
			continue
		}
		add(strings.ReplaceAll(template, "{batch_id}", batchID))
	}

	return urls
}

func (a *Adapter) buildURL(endpoint string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (a *Adapter) resolvePossibleURL(value string) string {
	token := strings.TrimSpace(value)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return token
	}
	return a.buildURL(token)
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func intValue(m map[string]any, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
