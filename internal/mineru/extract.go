package mineru

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/avast/retry-go/v4"
)

var successStates = map[string]bool{
	"done": true, "completed": true, "success": true, "succeeded": true, "finished": true,
}

var failureStates = map[string]bool{
	"failed": true, "error": true, "aborted": true,
}

// extractOutputs resolves markdown and the content list from a terminal
// payload: inline keys first, then embedded URLs, then the result zip, then
// per-file markdown fields.
func (a *Adapter) extractOutputs(ctx context.Context, payload map[string]any) (string, []map[string]any, error) {
	markdown := extractMarkdownFromPayload(payload)
	contentList := extractContentListFromPayload(payload)

	if markdown == "" {
		if mdURL := extractFirstURL(a, payload, []string{"markdown_url", "md_url", "full_md_url", "full_md"}); mdURL != "" {
			text, err := a.downloadText(ctx, mdURL)
			if err != nil {
				return "", nil, err
			}
			markdown = text
		}
	}

	if contentList == nil {
		if clURL := extractFirstURL(a, payload, []string{"content_list_url", "content_list_json_url", "content_list_json"}); clURL != "" {
			rows, err := a.downloadJSONList(ctx, clURL)
			if err != nil {
				return "", nil, err
			}
			contentList = rows
		}
	}

	if markdown == "" || contentList == nil {
		if zipURL := extractFirstURL(a, payload, []string{"full_zip_url", "zip_url", "result_zip_url", "download_url"}); zipURL != "" {
			mdFromZip, listFromZip, err := a.downloadFromZip(ctx, zipURL)
			if err != nil {
				return "", nil, err
			}
			if markdown == "" && mdFromZip != "" {
				markdown = mdFromZip
			}
			if contentList == nil && listFromZip != nil {
				contentList = listFromZip
			}
		}
	}

	if markdown == "" {
		markdown = joinFileMarkdown(payload)
	}

	return markdown, contentList, nil
}

func extractMarkdownFromPayload(payload map[string]any) string {
	for _, candidate := range candidateDicts(payload, true) {
		for _, key := range []string{"markdown", "md", "full_md", "full_markdown"} {
			if v, ok := candidate[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func extractContentListFromPayload(payload map[string]any) []map[string]any {
	for _, candidate := range candidateDicts(payload, false) {
		for _, key := range []string{"content_list", "content_list_json", "mineru_content_list"} {
			if v, ok := candidate[key].([]any); ok {
				var rows []map[string]any
				for _, item := range v {
					if row, ok := item.(map[string]any); ok {
						rows = append(rows, row)
					}
				}
				if rows == nil {
					rows = []map[string]any{}
				}
				return rows
			}
		}
	}
	return nil
}

// candidateDicts yields payload, payload.data, and optionally
// payload.data.result.
func candidateDicts(payload map[string]any, includeResult bool) []map[string]any {
	out := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		out = append(out, data)
		if includeResult {
			if result, ok := data["result"].(map[string]any); ok {
				out = append(out, result)
			}
		}
	}
	return out
}

// extractFirstURL breadth-first searches the payload for the first
// non-empty string under any of the priority keys, resolved against the
// configured base when relative.
func extractFirstURL(a *Adapter, payload map[string]any, keys []string) string {
	keySet := map[string]bool{}
	for _, k := range keys {
		keySet[k] = true
	}

	queue := []any{payload}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		switch node := current.(type) {
		case map[string]any:
			for key, value := range node {
				if keySet[key] {
					if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
						return a.resolvePossibleURL(s)
					}
				}
				switch value.(type) {
				case map[string]any, []any:
					queue = append(queue, value)
				}
			}
		case []any:
			queue = append(queue, node...)
		}
	}
	return ""
}

func joinFileMarkdown(payload map[string]any) string {
	nested := payload
	if data, ok := payload["data"].(map[string]any); ok {
		nested = data
	}
	files, ok := nested["files"].([]any)
	if !ok {
		return ""
	}

	var parts []string
	for _, raw := range files {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"markdown", "md", "full_md"} {
			if v, ok := item[key].(string); ok && strings.TrimSpace(v) != "" {
				parts = append(parts, strings.TrimSpace(v))
			}
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (a *Adapter) downloadBytes(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := a.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("download returned HTTP %d for %s", resp.StatusCode, url)
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (a *Adapter) downloadText(ctx context.Context, url string) (string, error) {
	data, err := a.downloadBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (a *Adapter) downloadJSONList(ctx context.Context, url string) ([]map[string]any, error) {
	data, err := a.downloadBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	var parsed []any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, nil
	}
	var rows []map[string]any
	for _, item := range parsed {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// downloadFromZip joins all *.md members with a rule separator and reads the
// first *_content_list.json member as the content list.
func (a *Adapter) downloadFromZip(ctx context.Context, url string) (string, []map[string]any, error) {
	data, err := a.downloadBytes(ctx, url)
	if err != nil {
		return "", nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("invalid result zip: %w", err)
	}

	var markdownParts []string
	var contentList []map[string]any

	for _, file := range reader.File {
		lower := strings.ToLower(file.Name)
		if strings.HasSuffix(lower, ".md") {
			content, err := readZipMember(file)
			if err != nil {
				continue
			}
			if trimmed := strings.TrimSpace(string(content)); trimmed != "" {
				markdownParts = append(markdownParts, trimmed)
			}
		}
		if strings.HasSuffix(lower, "_content_list.json") && contentList == nil {
			content, err := readZipMember(file)
			if err != nil {
				continue
			}
			var parsed []any
			if err := json.Unmarshal(content, &parsed); err != nil {
				continue
			}
			var rows []map[string]any
			for _, item := range parsed {
				if row, ok := item.(map[string]any); ok {
					rows = append(rows, row)
				}
			}
			if rows == nil {
				rows = []map[string]any{}
			}
			contentList = rows
		}
	}

	return strings.Join(markdownParts, "\n\n---\n\n"), contentList, nil
}

func readZipMember(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isTerminalSuccess(payload map[string]any) bool {
	if extractMarkdownFromPayload(payload) != "" {
		return true
	}

	if successStates[extractState(payload)] {
		return true
	}

	if intValue(payload, "code", -1) == 0 {
		data, ok := payload["data"].(map[string]any)
		if ok {
			if stringValue(data, "full_zip_url") != "" || stringValue(data, "markdown") != "" || stringValue(data, "md") != "" {
				return true
			}
			if extractResult, ok := data["extract_result"].([]any); ok {
				for _, raw := range extractResult {
					item, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					if !successStates[strings.ToLower(strings.TrimSpace(stringValue(item, "state")))] {
						continue
					}
					for _, key := range []string{"full_zip_url", "zip_url", "result_zip_url", "markdown_url", "md_url", "full_md_url", "markdown", "md"} {
						if stringValue(item, key) != "" {
							return true
						}
					}
				}
			}
		}
	}

	return false
}

func isTerminalFailure(payload map[string]any) bool {
	if failureStates[extractState(payload)] {
		return true
	}

	if code := intValue(payload, "code", 0); code != 0 {
		msg := strings.ToLower(stringValue(payload, "msg"))
		if msg == "" {
			msg = strings.ToLower(stringValue(payload, "message"))
		}
		// One polling endpoint may report "task not found or expire" while
		// another still has valid progress for the same batch.
		if code == -60012 && (strings.Contains(msg, "task not found") || strings.Contains(msg, "expire")) {
			return false
		}
		if msg != "" && !strings.Contains(msg, "processing") && !strings.Contains(msg, "running") {
			return true
		}
	}

	return false
}

func extractState(payload map[string]any) string {
	for _, candidate := range candidateDicts(payload, true) {
		for _, key := range []string{"state", "status", "task_state", "batch_state"} {
			if v, ok := candidate[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.ToLower(strings.TrimSpace(v))
			}
		}
	}
	return ""
}
