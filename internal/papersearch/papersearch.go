// Package papersearch is the typed client for the external literature
// search/read service, with a public arXiv fallback when no remote is
// configured.
package papersearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultArxivURL is the public Atom query endpoint used as fallback.
const DefaultArxivURL = "https://export.arxiv.org/api/query"

// SearchConfig configures the remote search service.
type SearchConfig struct {
	BaseURL        string
	APIKey         string
	Endpoint       string
	TimeoutSeconds int
}

// ReadConfig configures the remote read service.
type ReadConfig struct {
	BaseURL        string
	APIKey         string
	Endpoint       string
	TimeoutSeconds int
}

// Adapter talks to the search/read service, or to arXiv when unconfigured.
type Adapter struct {
	searchCfg SearchConfig
	readCfg   ReadConfig

	client   *http.Client
	arxivURL string
}

// New creates an Adapter. The HTTP client timeout floors at 20 seconds.
func New(searchCfg SearchConfig, readCfg ReadConfig) *Adapter {
	timeout := searchCfg.TimeoutSeconds
	if readCfg.TimeoutSeconds > timeout {
		timeout = readCfg.TimeoutSeconds
	}
	if timeout < 20 {
		timeout = 20
	}
	return &Adapter{
		searchCfg: searchCfg,
		readCfg:   readCfg,
		client:    &http.Client{Timeout: time.Duration(timeout) * time.Second},
		arxivURL:  DefaultArxivURL,
	}
}

// SetArxivURL overrides the fallback endpoint. Used by tests.
func (a *Adapter) SetArxivURL(u string) { a.arxivURL = u }

// SetHTTPClient overrides the transport. Used by tests.
func (a *Adapter) SetHTTPClient(c *http.Client) { a.client = c }

// SearchConfigured reports whether a remote search service is set.
func (a *Adapter) SearchConfigured() bool { return a.searchCfg.BaseURL != "" }

// ReadConfigured reports whether a remote read service is set.
func (a *Adapter) ReadConfigured() bool { return a.readCfg.BaseURL != "" }

// Search queries the remote service, or arXiv as fallback. The returned map
// is the service payload; list responses are adapted into the canonical
// shape.
func (a *Adapter) Search(ctx context.Context, query string, questionList []string) (map[string]any, error) {
	if a.SearchConfigured() {
		return a.searchRemote(ctx, query, questionList)
	}
	return a.searchArxiv(ctx, query, questionList)
}

// ReadPapers resolves paper items through the remote service, or arXiv as
// fallback.
func (a *Adapter) ReadPapers(ctx context.Context, items []map[string]any) (map[string]any, error) {
	if a.ReadConfigured() {
		return a.readRemote(ctx, items)
	}
	return a.readArxiv(ctx, items)
}

func joinURL(base, endpoint string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (a *Adapter) postJSON(ctx context.Context, url, apiKey string, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("remote returned invalid JSON: %w", err)
	}
	return parsed, nil
}

func (a *Adapter) searchRemote(ctx context.Context, query string, questionList []string) (map[string]any, error) {
	url := joinURL(a.searchCfg.BaseURL, a.searchCfg.Endpoint)
	parsed, err := a.postJSON(ctx, url, a.searchCfg.APIKey, map[string]any{
		"query":         query,
		"question_list": questionList,
	})
	if err != nil {
		return nil, err
	}

	switch data := parsed.(type) {
	case map[string]any:
		return data, nil
	case []any:
		return a.adaptListPayload(data, query, questionList), nil
	default:
		return map[string]any{
			"success": false,
			"error":   "invalid_remote_payload",
			"papers":  []any{},
			"count":   0,
		}, nil
	}
}

// adaptListPayload converts a bare-list response into the canonical search
// payload shape.
func (a *Adapter) adaptListPayload(items []any, query string, questionList []string) map[string]any {
	var papers []any
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if p := normalizeRemotePaper(row); p != nil {
			papers = append(papers, p)
		}
	}

	var questions []string
	for _, q := range questionList {
		if strings.TrimSpace(q) != "" {
			questions = append(questions, q)
		}
	}
	queryText := strings.TrimSpace(query)
	if queryText != "" && !containsString(questions, queryText) {
		questions = append([]string{queryText}, questions...)
	}

	bucketQuestions := questions
	if len(bucketQuestions) == 0 && queryText != "" {
		bucketQuestions = []string{queryText}
	}
	questionResults := make([]any, 0, len(bucketQuestions))
	for _, q := range bucketQuestions {
		questionResults = append(questionResults, map[string]any{
			"question": q,
			"success":  len(papers) > 0,
			"count":    len(papers),
			"papers":   papers,
		})
	}

	return map[string]any{
		"success":          true,
		"provider":         "remote_list_adapted",
		"query":            queryText,
		"questions":        questions,
		"papers":           papers,
		"count":            len(papers),
		"question_results": questionResults,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeRemotePaper(item map[string]any) map[string]any {
	title := strings.TrimSpace(stringField(item, "title"))
	snippet := strings.TrimSpace(stringField(item, "snippet"))
	if snippet == "" {
		snippet = strings.TrimSpace(stringField(item, "abstract"))
	}
	link := strings.TrimSpace(stringField(item, "link"))
	if link == "" {
		link = strings.TrimSpace(stringField(item, "url"))
	}
	rawID := strings.TrimSpace(stringField(item, "id"))
	if rawID == "" {
		rawID = strings.TrimSpace(stringField(item, "arxiv_id"))
	}

	// Some list responses carry the arXiv identifier in "link".
	arxivID := rawID
	if arxivID == "" && link != "" && !strings.Contains(link, "http") {
		arxivID = link
	}
	if strings.HasPrefix(arxivID, "arXiv:") {
		arxivID = strings.TrimSpace(strings.SplitN(arxivID, ":", 2)[1])
	}

	absURL := ""
	pdfURL := ""
	if arxivID != "" {
		absURL = "https://arxiv.org/abs/" + arxivID
		pdfURL = "https://arxiv.org/pdf/" + arxivID + ".pdf"
	} else if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		absURL = link
	}

	id := arxivID
	if id == "" {
		id = link
	}
	finalURL := absURL
	if finalURL == "" {
		finalURL = link
	}

	return map[string]any{
		"id":       id,
		"arxiv_id": arxivID,
		"title":    title,
		"abstract": snippet,
		"url":      finalURL,
		"abs_url":  finalURL,
		"pdf_url":  pdfURL,
		"source":   "remote",
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func (a *Adapter) readRemote(ctx context.Context, items []map[string]any) (map[string]any, error) {
	url := joinURL(a.readCfg.BaseURL, a.readCfg.Endpoint)
	parsed, err := a.postJSON(ctx, url, a.readCfg.APIKey, map[string]any{"items": items})
	if err != nil {
		return nil, err
	}
	if data, ok := parsed.(map[string]any); ok {
		return data, nil
	}
	return map[string]any{
		"success": false,
		"error":   "invalid_remote_payload",
		"items":   []any{},
	}, nil
}
