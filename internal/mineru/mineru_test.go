package mineru

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("write pdf failed: %v", err)
	}
	return path
}

func buildResultZip(t *testing.T, markdown string, contentList []map[string]any) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("full.md")
	if err != nil {
		t.Fatalf("zip create failed: %v", err)
	}
	w.Write([]byte(markdown))

	if contentList != nil {
		w, err := zw.Create("paper_content_list.json")
		if err != nil {
			t.Fatalf("zip create failed: %v", err)
		}
		data, _ := json.Marshal(contentList)
		w.Write(data)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("zip close failed: %v", err)
	}
	return buf.Bytes()
}

func TestParsePDF_FullRemoteFlowWithBenignPollError(t *testing.T) {
	zipData := buildResultZip(t, "## Page 1\nparsed text", []map[string]any{
		{"page_idx": float64(0), "type": "text", "text": "parsed text"},
	})

	var polls int32
	var putSeen int32

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/file-urls/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		files := body["files"].([]any)
		first := files[0].(map[string]any)
		if first["name"] != "paper.pdf" || first["data_id"] == "" {
			t.Errorf("unexpected upload request: %v", body)
		}
		fmt.Fprintf(w, `{"code": 0, "data": {"batch_id": "b-1", "file_urls": ["%s/put"]}}`, srv.URL)
	})

	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		atomic.AddInt32(&putSeen, 1)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/status/b-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n == 1 {
			// Benign pattern: must not be treated as terminal failure.
			w.Write([]byte(`{"code": -60012, "msg": "task not found or expire"}`))
			return
		}
		fmt.Fprintf(w, `{"code": 0, "data": {"state": "done", "full_zip_url": "%s/result.zip"}}`, srv.URL)
	})

	mux.HandleFunc("/result.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipData)
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	a := New(Config{
		BaseURL:        srv.URL,
		APIToken:       "tok",
		ModelVersion:   "v4",
		UploadEndpoint: "/file-urls/batch",
		PollTemplates:  []string{srv.URL + "/status/{batch_id}"},
		PollInterval:   time.Millisecond,
		PollTimeout:    10 * time.Second,
	})

	result, err := a.ParsePDF(context.Background(), writePDF(t), "data-1")
	if err != nil {
		t.Fatalf("ParsePDF failed: %v", err)
	}

	if result.Provider != "mineru_v4" || result.BatchID != "b-1" {
		t.Errorf("unexpected result meta: %+v", result)
	}
	if !strings.Contains(result.Markdown, "parsed text") {
		t.Errorf("markdown not extracted from zip: %q", result.Markdown)
	}
	if len(result.ContentList) != 1 || result.ContentList[0]["text"] != "parsed text" {
		t.Errorf("content list not extracted from zip: %v", result.ContentList)
	}
	if atomic.LoadInt32(&putSeen) != 1 {
		t.Errorf("expected one PUT upload, got %d", putSeen)
	}
	if atomic.LoadInt32(&polls) < 2 {
		t.Errorf("expected benign first poll to continue polling, polls=%d", polls)
	}
}

func TestParsePDF_TerminalFailure(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/file-urls/batch", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code": 0, "data": {"batch_id": "b-2", "file_urls": ["%s/put"]}}`, srv.URL)
	})
	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status/b-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "data": {"state": "failed"}}`))
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	a := New(Config{
		BaseURL:        srv.URL,
		APIToken:       "tok",
		UploadEndpoint: "/file-urls/batch",
		PollTemplates:  []string{srv.URL + "/status/{batch_id}"},
		PollInterval:   time.Millisecond,
		PollTimeout:    30 * time.Second,
	})

	_, err := a.ParsePDF(context.Background(), writePDF(t), "d")
	if err == nil || !strings.Contains(err.Error(), "batch failed") {
		t.Fatalf("expected batch failure, got %v", err)
	}
}

func TestParsePDF_UnconfiguredNoFallback(t *testing.T) {
	a := New(Config{})
	_, err := a.ParsePDF(context.Background(), writePDF(t), "d")
	if err == nil || !strings.Contains(err.Error(), "fallback is disabled") {
		t.Fatalf("expected unconfigured error, got %v", err)
	}
}

func TestTerminalHeuristics(t *testing.T) {
	parse := func(s string) map[string]any {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			t.Fatalf("bad test payload: %v", err)
		}
		return m
	}

	t.Run("inline markdown is success", func(t *testing.T) {
		if !isTerminalSuccess(parse(`{"markdown": "# doc"}`)) {
			t.Error("expected success")
		}
	})
	t.Run("nested state done is success", func(t *testing.T) {
		if !isTerminalSuccess(parse(`{"data": {"result": {"state": "DONE"}}}`)) {
			t.Error("expected success")
		}
	})
	t.Run("extract_result with done item and url", func(t *testing.T) {
		payload := parse(`{"code": 0, "data": {"extract_result": [{"state": "done", "full_zip_url": "https://x/z.zip"}]}}`)
		if !isTerminalSuccess(payload) {
			t.Error("expected success")
		}
	})
	t.Run("extract_result done without url is not success", func(t *testing.T) {
		payload := parse(`{"code": 0, "data": {"extract_result": [{"state": "done"}]}}`)
		if isTerminalSuccess(payload) {
			t.Error("expected not success")
		}
	})
	t.Run("state failed is failure", func(t *testing.T) {
		if !isTerminalFailure(parse(`{"status": "failed"}`)) {
			t.Error("expected failure")
		}
	})
	t.Run("nonzero code with error message is failure", func(t *testing.T) {
		if !isTerminalFailure(parse(`{"code": 5, "msg": "quota exceeded"}`)) {
			t.Error("expected failure")
		}
	})
	t.Run("nonzero code still processing is not failure", func(t *testing.T) {
		if isTerminalFailure(parse(`{"code": 5, "msg": "still processing"}`)) {
			t.Error("expected non-terminal")
		}
	})
	t.Run("benign expire code is not failure", func(t *testing.T) {
		if isTerminalFailure(parse(`{"code": -60012, "msg": "task not found or expire"}`)) {
			t.Error("expected non-terminal")
		}
	})
}

func TestExtractFirstURL(t *testing.T) {
	a := New(Config{BaseURL: "https://api.example.com"})

	t.Run("nested absolute url", func(t *testing.T) {
		payload := map[string]any{
			"data": map[string]any{
				"results": []any{
					map[string]any{"markdown_url": "https://cdn.example.com/doc.md"},
				},
			},
		}
		got := extractFirstURL(a, payload, []string{"markdown_url", "md_url"})
		if got != "https://cdn.example.com/doc.md" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("relative token resolved against base", func(t *testing.T) {
		payload := map[string]any{"md_url": "v4/results/doc.md"}
		got := extractFirstURL(a, payload, []string{"markdown_url", "md_url"})
		if got != "https://api.example.com/v4/results/doc.md" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if got := extractFirstURL(a, map[string]any{"other": "x"}, []string{"md_url"}); got != "" {
			t.Errorf("got %q", got)
		}
	})
}

func TestJoinFileMarkdown(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"files": []any{
				map[string]any{"markdown": "part one"},
				map[string]any{"md": "part two"},
				map[string]any{"other": "ignored"},
			},
		},
	}
	got := joinFileMarkdown(payload)
	if got != "part one\n\n---\n\npart two" {
		t.Errorf("got %q", got)
	}
}

func TestBuildStatusURLs(t *testing.T) {
	a := New(Config{
		BaseURL:       "https://api.example.com",
		PollTemplates: []string{"https://api.example.com/v4/batches/{batch_id}", "no-placeholder"},
	})

	apply := map[string]any{
		"data": map[string]any{
			"status_url": "https://api.example.com/v4/batches/b-9",
			"result_url": "v4/results/b-9",
		},
	}

	urls := a.buildStatusURLs("b-9", apply)
	want := []string{
		"https://api.example.com/v4/batches/b-9",
		"https://api.example.com/v4/results/b-9",
	}
	if len(urls) != len(want) {
		t.Fatalf("expected %d urls, got %v", len(want), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}
