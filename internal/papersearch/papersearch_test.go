package papersearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

const atomSample = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <title>Attention Is All You Need</title>
    <summary>We propose the Transformer.</summary>
    <published>2017-06-12T17:57:34Z</published>
    <updated>2023-08-02T00:41:18Z</updated>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
</feed>`

func TestSearch_RemoteDictPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		if body["query"] != "transformers" {
			t.Errorf("unexpected query: %v", body["query"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "count": 2, "papers": [{}, {}]}`))
	}))
	defer srv.Close()

	a := New(SearchConfig{BaseURL: srv.URL, APIKey: "sekrit", Endpoint: "/search"}, ReadConfig{})
	out, err := a.Search(context.Background(), "transformers", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if out["success"] != true || out["count"] != float64(2) {
		t.Errorf("payload not passed through: %v", out)
	}
}

func TestSearch_RemoteListAdapted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"title": "Paper A", "snippet": "about A", "link": "2101.00001"},
			{"title": "Paper B", "abstract": "about B", "url": "https://example.org/b"}
		]`))
	}))
	defer srv.Close()

	a := New(SearchConfig{BaseURL: srv.URL, Endpoint: "search"}, ReadConfig{})
	out, err := a.Search(context.Background(), "topic", []string{"q1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if out["provider"] != "remote_list_adapted" || out["success"] != true {
		t.Errorf("unexpected payload: %v", out)
	}
	if out["count"] != 2 {
		t.Errorf("expected count 2, got %v", out["count"])
	}

	papers := out["papers"].([]any)
	first := papers[0].(map[string]any)
	if first["arxiv_id"] != "2101.00001" {
		t.Errorf("link not treated as arXiv id: %v", first)
	}
	if first["abs_url"] != "https://arxiv.org/abs/2101.00001" {
		t.Errorf("abs_url mismatch: %v", first)
	}

	questions := out["questions"].([]string)
	if !reflect.DeepEqual(questions, []string{"topic", "q1"}) {
		t.Errorf("query not prepended: %v", questions)
	}
	if len(out["question_results"].([]any)) != 2 {
		t.Errorf("expected one bucket per question: %v", out["question_results"])
	}
}

func TestSearch_InvalidRemotePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"just a string"`))
	}))
	defer srv.Close()

	a := New(SearchConfig{BaseURL: srv.URL, Endpoint: "search"}, ReadConfig{})
	out, err := a.Search(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if out["error"] != "invalid_remote_payload" {
		t.Errorf("expected invalid_remote_payload, got %v", out)
	}
}

func TestSearch_ArxivFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomSample))
	}))
	defer srv.Close()

	a := New(SearchConfig{}, ReadConfig{})
	a.SetArxivURL(srv.URL)

	out, err := a.Search(context.Background(), "what are recent papers about attention", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if out["provider"] != "arxiv_fallback" || out["success"] != true {
		t.Errorf("unexpected payload: %v", out)
	}
	papers := out["papers"].([]any)
	if len(papers) != 1 {
		t.Fatalf("expected 1 paper, got %d", len(papers))
	}
	paper := papers[0].(map[string]any)
	if paper["arxiv_id"] != "1706.03762v7" || paper["source"] != "arxiv" {
		t.Errorf("unexpected paper: %v", paper)
	}
	if paper["pdf_url"] != "https://arxiv.org/pdf/1706.03762v7.pdf" {
		t.Errorf("pdf_url mismatch: %v", paper["pdf_url"])
	}
}

func TestSearch_ArxivFallbackEmptyQuery(t *testing.T) {
	a := New(SearchConfig{}, ReadConfig{})
	out, err := a.Search(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if out["error"] != "empty_query" {
		t.Errorf("expected empty_query, got %v", out)
	}
}

func TestReadPapers_ArxivFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomSample))
	}))
	defer srv.Close()

	a := New(SearchConfig{}, ReadConfig{})
	a.SetArxivURL(srv.URL)

	t.Run("empty items", func(t *testing.T) {
		out, err := a.ReadPapers(context.Background(), nil)
		if err != nil {
			t.Fatalf("ReadPapers failed: %v", err)
		}
		if out["error"] != "empty_items" {
			t.Errorf("expected empty_items, got %v", out)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		out, err := a.ReadPapers(context.Background(), []map[string]any{{"question": "q"}})
		if err != nil {
			t.Fatalf("ReadPapers failed: %v", err)
		}
		items := out["items"].([]any)
		item := items[0].(map[string]any)
		if item["error"] != "missing_arxiv_id" {
			t.Errorf("expected missing_arxiv_id, got %v", item)
		}
	})

	t.Run("successful read with answer", func(t *testing.T) {
		out, err := a.ReadPapers(context.Background(), []map[string]any{
			{"id": "1706.03762", "question": "what is the architecture"},
		})
		if err != nil {
			t.Fatalf("ReadPapers failed: %v", err)
		}
		items := out["items"].([]any)
		item := items[0].(map[string]any)
		if item["success"] != true {
			t.Fatalf("expected success, got %v", item)
		}
		answer := item["answer"].(string)
		if len(answer) < 9 || answer[:9] != "Question:" {
			t.Errorf("unexpected answer: %q", answer)
		}
	})
}

func TestQuestionToArxivQuery(t *testing.T) {
	got := questionToArxivQuery("What are recent papers about Transformer attention?")
	if got != "transformer attention" {
		t.Errorf("got %q", got)
	}

	t.Run("caps at ten tokens", func(t *testing.T) {
		got := questionToArxivQuery("alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu")
		if len(got) == 0 || len(got) > len("alpha beta gamma delta epsilon zeta eta theta iota kappa") {
			t.Errorf("got %q", got)
		}
	})
}

func TestNormalizeQuestionList(t *testing.T) {
	t.Run("string list", func(t *testing.T) {
		got := NormalizeQuestionList([]string{"  a  b ", "A B", "c", "d"})
		if !reflect.DeepEqual(got, []string{"a b", "c", "d"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("json array string", func(t *testing.T) {
		got := NormalizeQuestionList(`["one", "two"]`)
		if !reflect.DeepEqual(got, []string{"one", "two"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("bullet text", func(t *testing.T) {
		got := NormalizeQuestionList("- first question\n• second question\n")
		if !reflect.DeepEqual(got, []string{"first question", "second question"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("nil and empty", func(t *testing.T) {
		if got := NormalizeQuestionList(nil); len(got) != 0 {
			t.Errorf("got %v", got)
		}
		if got := NormalizeQuestionList("  "); len(got) != 0 {
			t.Errorf("got %v", got)
		}
	})
}

func TestSignature(t *testing.T) {
	if got := Signature("  What   IS  this "); got != "what is this" {
		t.Errorf("got %q", got)
	}
}
