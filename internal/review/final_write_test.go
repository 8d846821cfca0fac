package review

import (
	"os"
	"testing"

	"github.com/refereehq/referee/internal/config"
	"github.com/refereehq/referee/internal/report"
)

func TestFinalWrite_SectionModeHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	last := f.submitAllSections(t)
	if last["status"] != "ok" || last["task_completed"] != true || last["final_report_persisted"] != true {
		t.Fatalf("commit payload: %v", last)
	}

	data, err := os.ReadFile(f.home.FinalReportMDPath(f.jobID))
	if err != nil {
		t.Fatalf("final markdown not written: %v", err)
	}
	md := string(data)

	// Exactly eleven headings in canonical order.
	sections := report.ExtractSections(md)
	if len(sections) != len(report.SectionOrder()) {
		t.Errorf("expected %d sections, got %d", len(report.SectionOrder()), len(sections))
	}
	lastPos := -1
	for _, id := range report.SectionOrder() {
		pos := indexOfHeading(md, report.SectionTitle(id))
		if pos < 0 {
			t.Errorf("section %s missing from assembled markdown", id)
			continue
		}
		if pos < lastPos {
			t.Errorf("section %s out of canonical order", id)
		}
		lastPos = pos
	}

	if n := f.countEvents(t, "final_report_persisted"); n != 1 {
		t.Errorf("expected exactly one final_report_persisted event, got %d", n)
	}

	job, err := f.store.Load(f.jobID)
	if err != nil {
		t.Fatal(err)
	}
	if !job.FinalReportReady {
		t.Error("final_report_ready latch not set")
	}
	if job.MetadataString("final_report_source") != "review_annotation_agent" {
		t.Errorf("final_report_source: %q", job.MetadataString("final_report_source"))
	}
}

func indexOfHeading(md, title string) int {
	needle := "## " + title
	for i := 0; i+len(needle) <= len(md); i++ {
		if md[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestFinalWrite_PartialProgress(t *testing.T) {
	f := newFixture(t, nil)

	for i, id := range []string{"summary", "strengths", "weaknesses"} {
		payload := f.call(t, "review_final_markdown_write", map[string]any{
			"section_id":      id,
			"section_content": "Content for " + id + ".",
		})
		if payload["status"] != "partial" || payload["reason"] != "required_sections_missing" {
			t.Fatalf("write %d: %v", i, payload)
		}
		next := payload["next_required_section"].(map[string]any)
		if next["id"] != "key_issues" {
			t.Errorf("write %d next_required_section: %v", i, next)
		}
		completed := payload["completed_sections"].([]any)
		if len(completed) != i+1 {
			t.Errorf("write %d completed count: %d", i, len(completed))
		}
		if payload["draft_version"].(float64) != float64(i+1) {
			t.Errorf("write %d draft_version: %v", i, payload["draft_version"])
		}
	}

	if n := f.countEvents(t, "final_report_persisted"); n != 0 {
		t.Errorf("premature commit: %d events", n)
	}
	if n := f.countEvents(t, "final_report_draft_saved"); n != 3 {
		t.Errorf("draft events: %d", n)
	}
}

func TestFinalWrite_IdempotentRecommit(t *testing.T) {
	f := newFixture(t, nil)
	f.submitAllSections(t)

	path := f.home.FinalReportMDPath(f.jobID)
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(path)

	payload := f.call(t, "review_final_markdown_write", map[string]any{
		"section_id":      "summary",
		"section_content": "A totally different summary.",
	})
	if payload["status"] != "ok" || payload["task_completed"] != true || payload["final_report_persisted"] != true {
		t.Fatalf("re-commit payload: %v", payload)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("final markdown mtime changed after re-commit")
	}
	content2, _ := os.ReadFile(path)
	if string(content) != string(content2) {
		t.Error("final markdown content changed after re-commit")
	}
	if n := f.countEvents(t, "final_report_persisted"); n != 1 {
		t.Errorf("persisted events: %d", n)
	}
	if n := f.countEvents(t, "final_report_write_ignored_after_commit"); n != 1 {
		t.Errorf("ignored-after-commit events: %d", n)
	}

	job, err := f.store.Load(f.jobID)
	if err != nil {
		t.Fatal(err)
	}
	if !job.FinalReportReady {
		t.Error("latch must stay set")
	}
}

func TestFinalWrite_ValidationErrors(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("section_id_invalid", func(t *testing.T) {
		payload := f.call(t, "review_final_markdown_write", map[string]any{
			"section_id": "conclusions", "section_content": "x",
		})
		if payload["reason"] != "section_id_invalid" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	})

	t.Run("section_content_required when omitted", func(t *testing.T) {
		payload := f.call(t, "review_final_markdown_write", map[string]any{"section_id": "summary"})
		if payload["reason"] != "section_content_required" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	})

	t.Run("section_content_required when empty after normalization", func(t *testing.T) {
		payload := f.call(t, "review_final_markdown_write", map[string]any{
			"section_id": "summary", "section_content": "## Summary\n\n",
		})
		if payload["reason"] != "section_content_required" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	})

	t.Run("section_payload_required with no draft", func(t *testing.T) {
		payload := f.call(t, "review_final_markdown_write", map[string]any{})
		if payload["reason"] != "section_payload_required" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	})
}

func TestFinalWrite_MarkdownBlobParsing(t *testing.T) {
	f := newFixture(t, nil)

	md := "## Summary\nGood paper.\n\n## Strengths\n- solid\n\n## Unrelated Heading\nignored\n"
	payload := f.call(t, "review_final_markdown_write", map[string]any{"markdown": md})
	if payload["status"] != "partial" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	completed := payload["completed_sections"].([]any)
	if len(completed) != 2 {
		t.Fatalf("expected summary+strengths parsed, got %v", completed)
	}
}

func TestFinalWrite_LegacyFields(t *testing.T) {
	f := newFixture(t, nil)

	payload := f.call(t, "review_final_markdown_write", map[string]any{
		"summary":   "A fine paper.",
		"strengths": []any{"clear writing", "strong baselines"},
	})
	if payload["status"] != "partial" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if f.rt.draftSections["strengths"] != "- clear writing\n- strong baselines" {
		t.Errorf("list not bulleted: %q", f.rt.draftSections["strengths"])
	}
}

func TestFinalWrite_Gates(t *testing.T) {
	newGated := func(t *testing.T) *fixture {
		return newFixture(t, func(s *config.Settings) {
			s.EnableFinalGates = true
			s.MinPaperSearchCallsForPDFAnnotate = 0
			s.MinPaperSearchCallsForFinal = 2
			s.MinDistinctPaperQueriesForFinal = 2
			s.MinAnnotationsForFinal = 1
		})
	}

	t.Run("paper_search_calls_not_met", func(t *testing.T) {
		f := newGated(t)
		last := f.submitAllSections(t)
		if last["reason"] != "paper_search_calls_not_met" {
			t.Fatalf("unexpected payload: %v", last)
		}
		if f.countEvents(t, "final_report_persisted") != 0 {
			t.Error("gate failure must not commit")
		}
	})

	t.Run("distinct_queries gate", func(t *testing.T) {
		f := newGated(t)
		f.call(t, "paper_search", map[string]any{"query": "same query"})
		f.call(t, "paper_search", map[string]any{"query": "SAME   query"})
		last := f.submitAllSections(t)
		if last["reason"] != "paper_search_distinct_queries_not_met" {
			t.Fatalf("unexpected payload: %v", last)
		}
	})

	t.Run("annotation gate then commit", func(t *testing.T) {
		f := newGated(t)
		f.call(t, "paper_search", map[string]any{"query": "first topic"})
		f.call(t, "paper_search", map[string]any{"query": "second topic"})
		last := f.submitAllSections(t)
		if last["reason"] != "annotation_count_not_met" {
			t.Fatalf("unexpected payload: %v", last)
		}

		f.call(t, "pdf_annotate", map[string]any{
			"page": float64(1), "start_line": float64(1), "end_line": float64(1),
			"comment": "unsupported claim",
		})
		last = f.call(t, "review_final_markdown_write", map[string]any{})
		if last["status"] != "ok" || last["task_completed"] != true {
			t.Fatalf("commit after gates met: %v", last)
		}
	})
}

func TestFinalWrite_EnglishRequired(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		s.EnableFinalGates = true
		s.MinPaperSearchCallsForPDFAnnotate = 0
		s.MinPaperSearchCallsForFinal = 0
		s.MinDistinctPaperQueriesForFinal = 0
		s.MinAnnotationsForFinal = 1
	})
	f.call(t, "pdf_annotate", map[string]any{
		"page": float64(1), "start_line": float64(1), "end_line": float64(1),
		"comment": "ok",
	})

	var last map[string]any
	for _, id := range report.SectionOrder() {
		content := "Content for " + id + "."
		if id == "scores" {
			content = "评分 7/10"
		}
		last = f.call(t, "review_final_markdown_write", map[string]any{
			"section_id": id, "section_content": content,
		})
	}
	if last["reason"] != "english_required" {
		t.Fatalf("unexpected payload: %v", last)
	}
	if f.countEvents(t, "final_report_persisted") != 0 {
		t.Error("validation failure must not commit")
	}
}

func TestFinalWrite_ValidationSkippedWithGatesOff(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		s.ForceEnglishOutput = true
		s.EnableFinalGates = false
	})

	var last map[string]any
	for _, id := range report.SectionOrder() {
		content := "Content for " + id + "."
		if id == "scores" {
			content = "评分 7/10"
		}
		last = f.call(t, "review_final_markdown_write", map[string]any{
			"section_id": id, "section_content": content,
		})
	}
	if last["status"] != "ok" || last["task_completed"] != true {
		t.Fatalf("gates-off commit: %v", last)
	}
	if f.countEvents(t, "final_report_validation_skipped") != 1 {
		t.Error("missing final_report_validation_skipped event")
	}
	if f.countEvents(t, "final_report_persisted") != 1 {
		t.Error("commit must still happen with gates off")
	}
}

func TestFinalWrite_CompositeHeadingSubstringMatch(t *testing.T) {
	f := newFixture(t, nil)

	payload := f.call(t, "review_final_markdown_write", map[string]any{
		"markdown": "## Strengths and Weaknesses\nmixed bag\n",
	})
	if payload["status"] != "partial" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if f.rt.draftSections["strengths"] == "" {
		t.Error("composite heading must resolve to the first alias match (strengths)")
	}
}
