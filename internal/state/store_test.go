package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/refereehq/referee/internal/home"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New failed: %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	return NewStore(h)
}

func writeTestPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("failed to write test pdf: %v", err)
	}
	return path
}

func TestStore_CreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create("Attention Is All You Need", writeTestPDF(t))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if job.Status != StatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}
	if job.SourcePDFName != "paper.pdf" {
		t.Errorf("expected source name paper.pdf, got %s", job.SourcePDFName)
	}

	t.Run("source pdf copied before path recorded", func(t *testing.T) {
		path := job.Artifacts[ArtifactSourcePDF]
		if path == "" {
			t.Fatal("source_pdf artifact not recorded")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("recorded artifact missing on disk: %v", err)
		}
	})

	t.Run("created event appended", func(t *testing.T) {
		events, err := s.Events(job.ID)
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(events) == 0 || events[0].Name != "created" {
			t.Fatalf("expected created event first, got %v", events)
		}
		if events[0].Fields["title"] != "Attention Is All You Need" {
			t.Errorf("unexpected title: %v", events[0].Fields)
		}
	})

	loaded, err := s.Load(job.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ID != job.ID || loaded.Status != StatusQueued {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("550e8400-e29b-41d4-a716-446655440000")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_SetStatus(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create("t", writeTestPDF(t))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := s.SetStatus(job.ID, StatusPDFParsing, "parsing pdf")
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if updated.Status != StatusPDFParsing || updated.Message != "parsing pdf" {
		t.Errorf("unexpected record: %+v", updated)
	}

	events, _ := s.Events(job.ID)
	last := events[len(events)-1]
	if last.Name != "status" || last.Fields["status"] != "pdf_parsing" {
		t.Errorf("expected status event, got %+v", last)
	}
}

func TestStore_Fail(t *testing.T) {
	s := newTestStore(t)
	job, _ := s.Create("t", writeTestPDF(t))

	failed, err := s.Fail(job.ID, errors.New("parse blew up"))
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
	if failed.Error == "" || failed.Error[len(failed.Error)-len("parse blew up"):] != "parse blew up" {
		t.Errorf("expected single-line error detail, got %q", failed.Error)
	}
}

func TestStore_SetArtifactRequiresFile(t *testing.T) {
	s := newTestStore(t)
	job, _ := s.Create("t", writeTestPDF(t))

	if _, err := s.SetArtifact(job.ID, ArtifactMarkdown, filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatal("expected error for missing artifact file")
	}

	md := s.Home().MarkdownPath(job.ID)
	if err := os.WriteFile(md, []byte("# hello"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	updated, err := s.SetArtifact(job.ID, ArtifactMarkdown, md)
	if err != nil {
		t.Fatalf("SetArtifact failed: %v", err)
	}
	if updated.Artifacts[ArtifactMarkdown] != md {
		t.Errorf("artifact not recorded: %+v", updated.Artifacts)
	}
}

func TestStore_Annotations(t *testing.T) {
	s := newTestStore(t)
	job, _ := s.Create("t", writeTestPDF(t))

	anns := []Annotation{{ID: "a1", Page: 1, StartLine: 1, EndLine: 2, Comment: "typo", ObjectType: AnnotationSuggestion}}
	path, err := s.SaveAnnotations(job.ID, anns)
	if err != nil {
		t.Fatalf("SaveAnnotations failed: %v", err)
	}
	if filepath.Base(path) != "annotations.json" {
		t.Errorf("unexpected path %s", path)
	}

	loaded, err := s.LoadAnnotations(job.ID)
	if err != nil {
		t.Fatalf("LoadAnnotations failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Comment != "typo" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}

	t.Run("missing file yields empty", func(t *testing.T) {
		other, _ := s.Create("u", writeTestPDF(t))
		loaded, err := s.LoadAnnotations(other.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(loaded) != 0 {
			t.Errorf("expected no annotations, got %d", len(loaded))
		}
	})
}

func TestJob_HasPersistMarker(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		j := &Job{}
		if j.HasPersistMarker() {
			t.Error("expected no marker")
		}
	})
	t.Run("ready latch", func(t *testing.T) {
		j := &Job{FinalReportReady: true}
		if !j.HasPersistMarker() {
			t.Error("expected marker from latch")
		}
	})
	t.Run("artifact path", func(t *testing.T) {
		j := &Job{Artifacts: map[string]string{ArtifactFinalMarkdown: "/tmp/final.md"}}
		if !j.HasPersistMarker() {
			t.Error("expected marker from artifact")
		}
	})
	t.Run("metadata source tag", func(t *testing.T) {
		j := &Job{}
		j.SetMetadata("final_report_source", "section_mode")
		if !j.HasPersistMarker() {
			t.Error("expected marker from metadata")
		}
	})
}
