package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.MaxPDFBytes != 50*1024*1024 {
		t.Errorf("max_pdf_bytes default: %d", s.MaxPDFBytes)
	}
	if s.AgentResumeAttempts != 2 {
		t.Errorf("agent_resume_attempts default: %d", s.AgentResumeAttempts)
	}
	if s.MinPaperSearchCallsForPDFAnnotate != 3 || s.MinAnnotationsForFinal != 10 {
		t.Errorf("gate defaults: %+v", s)
	}
	if s.EnableFinalGates {
		t.Error("final gates must default to off")
	}
	if !s.ForceEnglishOutput {
		t.Error("force_english_output must default to on")
	}

	templates := s.MinerUPollTemplates()
	if len(templates) != 3 {
		t.Fatalf("expected 3 poll templates, got %v", templates)
	}
	for _, tmpl := range templates {
		if tmpl == "" {
			t.Error("empty template survived split")
		}
	}
}

func TestManagerLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "agent_model: test-model\nmax_pdf_bytes: 1024\nenable_final_gates: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	s := cm.Get()
	if s.AgentModel != "test-model" {
		t.Errorf("agent_model: %q", s.AgentModel)
	}
	if s.MaxPDFBytes != 1024 {
		t.Errorf("max_pdf_bytes: %d", s.MaxPDFBytes)
	}
	if !s.EnableFinalGates {
		t.Error("enable_final_gates not applied")
	}
	// Unset keys keep their defaults.
	if s.MinerUUploadEndpoint != "/file-urls/batch" {
		t.Errorf("default lost: %q", s.MinerUUploadEndpoint)
	}
}

func TestManagerMissingFileUsesDefaults(t *testing.T) {
	cm, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if cm.Get().AgentMaxTurns != 1000 {
		t.Errorf("defaults not applied: %+v", cm.Get())
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("REFEREE_TEST_TOKEN", "sekrit")
	if got := ResolveEnvVars("${REFEREE_TEST_TOKEN}"); got != "sekrit" {
		t.Errorf("got %q", got)
	}
	if got := ResolveEnvVars("plain"); got != "plain" {
		t.Errorf("got %q", got)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if cm.Get().MinerUBaseURL != "https://mineru.net/api/v4" {
		t.Errorf("round trip lost defaults: %+v", cm.Get())
	}
}
