// Package state defines the canonical job record and its persistence.
//
// One job.json per job is the single source of truth. It is rewritten in
// full on every mutation; the event log alongside it is append-only.
package state

import (
	"time"
)

// Status is the lifecycle stage of a review job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusPDFUploading Status = "pdf_uploading"
	StatusPDFParsing   Status = "pdf_parsing"
	StatusAgentRunning Status = "agent_running"
	StatusFinalPersist Status = "final_persisting"
	StatusPDFExporting Status = "pdf_exporting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Artifact roles recorded in Job.Artifacts.
const (
	ArtifactSourcePDF     = "source_pdf"
	ArtifactMarkdown      = "markdown"
	ArtifactContentList   = "content_list"
	ArtifactAnnotations   = "annotations"
	ArtifactFinalMarkdown = "final_markdown"
	ArtifactReportPDF     = "report_pdf"
	ArtifactPrompt        = "prompt"
	ArtifactRawResult     = "raw_result"
)

// TokenUsage is the cumulative LLM token accounting for a job.
type TokenUsage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ToolUsage counts tool invocations across the agent run.
type ToolUsage struct {
	TotalCalls    int            `json:"total_calls"`
	DistinctTools int            `json:"distinct_tools"`
	PerTool       map[string]int `json:"per_tool,omitempty"`
}

// PaperSearchUsage tracks external literature-search activity. Counters are
// monotonic; QuerySignatures holds normalized query strings so distinct-query
// counting survives a resume.
type PaperSearchUsage struct {
	TotalCalls      int      `json:"total_calls"`
	SuccessfulCalls int      `json:"successful_calls"`
	EffectiveCalls  int      `json:"effective_calls"`
	PapersFound     int      `json:"papers_found"`
	DistinctQueries int      `json:"distinct_queries"`
	QuerySignatures []string `json:"query_signatures,omitempty"`
}

// UsageSnapshot groups the three counter families on the job record.
type UsageSnapshot struct {
	Tokens      TokenUsage       `json:"tokens"`
	Tools       ToolUsage        `json:"tools"`
	PaperSearch PaperSearchUsage `json:"paper_search"`
}

// Annotation is an agent-authored comment bound to a line range on a page.
type Annotation struct {
	ID         string    `json:"id"`
	Page       int       `json:"page"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	Text       string    `json:"text"`
	Comment    string    `json:"comment"`
	Summary    string    `json:"summary,omitempty"`
	ObjectType string    `json:"object_type"`
	Severity   string    `json:"severity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Annotation object types.
const (
	AnnotationIssue        = "issue"
	AnnotationSuggestion   = "suggestion"
	AnnotationVerification = "verification"
)

// AnnotationsFile is the on-disk shape of annotations.json.
type AnnotationsFile struct {
	Annotations []Annotation `json:"annotations"`
	Count       int          `json:"count"`
}

// Job is the canonical persisted record for one submission.
type Job struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	Title         string `json:"title,omitempty"`
	SourcePDFName string `json:"source_pdf_name,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Usage           UsageSnapshot `json:"usage"`
	AnnotationCount int           `json:"annotation_count"`

	// Monotonic latches; once true they stay true for the lifecycle.
	FinalReportReady bool `json:"final_report_ready"`
	PDFReady         bool `json:"pdf_ready"`

	Artifacts map[string]string `json:"artifacts,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// SetMetadata records an auxiliary trace value on the job.
func (j *Job) SetMetadata(key string, value any) {
	if j.Metadata == nil {
		j.Metadata = map[string]any{}
	}
	j.Metadata[key] = value
}

// MetadataString fetches a metadata value as a string, or "".
func (j *Job) MetadataString(key string) string {
	if j.Metadata == nil {
		return ""
	}
	if s, ok := j.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// HasPersistMarker reports whether a final commit is recorded on the job by
// any of the three recognized markers. Recovery uses this to decide whether
// a crashed run should still complete.
func (j *Job) HasPersistMarker() bool {
	if j.FinalReportReady {
		return true
	}
	if j.Artifacts != nil && j.Artifacts[ArtifactFinalMarkdown] != "" {
		return true
	}
	return j.MetadataString("final_report_source") != ""
}
