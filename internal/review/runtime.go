// Package review implements the tool runtime the LLM agent drives during a
// paper review: gated annotation, paper retrieval accounting, and the
// section-mode final report assembler.
package review

import (
	"sort"
	"strings"
	"sync"

	"github.com/refereehq/referee/internal/agent"
	"github.com/refereehq/referee/internal/config"
	"github.com/refereehq/referee/internal/pageindex"
	"github.com/refereehq/referee/internal/papersearch"
	"github.com/refereehq/referee/internal/report"
	"github.com/refereehq/referee/internal/state"
)

// Runtime is the job-scoped state shared by all tool calls of one agent run.
// The agent issues tool calls sequentially, so the runtime needs no locking
// of its own.
type Runtime struct {
	JobID     string
	JobDir    string
	PageIndex pageindex.Index
	Markdown  string
	Papers    *papersearch.Adapter
	Settings  *config.Settings

	store *state.Store

	annotations   []state.Annotation
	draftSections map[string]string
	draftVersion  int

	// finalMarkdown is the committed report. The controller's watcher polls
	// it from another goroutine, so it gets its own lock.
	finalMu       sync.RWMutex
	finalMarkdown string

	toolCounts  map[string]int
	searchUsage state.PaperSearchUsage
	signatures  map[string]struct{}

	statusUpdates []map[string]string

	// usageSource reports the agent's cumulative token totals; set once the
	// agent wrapping this runtime exists.
	usageSource func() agent.TokenTotals
}

// NewRuntime creates the runtime for one agent run.
func NewRuntime(jobID, jobDir string, st *state.Store, idx pageindex.Index, markdown string, papers *papersearch.Adapter, settings *config.Settings) *Runtime {
	return &Runtime{
		JobID:         jobID,
		JobDir:        jobDir,
		PageIndex:     idx,
		Markdown:      markdown,
		Papers:        papers,
		Settings:      settings,
		store:         st,
		draftSections: map[string]string{},
		toolCounts:    map[string]int{},
		signatures:    map[string]struct{}{},
	}
}

// SetUsageSource wires the agent's live token counters into state sync.
func (rt *Runtime) SetUsageSource(fn func() agent.TokenTotals) {
	rt.usageSource = fn
}

// RecordTool bumps the per-tool call counter.
func (rt *Runtime) RecordTool(name string) {
	rt.toolCounts[name]++
}

// ToolCount returns how many times a tool has been called.
func (rt *Runtime) ToolCount(name string) int {
	return rt.toolCounts[name]
}

// AnnotationCount returns the number of persisted annotations.
func (rt *Runtime) AnnotationCount() int {
	return len(rt.annotations)
}

// Annotations returns the annotation list in creation order.
func (rt *Runtime) Annotations() []state.Annotation {
	out := make([]state.Annotation, len(rt.annotations))
	copy(out, rt.annotations)
	return out
}

// FinalMarkdown returns the committed final report, or empty before the
// commit. The controller's watcher polls this.
func (rt *Runtime) FinalMarkdown() string {
	rt.finalMu.RLock()
	defer rt.finalMu.RUnlock()
	return rt.finalMarkdown
}

// DraftVersion returns the current section draft version.
func (rt *Runtime) DraftVersion() int {
	return rt.draftVersion
}

// SearchUsage returns a copy of the paper-search counters.
func (rt *Runtime) SearchUsage() state.PaperSearchUsage {
	return rt.usageSnapshot()
}

func (rt *Runtime) usageSnapshot() state.PaperSearchUsage {
	usage := rt.searchUsage
	usage.QuerySignatures = rt.sortedSignatures()
	return usage
}

func (rt *Runtime) sortedSignatures() []string {
	sigs := make([]string, 0, len(rt.signatures))
	for sig := range rt.signatures {
		if sig != "" {
			sigs = append(sigs, sig)
		}
	}
	sort.Strings(sigs)
	return sigs
}

func (rt *Runtime) addSignature(raw string) {
	sig := papersearch.Signature(raw)
	if sig != "" {
		rt.signatures[sig] = struct{}{}
	}
}

func (rt *Runtime) recomputeDistinct() {
	rt.searchUsage.DistinctQueries = len(rt.signatures)
}

// SyncStateUsage writes the cumulative usage snapshot into the job record.
func (rt *Runtime) SyncStateUsage() {
	_, _ = rt.store.Mutate(rt.JobID, func(job *state.Job) error {
		perTool := make(map[string]int, len(rt.toolCounts))
		total := 0
		for name, n := range rt.toolCounts {
			perTool[name] = n
			total += n
		}
		job.Usage.Tools.PerTool = perTool
		job.Usage.Tools.TotalCalls = total
		job.Usage.Tools.DistinctTools = len(perTool)
		job.Usage.PaperSearch = rt.usageSnapshot()
		job.AnnotationCount = rt.AnnotationCount()
		if rt.usageSource != nil {
			totals := rt.usageSource()
			job.Usage.Tokens.Requests = totals.Requests
			job.Usage.Tokens.InputTokens = totals.PromptTokens
			job.Usage.Tokens.OutputTokens = totals.CompletionTokens
			job.Usage.Tokens.TotalTokens = totals.TotalTokens
		}
		return nil
	})
}

// PersistAnnotations writes the annotations artifact and syncs the record.
func (rt *Runtime) PersistAnnotations() error {
	path, err := rt.store.SaveAnnotations(rt.JobID, rt.annotations)
	if err != nil {
		return err
	}
	_, _ = rt.store.SetArtifact(rt.JobID, state.ArtifactAnnotations, path)
	rt.SyncStateUsage()
	return nil
}

// SetFinalMarkdown atomically writes the final report artifact and latches
// the runtime flag plus the job record. A second call is a no-op.
func (rt *Runtime) SetFinalMarkdown(markdown string) error {
	if rt.FinalMarkdown() != "" {
		return nil
	}
	path := rt.store.Home().FinalReportMDPath(rt.JobID)
	if err := rt.store.WriteFinalMarkdown(rt.JobID, markdown); err != nil {
		return err
	}
	rt.finalMu.Lock()
	rt.finalMarkdown = markdown
	rt.finalMu.Unlock()
	_, err := rt.store.Mutate(rt.JobID, func(job *state.Job) error {
		job.FinalReportReady = true
		if job.Artifacts == nil {
			job.Artifacts = map[string]string{}
		}
		job.Artifacts[state.ArtifactFinalMarkdown] = path
		job.AnnotationCount = rt.AnnotationCount()
		return nil
	})
	return err
}

// appendEvent records a runtime event on the job's event log.
func (rt *Runtime) appendEvent(name string, fields map[string]any) {
	_ = rt.store.AppendEvent(rt.JobID, name, fields)
}

// draftCompleted returns the ids of draft sections with content, in
// canonical order.
func (rt *Runtime) draftCompleted() []string {
	var done []string
	for _, id := range report.SectionOrder() {
		if strings.TrimSpace(rt.draftSections[id]) != "" {
			done = append(done, id)
		}
	}
	return done
}

// draftMissing returns the required sections absent from the draft.
func (rt *Runtime) draftMissing() []string {
	var missing []string
	for _, id := range report.SectionOrder() {
		if strings.TrimSpace(rt.draftSections[id]) == "" {
			missing = append(missing, id)
		}
	}
	return missing
}
