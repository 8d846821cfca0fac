// Package runner drives a review job through its lifecycle: source PDF
// validation, remote parse, the tool-calling agent, report export, and
// post-crash recovery.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/refereehq/referee/internal/agent"
	"github.com/refereehq/referee/internal/config"
	"github.com/refereehq/referee/internal/export"
	"github.com/refereehq/referee/internal/mineru"
	"github.com/refereehq/referee/internal/pageindex"
	"github.com/refereehq/referee/internal/papersearch"
	"github.com/refereehq/referee/internal/providers"
	"github.com/refereehq/referee/internal/review"
	"github.com/refereehq/referee/internal/state"
	"github.com/refereehq/referee/internal/store"
)

// resumeAttemptCap is the hard ceiling on agent attempts regardless of
// configuration.
const resumeAttemptCap = 2

// pdfParser abstracts the parse adapter so tests can substitute a stub.
type pdfParser interface {
	ParsePDF(ctx context.Context, path string, dataID string) (*mineru.ParseResult, error)
}

// Controller runs one job at a time against the shared job store.
type Controller struct {
	store    *state.Store
	settings *config.Settings

	client providers.LLMClient
	parser pdfParser
	papers *papersearch.Adapter
	logger *slog.Logger

	// watchEvery is the final-markdown poll interval for the in-flight
	// agent watcher. Never longer than one second.
	watchEvery time.Duration
}

// New builds a Controller with adapters derived from settings.
func New(st *state.Store, settings *config.Settings) *Controller {
	var opts []providers.OpenAIOption
	if settings.OpenAIBaseURL != "" {
		opts = append(opts, providers.WithBaseURL(settings.OpenAIBaseURL))
	}

	return &Controller{
		store:    st,
		settings: settings,
		client:   providers.NewOpenAIClient(settings.OpenAIAPIKey, settings.AgentModel, opts...),
		parser: mineru.New(mineru.Config{
			BaseURL:            settings.MinerUBaseURL,
			APIToken:           settings.MinerUAPIToken,
			ModelVersion:       settings.MinerUModelVersion,
			UploadEndpoint:     settings.MinerUUploadEndpoint,
			PollTemplates:      settings.MinerUPollTemplates(),
			PollInterval:       time.Duration(settings.MinerUPollIntervalSeconds * float64(time.Second)),
			PollTimeout:        time.Duration(settings.MinerUPollTimeoutSeconds) * time.Second,
			AllowLocalFallback: settings.MinerUAllowLocalFallback,
		}),
		papers: papersearch.New(
			papersearch.SearchConfig{
				BaseURL:        settings.PaperSearchBaseURL,
				APIKey:         settings.PaperSearchAPIKey,
				Endpoint:       settings.PaperSearchEndpoint,
				TimeoutSeconds: settings.PaperSearchTimeoutSeconds,
			},
			papersearch.ReadConfig{
				BaseURL:        settings.PaperReadBaseURL,
				APIKey:         settings.PaperReadAPIKey,
				Endpoint:       settings.PaperReadEndpoint,
				TimeoutSeconds: settings.PaperReadTimeoutSeconds,
			},
		),
		logger:     slog.Default(),
		watchEvery: 500 * time.Millisecond,
	}
}

// SetLogger overrides the controller's logger.
func (c *Controller) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetClient overrides the LLM client. Used by tests.
func (c *Controller) SetClient(client providers.LLMClient) { c.client = client }

// SetParser overrides the parse adapter. Used by tests.
func (c *Controller) SetParser(p pdfParser) { c.parser = p }

// SetPapers overrides the paper-search adapter. Used by tests.
func (c *Controller) SetPapers(p *papersearch.Adapter) { c.papers = p }

// SetWatchInterval overrides the commit watcher poll interval, capped at one
// second.
func (c *Controller) SetWatchInterval(d time.Duration) {
	if d > 0 && d <= time.Second {
		c.watchEvery = d
	}
}

// Run executes the job lifecycle for jobID. Errors after the final report
// commit still complete the job; errors before it fail the job.
func (c *Controller) Run(ctx context.Context, jobID string) error {
	job, err := c.store.Load(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := c.run(ctx, job); err != nil {
		return c.recover(jobID, err)
	}
	return nil
}

func (c *Controller) run(ctx context.Context, job *state.Job) error {
	jobID := job.ID

	if err := c.validateSource(jobID); err != nil {
		return err
	}

	if _, err := c.store.SetStatus(jobID, state.StatusPDFUploading, "uploading pdf to parser"); err != nil {
		return err
	}
	if _, err := c.store.SetStatus(jobID, state.StatusPDFParsing, "parsing pdf"); err != nil {
		return err
	}

	c.logger.Info("parsing pdf", "job_id", jobID)
	parsed, err := c.parser.ParsePDF(ctx, c.store.Home().SourcePDFPath(jobID), jobID)
	if err != nil {
		return fmt.Errorf("parse_failed: %w", err)
	}
	c.logger.Info("parse complete", "job_id", jobID, "provider", parsed.Provider, "chars", len(parsed.Markdown))
	if err := c.persistParse(jobID, parsed); err != nil {
		return err
	}

	idx := pageindex.Build(parsed.Markdown, pageindex.RowsFromMaps(parsed.ContentList))

	if _, err := c.store.SetStatus(jobID, state.StatusAgentRunning, "review agent running"); err != nil {
		return err
	}

	rt := review.NewRuntime(jobID, c.store.Home().JobDir(jobID), c.store, idx, parsed.Markdown, c.papers, c.settings)
	toolset := review.NewToolSet(rt)

	if err := c.runAgent(ctx, rt, toolset, job); err != nil {
		return err
	}

	if _, err := c.store.SetStatus(jobID, state.StatusFinalPersist, "final report persisted"); err != nil {
		return err
	}
	if _, err := c.store.SetStatus(jobID, state.StatusPDFExporting, "exporting report pdf"); err != nil {
		return err
	}

	if err := c.exportReport(jobID, job.Title, rt.FinalMarkdown(), rt.Annotations()); err != nil {
		// The committed markdown is the deliverable; a broken export is
		// recorded but does not fail the job.
		c.logger.Warn("report pdf export failed", "job_id", jobID, "error", err)
		_, _ = c.store.Mutate(jobID, func(j *state.Job) error {
			j.SetMetadata("pdf_export_recovery_error", fmt.Sprintf("%T: %v", err, err))
			return nil
		})
		_ = c.store.AppendEvent(jobID, "pdf_export_failed", map[string]any{"error": err.Error()})
	}

	_, err = c.store.SetStatus(jobID, state.StatusCompleted, "review completed")
	return err
}

// validateSource rejects missing, empty, oversized, or unreadable PDFs
// before any remote work starts.
func (c *Controller) validateSource(jobID string) error {
	path := c.store.Home().SourcePDFPath(jobID)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("pdf_invalid: source pdf missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("pdf_invalid: source pdf is empty")
	}
	if max := c.settings.MaxPDFBytes; max > 0 && info.Size() > max {
		return fmt.Errorf("pdf_invalid: source pdf is %d bytes, limit is %d", info.Size(), max)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pdf_invalid: %w", err)
	}
	defer f.Close()
	pages, err := api.PageCount(f, nil)
	if err != nil {
		return fmt.Errorf("pdf_invalid: %v", err)
	}
	if pages < 1 {
		return fmt.Errorf("pdf_invalid: pdf has no pages")
	}
	return nil
}

// persistParse writes the parse artifacts and records provenance metadata.
func (c *Controller) persistParse(jobID string, parsed *mineru.ParseResult) error {
	h := c.store.Home()

	if err := store.WriteTextAtomic(h.MarkdownPath(jobID), parsed.Markdown); err != nil {
		return fmt.Errorf("failed to persist markdown: %w", err)
	}
	if _, err := c.store.SetArtifact(jobID, state.ArtifactMarkdown, h.MarkdownPath(jobID)); err != nil {
		return err
	}

	if err := store.WriteJSONAtomic(h.ContentListPath(jobID), parsed.ContentList); err != nil {
		return fmt.Errorf("failed to persist content list: %w", err)
	}
	if _, err := c.store.SetArtifact(jobID, state.ArtifactContentList, h.ContentListPath(jobID)); err != nil {
		return err
	}

	if parsed.RawResult != nil {
		if err := store.WriteJSONAtomic(h.RawResultPath(jobID), parsed.RawResult); err != nil {
			return fmt.Errorf("failed to persist raw parse result: %w", err)
		}
		if _, err := c.store.SetArtifact(jobID, state.ArtifactRawResult, h.RawResultPath(jobID)); err != nil {
			return err
		}
	}

	_, err := c.store.Mutate(jobID, func(j *state.Job) error {
		j.SetMetadata("markdown_provider", parsed.Provider)
		if parsed.BatchID != "" {
			j.SetMetadata("mineru_batch_id", parsed.BatchID)
		}
		if parsed.Warning != "" {
			j.SetMetadata("parse_warning", parsed.Warning)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.store.AppendEvent(jobID, "parse_completed", map[string]any{
		"provider": parsed.Provider,
		"batch_id": parsed.BatchID,
		"chars":    len(parsed.Markdown),
	})
}

// runAgent executes the attempt loop and, when the model never commits on
// its own, the forced tool-choice fallback.
func (c *Controller) runAgent(ctx context.Context, rt *review.Runtime, toolset *review.ToolSet, job *state.Job) error {
	jobID := job.ID

	system, user := BuildPrompt(job.Title, rt.Markdown, rt.PageIndex, c.settings)
	promptPath := c.store.Home().PromptPath(jobID)
	if err := store.WriteTextAtomic(promptPath, system+"\n\n---\n\n"+user); err != nil {
		return fmt.Errorf("failed to snapshot prompt: %w", err)
	}
	if _, err := c.store.SetArtifact(jobID, state.ArtifactPrompt, promptPath); err != nil {
		return err
	}

	attempts := c.settings.AgentResumeAttempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts > resumeAttemptCap {
		_ = c.store.AppendEvent(jobID, "agent_resume_attempts_capped", map[string]any{
			"configured": attempts,
			"cap":        resumeAttemptCap,
		})
		attempts = resumeAttemptCap
	}

	messages := []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			messages = append(messages, providers.Message{Role: "user", Content: c.continuationMessage(rt)})
			_ = c.store.AppendEvent(jobID, "agent_resumed", map[string]any{"attempt": attempt})
			c.logger.Info("resuming agent", "job_id", jobID, "attempt", attempt)
		}

		res := c.runAttempt(ctx, rt, toolset, messages, "", fmt.Sprintf("attempt_%d", attempt))
		if res != nil {
			messages = res.Messages
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if rt.FinalMarkdown() != "" {
			return nil
		}
	}

	// The model never committed. Force it through the final-write tool,
	// then through any tool at all.
	for _, choice := range []string{"review_final_markdown_write", "required"} {
		if rt.FinalMarkdown() != "" {
			_ = c.store.AppendEvent(jobID, "agent_forced_final_write_skipped_after_success", map[string]any{
				"tool_choice": choice,
			})
			break
		}

		_ = c.store.AppendEvent(jobID, "agent_forced_final_write_start", map[string]any{"tool_choice": choice})
		forced := append(messages, providers.Message{Role: "user", Content: c.forcedFinalMessage(rt)})

		res := c.runAttempt(ctx, rt, toolset, forced, choice, "forced_"+choice)
		if err := ctx.Err(); err != nil {
			return err
		}
		if res == nil || (res.Error != "" && rt.FinalMarkdown() == "") {
			detail := "no result"
			if res != nil {
				detail = res.Error
			}
			_ = c.store.AppendEvent(jobID, "agent_forced_final_write_error", map[string]any{
				"tool_choice": choice,
				"error":       detail,
			})
			continue
		}
		messages = res.Messages
		_ = c.store.AppendEvent(jobID, "agent_forced_final_write_result", map[string]any{
			"tool_choice": choice,
			"committed":   rt.FinalMarkdown() != "",
		})
	}

	if rt.FinalMarkdown() == "" {
		return fmt.Errorf("agent_failed: no final report was committed after %d attempts", attempts)
	}
	return nil
}

// runAttempt runs one agent conversation with a watcher goroutine that
// cancels the attempt as soon as the final report lands. A cancellation
// after the commit is success, not failure.
func (c *Controller) runAttempt(ctx context.Context, rt *review.Runtime, toolset *review.ToolSet, messages []providers.Message, toolChoice, tag string) *agent.Result {
	jobID := rt.JobID

	ag := agent.New(agent.Config{
		Client:      c.client,
		Tools:       toolset,
		Model:       c.settings.AgentModel,
		Temperature: c.settings.AgentTemperature,
		MaxTokens:   c.settings.AgentMaxTokens,
		MaxTurns:    c.settings.AgentMaxTurns,
		ToolChoice:  toolChoice,
	}, messages)
	rt.SetUsageSource(ag.Usage)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		ticker := time.NewTicker(c.watchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if rt.FinalMarkdown() != "" {
					cancel()
					return
				}
			}
		}
	}()

	res, err := ag.Run(runCtx)
	cancel()
	<-watcherDone

	if res == nil {
		res = &agent.Result{Error: fmt.Sprintf("agent run failed: %v", err)}
	}
	if err != nil && rt.FinalMarkdown() != "" {
		_ = c.store.AppendEvent(jobID, "agent_cancelled_after_commit", map[string]any{"tag": tag})
		res.Success = true
		res.Error = ""
	}
	rt.SyncStateUsage()

	if text := res.FinalText; text != "" {
		path := c.store.Home().AgentOutputPath(jobID, tag)
		if werr := store.WriteTextAtomic(path, text); werr == nil {
			_, _ = c.store.SetArtifact(jobID, "agent_output_"+tag, path)
		}
		// The untagged file always holds the latest non-empty output.
		_ = store.WriteTextAtomic(c.store.Home().AgentOutputPath(jobID, ""), text)
	}
	_ = c.store.AppendEvent(jobID, "agent_attempt_finished", map[string]any{
		"tag":       tag,
		"success":   res.Success,
		"turns":     res.Turns,
		"committed": rt.FinalMarkdown() != "",
		"error":     res.Error,
	})
	return res
}

func (c *Controller) continuationMessage(rt *review.Runtime) string {
	usage := rt.SearchUsage()
	return fmt.Sprintf(
		"The final report has not been committed yet. So far you made %d paper_search calls "+
			"(%d distinct queries) and created %d annotations. Finish the review now: submit every "+
			"required section through review_final_markdown_write, one call per section, using "+
			"section_id and section_content. Do not stop until the tool returns task_completed.",
		usage.TotalCalls, usage.DistinctQueries, rt.AnnotationCount())
}

func (c *Controller) forcedFinalMessage(rt *review.Runtime) string {
	usage := rt.SearchUsage()
	return fmt.Sprintf(
		"Stop all other work. You made %d paper_search calls and %d annotations but never committed "+
			"the report. Call review_final_markdown_write now for each required section until it "+
			"returns task_completed.",
		usage.TotalCalls, rt.AnnotationCount())
}

// exportReport renders the composite PDF and latches pdf_ready.
func (c *Controller) exportReport(jobID, title, markdown string, annotations []state.Annotation) error {
	path := c.store.Home().FinalReportPDFPath(jobID)
	if title == "" {
		title = "Review Report"
	}
	stats, err := export.WriteReportPDF(path, export.Options{
		Title:         title,
		Markdown:      markdown,
		Annotations:   annotations,
		FontName:      c.settings.PDFFontName,
		TitleFontSize: c.settings.PDFTitleFontSize,
		BodyFontSize:  c.settings.PDFBodyFontSize,
		PageMargin:    c.settings.PDFPageMargin,
	})
	if err != nil {
		return err
	}
	if _, err := c.store.SetArtifact(jobID, state.ArtifactReportPDF, path); err != nil {
		return err
	}
	size := int64(0)
	if info, statErr := os.Stat(path); statErr == nil {
		size = info.Size()
	}
	_ = c.store.AppendEvent(jobID, "pdf_export_rendered", map[string]any{
		"pages":       stats.Pages,
		"annotations": stats.AnnotationCount,
		"bytes":       size,
	})
	_, err = c.store.Mutate(jobID, func(j *state.Job) error {
		j.PDFReady = true
		return nil
	})
	return err
}

// recover decides what a failed run means for the job record. A persisted
// final report wins: the job completes, with the crash recorded. Anything
// else fails the job with the original cause.
func (c *Controller) recover(jobID string, cause error) error {
	job, err := c.store.Load(jobID)
	if err != nil {
		_, _ = c.store.Fail(jobID, cause)
		return cause
	}

	// The marker alone is not enough: the committed markdown must still be
	// on disk for the job to count as recoverable.
	_, statErr := os.Stat(c.store.Home().FinalReportMDPath(jobID))
	if !job.HasPersistMarker() || statErr != nil {
		_ = c.store.AppendEvent(jobID, "completed_recovery_skipped", map[string]any{
			"error": cause.Error(),
		})
		c.logger.Error("job failed", "job_id", jobID, "error", cause)
		_, _ = c.store.Fail(jobID, cause)
		return cause
	}
	c.logger.Warn("recovering committed job after error", "job_id", jobID, "error", cause)

	// Final report exists on disk; finish the export if it never ran.
	var exportErr error
	if !job.PDFReady {
		exportErr = c.recoveryExport(job)
	}

	_, _ = c.store.Mutate(jobID, func(j *state.Job) error {
		j.SetMetadata("post_exception_recovery", true)
		j.SetMetadata("post_exception_warning", cause.Error())
		if exportErr != nil {
			detail := fmt.Sprintf("%T: %v", exportErr, exportErr)
			j.SetMetadata("pdf_export_recovery_error", detail)
			j.Error = detail
		} else {
			j.Error = ""
		}
		return nil
	})
	_ = c.store.AppendEvent(jobID, "post_exception_recovery", map[string]any{
		"error": cause.Error(),
	})

	message := "review completed after recovery"
	if exportErr != nil {
		message = "Final report persisted, but PDF export failed during recovery."
	}
	_, err = c.store.SetStatus(jobID, state.StatusCompleted, message)
	return err
}

func (c *Controller) recoveryExport(job *state.Job) error {
	markdown, err := os.ReadFile(c.store.Home().FinalReportMDPath(job.ID))
	if err != nil {
		return fmt.Errorf("final markdown unreadable during recovery: %w", err)
	}
	annotations, err := c.store.LoadAnnotations(job.ID)
	if err != nil {
		return err
	}
	return c.exportReport(job.ID, job.Title, string(markdown), annotations)
}
