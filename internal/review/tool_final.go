package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/refereehq/referee/internal/report"
	"github.com/refereehq/referee/internal/state"
)

// coerceSectionMarkdown accepts a string or a list of items; lists become
// bullet lines.
func coerceSectionMarkdown(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		var items []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					items = append(items, trimmed)
				}
			}
		}
		return report.JoinItems(items)
	case []string:
		var items []string
		for _, s := range v {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return report.JoinItems(items)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// legacySections maps the pre-section-mode flat fields onto canonical ids.
func legacySections(args map[string]any) map[string]string {
	sections := map[string]string{}

	if text := coerceSectionMarkdown(args["summary"]); text != "" {
		sections[report.SectionSummary] = text
	}
	legacy := []struct {
		key string
		id  string
	}{
		{"strengths", report.SectionStrengths},
		{"weaknesses", report.SectionWeaknesses},
		{"issues", report.SectionKeyIssues},
		{"suggestions", report.SectionSuggestions},
		{"storylines", report.SectionStorylines},
	}
	for _, field := range legacy {
		if text := coerceSectionMarkdown(args[field.key]); text != "" {
			sections[field.id] = text
		}
	}
	return sections
}

func handleFinalWrite(ctx context.Context, rt *Runtime, args map[string]any) map[string]any {
	rt.RecordTool("review_final_markdown_write")
	attempt := rt.ToolCount("review_final_markdown_write")

	source := strings.TrimSpace(argString(args, "source"))
	if source == "" {
		source = "review_annotation_agent"
	}

	// Hard short-circuit: once the final report is persisted, repeated write
	// calls must not loop or mutate anything.
	if rt.FinalMarkdown() != "" {
		rt.SyncStateUsage()
		rt.appendEvent("final_report_write_ignored_after_commit", map[string]any{
			"attempt": attempt,
			"source":  source,
		})
		return map[string]any{
			"status":                 "ok",
			"task_completed":         true,
			"final_report_persisted": true,
			"message": "Final report is already persisted. " +
				"Stop calling review_final_markdown_write and end this run now.",
			"annotation_count":            rt.AnnotationCount(),
			"paper_search_usage":          rt.usageSnapshot(),
			"required_paper_search_calls": rt.requiredPaperCalls(),
			"completed_sections":          report.DescribeAll(rt.draftCompleted()),
			"missing_sections":            []report.Descriptor{},
			"next_required_section":       nil,
		}
	}

	fail := func(payload map[string]any) map[string]any {
		rt.SyncStateUsage()
		rt.appendEvent("final_report_write_failed", map[string]any{
			"attempt":            attempt,
			"reason":             argStringFrom(payload, "reason"),
			"message":            argStringFrom(payload, "message"),
			"annotation_count":   rt.AnnotationCount(),
			"paper_search_usage": rt.usageSnapshot(),
			"missing_sections":   payload["missing_sections"],
			"language":           payload["language"],
		})
		return payload
	}

	rawMarkdown := strings.TrimSpace(argString(args, "markdown"))
	incoming := legacySections(args)
	markdownSections := report.ExtractSections(rawMarkdown)
	if len(markdownSections) > 0 {
		for id, content := range markdownSections {
			incoming[id] = content
		}
	} else if rawMarkdown != "" && len(incoming) == 0 {
		// Backward compatible fallback for a single raw markdown chunk.
		incoming[report.SectionSummary] = rawMarkdown
	}

	sectionKey := argString(args, "section_id")
	if strings.TrimSpace(sectionKey) == "" {
		sectionKey = argString(args, "section_title")
	}
	requestedID := report.ResolveSectionID(sectionKey)
	if strings.TrimSpace(sectionKey) != "" && requestedID == "" {
		return fail(map[string]any{
			"status": "error",
			"reason": "section_id_invalid",
			"message": "Unknown section_id/section_title. Use one required section id: " +
				strings.Join(report.SectionOrder(), ", ") + ".",
			"retry_required": true,
			"retry_tool":     "review_final_markdown_write",
		})
	}

	sectionContent, hasSectionContent := args["section_content"]
	if requestedID != "" && !hasSectionContent {
		if _, present := incoming[requestedID]; !present {
			return fail(map[string]any{
				"status":         "error",
				"reason":         "section_content_required",
				"message":        fmt.Sprintf("Section %q was selected but section_content is empty.", report.SectionTitle(requestedID)),
				"retry_required": true,
				"retry_tool":     "review_final_markdown_write",
				"retry_payload_hint": map[string]string{
					"section_id":      requestedID,
					"section_content": "Write this section in markdown.",
				},
			})
		}
	}
	if requestedID != "" && hasSectionContent {
		content := report.StripLeadingHeading(requestedID, coerceSectionMarkdown(sectionContent))
		if content == "" {
			return fail(map[string]any{
				"status":         "error",
				"reason":         "section_content_required",
				"message":        fmt.Sprintf("Section %q has empty content after normalization.", report.SectionTitle(requestedID)),
				"retry_required": true,
				"retry_tool":     "review_final_markdown_write",
			})
		}
		incoming[requestedID] = content
	}

	hasNew := len(incoming) > 0
	if hasNew {
		for id, content := range incoming {
			rt.draftSections[id] = content
		}
	}

	if len(rt.draftCompleted()) == 0 {
		return fail(map[string]any{
			"status":  "error",
			"reason":  "section_payload_required",
			"message": "No report section content was provided and no draft exists.",
			"next_steps": []string{
				"Submit one section with section_id + section_content.",
				"Follow required section order until the tool returns status=ok.",
			},
			"retry_required": true,
			"retry_tool":     "review_final_markdown_write",
			"retry_payload_hint": map[string]string{
				"section_id":      report.SectionSummary,
				"section_content": "Write the summary section in markdown.",
			},
		})
	}

	if hasNew {
		rt.draftVersion++
	}
	if rt.draftVersion < 1 {
		rt.draftVersion = 1
	}
	draftVersion := rt.draftVersion

	completed := rt.draftCompleted()
	missing := rt.draftMissing()

	currentID := requestedID
	if currentID == "" && hasNew {
		for _, id := range report.SectionOrder() {
			if _, ok := incoming[id]; ok {
				currentID = id
				break
			}
		}
	}

	if len(missing) > 0 {
		nextTitle := report.SectionTitle(missing[0])
		missingTitles := make([]string, len(missing))
		for i, id := range missing {
			missingTitles[i] = report.SectionTitle(id)
		}
		payload := rt.finalProgressPayload(progressArgs{
			status:  "partial",
			reason:  "required_sections_missing",
			message: fmt.Sprintf("Section draft saved. %d required section(s) are still missing. Next required section: %s.", len(missing), nextTitle),
			source:  source, completed: completed, missing: missing,
			currentSectionID: currentID,
			nextSteps: []string{
				"Submit the next section with review_final_markdown_write(section_id='<next>', section_content='<markdown>').",
				"Missing sections: " + strings.Join(missingTitles, ", ") + ".",
			},
		})
		rt.SyncStateUsage()
		rt.appendEvent("final_report_draft_saved", map[string]any{
			"attempt":               attempt,
			"source":                source,
			"completed_sections":    completed,
			"missing_sections":      missing,
			"next_required_section": missing[0],
			"draft_version":         draftVersion,
		})
		return payload
	}

	gatesOn := rt.Settings.EnableFinalGates
	usage := rt.searchUsage

	if gatesOn && usage.TotalCalls < rt.requiredPaperCalls() {
		return fail(rt.finalProgressPayload(progressArgs{
			status: "error",
			reason: "paper_search_calls_not_met",
			message: fmt.Sprintf("Insufficient paper_search usage before final submission: %d call(s) found, %d+ required.",
				usage.TotalCalls, rt.requiredPaperCalls()),
			source: source, completed: completed, missing: missing,
			currentSectionID: currentID,
			nextSteps: []string{
				fmt.Sprintf("Run paper_search until total calls reach at least %d.", rt.requiredPaperCalls()),
				"After retrieval and comparison are complete, re-call review_final_markdown_write.",
			},
		}))
	}

	requiredDistinct := rt.Settings.MinDistinctPaperQueriesForFinal
	if gatesOn && usage.DistinctQueries < requiredDistinct {
		return fail(rt.finalProgressPayload(progressArgs{
			status: "error",
			reason: "paper_search_distinct_queries_not_met",
			message: fmt.Sprintf("Insufficient distinct paper_search coverage before final submission: %d distinct query/question(s) found, %d+ required.",
				usage.DistinctQueries, requiredDistinct),
			source: source, completed: completed, missing: missing,
			currentSectionID: currentID,
			nextSteps: []string{
				fmt.Sprintf("Add non-duplicate paper_search queries/questions until distinct coverage reaches %d.", requiredDistinct),
				"Then re-call review_final_markdown_write after updating novelty and contribution judgment.",
			},
		}))
	}

	if gatesOn && rt.AnnotationCount() < rt.requiredAnnotations() {
		return fail(rt.finalProgressPayload(progressArgs{
			status: "error",
			reason: "annotation_count_not_met",
			message: fmt.Sprintf("PDF annotation count is too low: %d found, minimum %d required.",
				rt.AnnotationCount(), rt.requiredAnnotations()),
			source: source, completed: completed, missing: missing,
			currentSectionID: currentID,
			nextSteps: []string{
				fmt.Sprintf("Add annotations until count reaches at least %d.", rt.requiredAnnotations()),
				"Then re-call review_final_markdown_write to finalize the saved section draft.",
			},
		}))
	}

	markdownText := report.Assemble(rt.draftSections)
	if markdownText == "" {
		return fail(map[string]any{
			"status":         "error",
			"reason":         "markdown_required",
			"message":        "Required sections are present but final markdown assembly is empty.",
			"retry_required": true,
			"retry_tool":     "review_final_markdown_write",
		})
	}

	validation := report.Validate(markdownText, report.ValidateOptions{
		MinEnglishWords:    rt.Settings.MinEnglishWordsForFinal,
		MinChineseChars:    rt.Settings.MinChineseCharsForFinal,
		ForceEnglishOutput: rt.Settings.ForceEnglishOutput,
	})
	if !validation.OK && gatesOn {
		reason := validation.Reason
		if reason == "" {
			reason = "final_report_validation_failed"
		}
		message := validation.Message
		if message == "" {
			message = "Final report validation failed."
		}
		payload := rt.finalProgressPayload(progressArgs{
			status: "error",
			reason: reason, message: message,
			source: source, completed: completed, missing: missing,
			currentSectionID: currentID,
			nextSteps: []string{
				"Update final markdown quality and structure according to tool error.",
				"Re-call review_final_markdown_write after remediation.",
			},
		})
		payload["language"] = validation.LanguageStats.PrimaryLanguage
		payload["english_words"] = validation.LanguageStats.EnglishWords
		payload["chinese_chars"] = validation.LanguageStats.ChineseChars
		return fail(payload)
	}
	if !validation.OK {
		rt.appendEvent("final_report_validation_skipped", map[string]any{
			"reason":               validation.Reason,
			"message":              validation.Message,
			"missing_sections":     validation.MissingSections,
			"language":             validation.LanguageStats.PrimaryLanguage,
			"english_words":        validation.LanguageStats.EnglishWords,
			"chinese_chars":        validation.LanguageStats.ChineseChars,
			"final_gates_enforced": false,
		})
	}

	if err := rt.SetFinalMarkdown(markdownText); err != nil {
		return fail(map[string]any{
			"status":         "error",
			"reason":         "final_report_persist_failed",
			"message":        err.Error(),
			"retry_required": true,
			"retry_tool":     "review_final_markdown_write",
		})
	}
	rt.SyncStateUsage()

	rt.appendEvent("final_report_persisted", map[string]any{
		"source":             source,
		"annotation_count":   rt.AnnotationCount(),
		"paper_search_usage": rt.usageSnapshot(),
		"completed_sections": completed,
		"draft_version":      draftVersion,
	})

	draftCopy := make(map[string]string, len(rt.draftSections))
	for id, content := range rt.draftSections {
		draftCopy[id] = content
	}
	_, _ = rt.store.Mutate(rt.JobID, func(job *state.Job) error {
		job.Message = "Final report persisted successfully."
		job.SetMetadata("final_report_source", source)
		job.SetMetadata("status_updates_count", len(rt.statusUpdates))
		job.SetMetadata("final_report_sections_completed", completed)
		job.SetMetadata("final_report_draft_version", draftVersion)
		job.SetMetadata("final_report_draft", map[string]any{
			"sections":              draftCopy,
			"section_order":         report.SectionOrder(),
			"completed_sections":    completed,
			"missing_sections":      []string{},
			"next_required_section": nil,
			"status":                "completed",
			"source":                source,
		})
		return nil
	})

	return map[string]any{
		"status":                      "ok",
		"task_completed":              true,
		"final_report_persisted":      true,
		"auto_composed_from_sections": true,
		"message":                     "Final report persisted successfully. End execution now.",
		"annotation_count":            rt.AnnotationCount(),
		"paper_search_usage":          rt.usageSnapshot(),
		"required_paper_search_calls": rt.requiredPaperCalls(),
		"source":                      source,
		"draft_version":               draftVersion,
		"completed_sections":          report.DescribeAll(completed),
		"missing_sections":            []report.Descriptor{},
		"next_required_section":       nil,
		"language":                    validation.LanguageStats.PrimaryLanguage,
		"english_words":               validation.LanguageStats.EnglishWords,
		"chinese_chars":               validation.LanguageStats.ChineseChars,
		"final_gates_enforced":        gatesOn,
	}
}
