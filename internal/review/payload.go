package review

import (
	"fmt"
	"strings"

	"github.com/refereehq/referee/internal/report"
)

const (
	recommendedAnnotationMin = 12
	recommendedAnnotationMax = 25
)

// countPapers extracts the paper count from a search result, preferring the
// explicit count, then the papers list, then per-question counts.
func countPapers(result map[string]any) int {
	if n := intField(result, "count"); n > 0 {
		return n
	}
	if papers, ok := result["papers"].([]any); ok {
		rows := 0
		for _, row := range papers {
			if _, ok := row.(map[string]any); ok {
				rows++
			}
		}
		if rows > 0 {
			return rows
		}
	}
	total := 0
	if grouped, ok := result["question_results"].([]any); ok {
		for _, row := range grouped {
			bucket, ok := row.(map[string]any)
			if !ok {
				continue
			}
			if n := intField(bucket, "count"); n > 0 {
				total += n
			}
		}
	}
	return total
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func annotationGateHint(totalCalls, requiredCalls int) string {
	if totalCalls >= requiredCalls {
		return fmt.Sprintf(
			"paper_search total calls so far: %d (>= %d). You can now start paragraph-by-paragraph PDF annotation.",
			totalCalls, requiredCalls)
	}
	remaining := requiredCalls - totalCalls
	return fmt.Sprintf(
		"paper_search total calls so far: %d. Run at least %d more paper_search call(s) before starting pdf_annotate.",
		totalCalls, remaining)
}

func annotationProgressHint(total, finalMin int) string {
	if total < finalMin {
		return fmt.Sprintf(
			"Current review annotations: %d. Final-report gate requires >= %d; add about %d more.",
			total, finalMin, finalMin-total)
	}
	if total < recommendedAnnotationMin {
		return fmt.Sprintf(
			"Current review annotations: %d. Final-report trigger is satisfied; usual quality range is %d-%d.",
			total, recommendedAnnotationMin, recommendedAnnotationMax)
	}
	if total > recommendedAnnotationMax {
		return fmt.Sprintf(
			"Current review annotations: %d (> %d). Prefer consolidating high-impact findings and avoid low-value over-annotation.",
			total, recommendedAnnotationMax)
	}
	return fmt.Sprintf(
		"Current review annotations: %d (within recommended range %d-%d).",
		total, recommendedAnnotationMin, recommendedAnnotationMax)
}

// progressArgs parameterizes the shared partial/error payload shape used by
// the final-write tool.
type progressArgs struct {
	status           string
	reason           string
	message          string
	source           string
	completed        []string
	missing          []string
	currentSectionID string
	nextSteps        []string
}

// finalProgressPayload builds the partial/error payload carrying section
// progress, usage counters, and remediation hints.
func (rt *Runtime) finalProgressPayload(args progressArgs) map[string]any {
	draftVersion := rt.draftVersion
	if draftVersion < 1 {
		draftVersion = 1
	}

	payload := map[string]any{
		"status":                      args.status,
		"reason":                      args.reason,
		"message":                     args.message,
		"task_completed":              false,
		"source":                      args.source,
		"draft_version":               draftVersion,
		"required_sections":           report.DescribeAll(report.SectionOrder()),
		"completed_sections":          report.DescribeAll(args.completed),
		"missing_sections":            report.DescribeAll(args.missing),
		"retry_required":              true,
		"retry_tool":                  "review_final_markdown_write",
		"annotation_count":            rt.AnnotationCount(),
		"required_annotation_count":   rt.requiredAnnotations(),
		"paper_search_usage":          rt.usageSnapshot(),
		"required_paper_search_calls": rt.requiredPaperCalls(),
	}
	if len(args.missing) > 0 {
		payload["next_required_section"] = report.Describe(args.missing[0])
	} else {
		payload["next_required_section"] = nil
	}
	if args.currentSectionID != "" {
		payload["current_section"] = report.Describe(args.currentSectionID)
	}
	var steps []string
	for _, step := range args.nextSteps {
		if trimmed := strings.TrimSpace(step); trimmed != "" {
			steps = append(steps, trimmed)
		}
	}
	if len(steps) > 0 {
		payload["next_steps"] = steps
	}
	return payload
}

func (rt *Runtime) requiredAnnotations() int {
	n := rt.Settings.MinAnnotationsForFinal
	if n < 1 {
		n = 1
	}
	return n
}

func (rt *Runtime) requiredPaperCalls() int {
	n := rt.Settings.MinPaperSearchCallsForFinal
	if n < 0 {
		n = 0
	}
	return n
}

func (rt *Runtime) requiredAnnotateGateCalls() int {
	n := rt.Settings.MinPaperSearchCallsForPDFAnnotate
	if n < 0 {
		n = 0
	}
	return n
}
