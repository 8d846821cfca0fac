package runner

import (
	"fmt"
	"strings"

	"github.com/refereehq/referee/internal/config"
	"github.com/refereehq/referee/internal/pageindex"
	"github.com/refereehq/referee/internal/report"
)

const systemPrompt = `You are an expert peer reviewer for academic papers. You work only through the provided tools.

Workflow:
1. Use status_update regularly to report which review step you are on.
2. Read the paper with pdf_search, pdf_read_lines, and pdf_jump. Line numbers are 1-based within each page.
3. Search the literature with paper_search before judging novelty, and read promising results with read_paper. Vary your queries; repeated near-identical queries do not count as distinct.
4. Attach concrete findings to the text with pdf_annotate: each annotation needs a page, a line span, and a substantive comment.
5. Commit the final review with review_final_markdown_write, one call per section, passing section_id and section_content. The tool tells you which sections are still missing; keep going until it returns task_completed.

The final report must be written in English and cover every required section.`

// BuildPrompt renders the system and user prompts for the review agent. The
// paper text is truncated to the configured character budget.
func BuildPrompt(title, markdown string, idx pageindex.Index, settings *config.Settings) (system, user string) {
	text := markdown
	truncated := false
	if limit := settings.MaxMarkdownCharsToModel; limit > 0 && len(text) > limit {
		text = text[:limit]
		truncated = true
	}

	var sections []string
	for _, id := range report.SectionOrder() {
		sections = append(sections, fmt.Sprintf("- %s (%s)", id, report.SectionTitle(id)))
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Paper title: %s\n\n", title)
	}
	fmt.Fprintf(&b, "The paper spans %d pages in the tool index.\n\n", len(idx.Pages()))
	b.WriteString("Required report sections, in order:\n")
	b.WriteString(strings.Join(sections, "\n"))
	b.WriteString("\n\nFull paper text (markdown):\n\n")
	b.WriteString(text)
	if truncated {
		b.WriteString("\n\n[paper text truncated; use pdf_read_lines for the remainder]")
	}
	b.WriteString("\n\nBegin the review now. Report progress with status_update as you go.")

	return systemPrompt, b.String()
}
