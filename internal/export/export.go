// Package export renders the committed review report and its annotations
// into a composite PDF.
package export

import (
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/refereehq/referee/internal/state"
)

// Options configures the rendered document.
type Options struct {
	Title         string
	Markdown      string
	Annotations   []state.Annotation
	FontName      string
	TitleFontSize float64
	BodyFontSize  float64
	PageMargin    float64
}

// Stats reports what was rendered.
type Stats struct {
	Pages           int
	AnnotationCount int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FontName == "" {
		out.FontName = "Helvetica"
	}
	if out.TitleFontSize <= 0 {
		out.TitleFontSize = 15
	}
	if out.BodyFontSize <= 0 {
		out.BodyFontSize = 10
	}
	if out.PageMargin <= 0 {
		out.PageMargin = 48
	}
	return out
}

// WriteReportPDF renders the report to path. The document carries a title
// page, the report body, and an annotations appendix.
func WriteReportPDF(path string, opts Options) (Stats, error) {
	o := opts.withDefaults()
	if strings.TrimSpace(o.Markdown) == "" {
		return Stats{}, fmt.Errorf("empty_markdown: nothing to render")
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(o.PageMargin, o.PageMargin, o.PageMargin)
	pdf.SetAutoPageBreak(true, o.PageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	lineHeight := o.BodyFontSize * 1.45

	pdf.AddPage()
	pdf.SetFont(o.FontName, "B", o.TitleFontSize+6)
	title := strings.TrimSpace(o.Title)
	if title == "" {
		title = "Review Report"
	}
	pdf.MultiCell(0, o.TitleFontSize*1.6, tr(title), "", "C", false)
	pdf.Ln(lineHeight)

	renderMarkdown(pdf, tr, o, o.Markdown, lineHeight)

	if len(o.Annotations) > 0 {
		pdf.AddPage()
		pdf.SetFont(o.FontName, "B", o.TitleFontSize)
		pdf.MultiCell(0, o.TitleFontSize*1.5, tr("Annotations"), "", "L", false)
		pdf.Ln(lineHeight / 2)

		for i, ann := range o.Annotations {
			pdf.SetFont(o.FontName, "B", o.BodyFontSize)
			head := fmt.Sprintf("%d. Page %d, lines %d-%d", i+1, ann.Page, ann.StartLine, ann.EndLine)
			if ann.ObjectType != "" {
				head += " [" + ann.ObjectType
				if ann.Severity != "" {
					head += "/" + ann.Severity
				}
				head += "]"
			}
			pdf.MultiCell(0, lineHeight, tr(head), "", "L", false)

			pdf.SetFont(o.FontName, "I", o.BodyFontSize)
			pdf.MultiCell(0, lineHeight, tr(quoteText(ann.Text)), "", "L", false)

			pdf.SetFont(o.FontName, "", o.BodyFontSize)
			pdf.MultiCell(0, lineHeight, tr(ann.Comment), "", "L", false)
			pdf.Ln(lineHeight / 2)
		}
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return Stats{}, fmt.Errorf("failed to write report pdf: %w", err)
	}
	return Stats{Pages: pdf.PageCount(), AnnotationCount: len(o.Annotations)}, nil
}

// renderMarkdown walks the report line by line, rendering headings bold and
// everything else as body text. Full markdown layout is out of scope.
func renderMarkdown(pdf *fpdf.Fpdf, tr func(string) string, o Options, markdown string, lineHeight float64) {
	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			pdf.Ln(lineHeight / 2)
		case strings.HasPrefix(trimmed, "#"):
			text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			pdf.SetFont(o.FontName, "B", o.TitleFontSize)
			pdf.MultiCell(0, o.TitleFontSize*1.4, tr(text), "", "L", false)
			pdf.SetFont(o.FontName, "", o.BodyFontSize)
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			pdf.SetFont(o.FontName, "", o.BodyFontSize)
			pdf.MultiCell(0, lineHeight, tr("  • "+trimmed[2:]), "", "L", false)
		default:
			pdf.SetFont(o.FontName, "", o.BodyFontSize)
			pdf.MultiCell(0, lineHeight, tr(stripInlineMarkdown(trimmed)), "", "L", false)
		}
	}
}

func quoteText(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

var inlineReplacer = strings.NewReplacer("**", "", "__", "", "`", "")

func stripInlineMarkdown(text string) string {
	return inlineReplacer.Replace(text)
}
