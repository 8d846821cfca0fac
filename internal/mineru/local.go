package mineru

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// localFallback extracts per-page text from the PDF itself, emitting a
// markdown document with "## Page <n>" headings and a matching content list.
func localFallback(pdfBytes []byte, warning string) (*ParseResult, error) {
	pages, err := extractPages(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("local parse failed: %w", err)
	}

	var markdownLines []string
	for i, pageText := range pages {
		markdownLines = append(markdownLines, fmt.Sprintf("## Page %d", i+1), "", pageText, "")
	}

	var contentList []map[string]any
	for pageIdx, pageText := range pages {
		for _, line := range strings.Split(pageText, "\n") {
			if normalized := strings.TrimSpace(line); normalized != "" {
				contentList = append(contentList, map[string]any{
					"page_idx": pageIdx,
					"type":     "text",
					"text":     normalized,
				})
			}
		}
	}

	return &ParseResult{
		Markdown:    strings.TrimSpace(strings.Join(markdownLines, "\n")),
		ContentList: contentList,
		Provider:    "local_pdf",
		Warning:     warning,
	}, nil
}

func extractPages(pdfBytes []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, err
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}
