// Package pageindex maps page numbers to ordered text lines of the parsed
// paper. The index backs line-addressed search, reads, and annotations.
package pageindex

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ContentRow is one entry of the parse adapter's content list.
type ContentRow struct {
	PageIdx int    `json:"page_idx"`
	Type    string `json:"type"`
	Text    string `json:"text"`
}

// Index maps 1-based page numbers to ordered text lines.
type Index map[int][]string

// Line is one flattened entry of the index.
type Line struct {
	Page int
	Line int // 1-based within the page
	Text string
}

var pageHeadingRe = regexp.MustCompile(`(?i)^\s*##\s*page\s+(\d+)\s*$`)

// RowsFromMaps converts decoded JSON rows into ContentRows. Rows without an
// integral page_idx are dropped.
func RowsFromMaps(rows []map[string]any) []ContentRow {
	var out []ContentRow
	for _, row := range rows {
		idx, ok := row["page_idx"]
		if !ok {
			continue
		}
		var page int
		switch v := idx.(type) {
		case float64:
			page = int(v)
		case int:
			page = v
		default:
			continue
		}
		text, _ := row["text"].(string)
		typ, _ := row["type"].(string)
		out = append(out, ContentRow{PageIdx: page, Type: typ, Text: text})
	}
	return out
}

// Build constructs the index from parsed markdown and an optional content
// list. Content-list rows win when present; otherwise "## Page n" headings
// partition the markdown; otherwise everything lands on page 1.
func Build(markdown string, contentList []ContentRow) Index {
	if len(contentList) > 0 {
		idx := Index{}
		for _, row := range contentList {
			text := strings.TrimSpace(row.Text)
			if text == "" {
				continue
			}
			page := row.PageIdx + 1
			idx[page] = append(idx[page], text)
		}
		if len(idx) > 0 {
			return idx
		}
	}

	idx := Index{}
	page := 0
	for _, raw := range strings.Split(markdown, "\n") {
		if m := pageHeadingRe.FindStringSubmatch(raw); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
				continue
			}
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if page == 0 {
			continue // Preamble before the first page heading
		}
		idx[page] = append(idx[page], line)
	}
	if len(idx) > 0 {
		return idx
	}

	// Single-page fallback: every non-empty line under page 1.
	var lines []string
	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		idx[1] = lines
	}
	return idx
}

// Pages returns the page numbers in ascending order.
func (idx Index) Pages() []int {
	pages := make([]int, 0, len(idx))
	for p := range idx {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Flatten returns every line of every page in (page, line) order.
func (idx Index) Flatten() []Line {
	var out []Line
	for _, p := range idx.Pages() {
		for i, text := range idx[p] {
			out = append(out, Line{Page: p, Line: i + 1, Text: text})
		}
	}
	return out
}

// LineCount returns the number of lines on a page, or 0 if absent.
func (idx Index) LineCount(page int) int {
	return len(idx[page])
}
