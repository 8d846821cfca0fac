package papersearch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/avast/retry-go/v4"
)

// Paper is the canonical shape of one search hit.
type Paper struct {
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract"`
	Authors   []string `json:"authors,omitempty"`
	Published string   `json:"published,omitempty"`
	Updated   string   `json:"updated,omitempty"`
	ArxivID   string   `json:"arxiv_id"`
	URL       string   `json:"url"`
	AbsURL    string   `json:"abs_url"`
	PDFURL    string   `json:"pdf_url"`
	Source    string   `json:"source"`
}

func (p Paper) toMap() map[string]any {
	authors := make([]any, len(p.Authors))
	for i, a := range p.Authors {
		authors[i] = a
	}
	return map[string]any{
		"title":     p.Title,
		"abstract":  p.Abstract,
		"authors":   authors,
		"published": p.Published,
		"updated":   p.Updated,
		"arxiv_id":  p.ArxivID,
		"url":       p.URL,
		"abs_url":   p.AbsURL,
		"pdf_url":   p.PDFURL,
		"source":    p.Source,
	}
}

// atomFeed models the subset of the arXiv Atom response we consume.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func (a *Adapter) searchArxiv(ctx context.Context, query string, questionList []string) (map[string]any, error) {
	var questions []string
	for _, q := range questionList {
		if strings.TrimSpace(q) != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 && strings.TrimSpace(query) != "" {
		questions = []string{query}
	}
	if len(questions) == 0 {
		return map[string]any{
			"success":          false,
			"error":            "empty_query",
			"papers":           []any{},
			"count":            0,
			"question_results": []any{},
			"provider":         "arxiv_fallback",
		}, nil
	}

	var allPapers []any
	seen := map[string]bool{}
	var questionResults []any

	for _, q := range questions {
		papers, err := a.arxivQuery(ctx, q, 8)
		if err != nil {
			return nil, err
		}
		bucket := make([]any, len(papers))
		for i, p := range papers {
			bucket[i] = p.toMap()
		}
		questionResults = append(questionResults, map[string]any{
			"question": q,
			"success":  len(papers) > 0,
			"count":    len(papers),
			"papers":   bucket,
		})
		for _, p := range papers {
			key := p.ArxivID
			if key == "" {
				key = p.URL
			}
			if key != "" && seen[key] {
				continue
			}
			if key != "" {
				seen[key] = true
			}
			allPapers = append(allPapers, p.toMap())
		}
	}

	return map[string]any{
		"success":          true,
		"query":            questions[0],
		"questions":        questions,
		"papers":           allPapers,
		"count":            len(allPapers),
		"question_results": questionResults,
		"provider":         "arxiv_fallback",
	}, nil
}

func (a *Adapter) readArxiv(ctx context.Context, items []map[string]any) (map[string]any, error) {
	if len(items) == 0 {
		return map[string]any{
			"success":  false,
			"error":    "empty_items",
			"items":    []any{},
			"provider": "arxiv_fallback",
		}, nil
	}

	if len(items) > 8 {
		items = items[:8]
	}

	var outputs []any
	for _, item := range items {
		arxivID := strings.TrimSpace(stringField(item, "id"))
		if arxivID == "" {
			arxivID = strings.TrimSpace(stringField(item, "arxiv_id"))
		}
		question := strings.TrimSpace(stringField(item, "question"))
		titleHint := strings.TrimSpace(stringField(item, "title"))

		if arxivID == "" && titleHint != "" {
			guessed, err := a.arxivQuery(ctx, titleHint, 1)
			if err == nil && len(guessed) > 0 {
				arxivID = guessed[0].ArxivID
			}
		}

		if arxivID == "" {
			outputs = append(outputs, map[string]any{
				"id":       "",
				"question": question,
				"success":  false,
				"error":    "missing_arxiv_id",
			})
			continue
		}

		detail, err := a.arxivFetchSingle(ctx, arxivID)
		if err != nil || detail == nil {
			outputs = append(outputs, map[string]any{
				"id":       arxivID,
				"question": question,
				"success":  false,
				"error":    "paper_not_found",
			})
			continue
		}

		outputs = append(outputs, map[string]any{
			"id":       arxivID,
			"question": question,
			"success":  true,
			"paper":    detail.toMap(),
			"answer":   buildReadAnswer(*detail, question),
		})
	}

	return map[string]any{
		"success":  true,
		"items":    outputs,
		"count":    len(outputs),
		"provider": "arxiv_fallback",
	}, nil
}

func buildReadAnswer(detail Paper, question string) string {
	abstract := strings.TrimSpace(detail.Abstract)
	if abstract == "" {
		abstract = "No abstract available."
	}
	if question == "" {
		return fmt.Sprintf("Title: %s\n\nAbstract:\n%s", detail.Title, abstract)
	}
	return fmt.Sprintf(
		"Question: %s\n\nFrom paper '%s', available evidence (abstract-level) is:\n%s\n\n"+
			"Note: This fallback reader uses arXiv metadata/abstract, not full-text deep parsing.",
		question, detail.Title, abstract,
	)
}

func (a *Adapter) arxivQuery(ctx context.Context, question string, maxResults int) ([]Paper, error) {
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 16 {
		maxResults = 16
	}
	q := url.QueryEscape(questionToArxivQuery(question))
	endpoint := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d", a.arxivURL, q, maxResults)
	return a.fetchArxivFeed(ctx, endpoint)
}

func (a *Adapter) arxivFetchSingle(ctx context.Context, arxivID string) (*Paper, error) {
	clean := strings.TrimSpace(arxivID)
	if clean == "" {
		return nil, nil
	}
	q := url.QueryEscape("id:" + clean)
	endpoint := fmt.Sprintf("%s?search_query=%s&start=0&max_results=1", a.arxivURL, q)
	papers, err := a.fetchArxivFeed(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, nil
	}
	return &papers[0], nil
}

func (a *Adapter) fetchArxivFeed(ctx context.Context, endpoint string) ([]Paper, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := a.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("arxiv returned HTTP %d", resp.StatusCode)
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("arxiv query failed: %w", err)
	}
	return parseArxivFeed(body)
}

func parseArxivFeed(data []byte) ([]Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse arxiv feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		arxivID := ""
		if entry.ID != "" {
			parts := strings.Split(entry.ID, "/")
			arxivID = parts[len(parts)-1]
		}
		absURL := ""
		pdfURL := ""
		if arxivID != "" {
			absURL = "https://arxiv.org/abs/" + arxivID
			pdfURL = "https://arxiv.org/pdf/" + arxivID + ".pdf"
		}

		var authors []string
		for _, au := range entry.Authors {
			if name := strings.TrimSpace(au.Name); name != "" {
				authors = append(authors, name)
			}
		}

		papers = append(papers, Paper{
			Title:     strings.TrimSpace(entry.Title),
			Abstract:  strings.TrimSpace(entry.Summary),
			Authors:   authors,
			Published: strings.TrimSpace(entry.Published),
			Updated:   strings.TrimSpace(entry.Updated),
			ArxivID:   arxivID,
			URL:       absURL,
			AbsURL:    absURL,
			PDFURL:    pdfURL,
			Source:    "arxiv",
		})
	}
	return papers, nil
}

var (
	wsRe       = regexp.MustCompile(`\s+`)
	nonQueryRe = regexp.MustCompile(`[^a-z0-9\s-]`)
)

var arxivStopwords = map[string]bool{
	"what": true, "which": true, "how": true, "are": true, "is": true, "the": true,
	"for": true, "of": true, "to": true, "in": true, "and": true, "on": true,
	"with": true, "recent": true, "papers": true, "methods": true, "paper": true,
	"about": true, "does": true, "can": true, "be": true, "used": true, "that": true,
}

// questionToArxivQuery reduces a natural-language question to up to ten
// content-bearing tokens.
func questionToArxivQuery(question string) string {
	text := wsRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(question)), " ")
	text = nonQueryRe.ReplaceAllString(text, " ")
	var kept []string
	for _, tok := range strings.Fields(text) {
		if !arxivStopwords[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) > 10 {
		kept = kept[:10]
	}
	if len(kept) == 0 {
		return text
	}
	return strings.Join(kept, " ")
}
