// Package report implements the final-report section model: the required
// section registry, id normalization, markdown extraction and assembly, and
// committed-report validation.
package report

import (
	"regexp"
	"strings"
)

// Canonical required section ids, in assembly order.
const (
	SectionSummary     = "summary"
	SectionStrengths   = "strengths"
	SectionWeaknesses  = "weaknesses"
	SectionKeyIssues   = "key_issues"
	SectionSuggestions = "actionable_suggestions"
	SectionStorylines  = "storyline_options_writing_outlines"
	SectionRevision    = "priority_revision_plan"
	SectionExperiments = "experiment_inventory_research_experiment_plan"
	SectionNovelty     = "novelty_verification_related_work_matrix"
	SectionReferences  = "references"
	SectionScores      = "scores"
)

// Section describes one required final-report section.
type Section struct {
	ID      string
	Title   string
	Aliases []string
}

// Required is the ordered registry of sections a committed report must carry.
var Required = []Section{
	{SectionSummary, "Summary", []string{"summary"}},
	{SectionStrengths, "Strengths", []string{"strengths"}},
	{SectionWeaknesses, "Weaknesses", []string{"weaknesses"}},
	{SectionKeyIssues, "Key Issues", []string{"key issues", "issues"}},
	{SectionSuggestions, "Actionable Suggestions", []string{"actionable suggestions", "suggestions"}},
	{SectionStorylines, "Storyline Options + Writing Outlines", []string{
		"storyline options + writing outlines", "storyline options", "writing outlines", "storylines",
	}},
	{SectionRevision, "Priority Revision Plan", []string{"priority revision plan", "revision plan"}},
	{SectionExperiments, "Experiment Inventory & Research Experiment Plan", []string{
		"experiment inventory & research experiment plan", "experiment inventory", "research experiment plan",
	}},
	{SectionNovelty, "Novelty Verification & Related-Work Matrix", []string{
		"novelty verification & related-work matrix", "novelty verification & related work matrix",
		"novelty verification", "related-work matrix", "related work matrix",
	}},
	{SectionReferences, "References", []string{"references", "reference"}},
	{SectionScores, "Scores", []string{"scores", "score", "final score"}},
}

var headingRe = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*$`)

var (
	nonAlnumRe = regexp.MustCompile(`[^0-9a-z\s]`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// aliasEntry pairs a normalized alias with its section id, preserving
// registry order so substring fallback is deterministic.
type aliasEntry struct {
	alias string
	id    string
}

var aliasEntries = buildAliasEntries()

func buildAliasEntries() []aliasEntry {
	var entries []aliasEntry
	seen := map[string]bool{}
	for _, sec := range Required {
		candidates := append([]string{sec.ID, sec.Title}, sec.Aliases...)
		for _, raw := range candidates {
			norm := NormalizeToken(raw)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			entries = append(entries, aliasEntry{alias: norm, id: sec.ID})
		}
	}
	return entries
}

// NormalizeToken canonicalizes a section name or heading: lowercase,
// "&" to " and ", separators to spaces, non-alphanumerics stripped,
// whitespace collapsed.
func NormalizeToken(value string) string {
	token := strings.ToLower(strings.TrimSpace(value))
	if token == "" {
		return ""
	}
	token = strings.ReplaceAll(token, "&", " and ")
	for _, sep := range []string{"+", "/", "\\", "_", "-"} {
		token = strings.ReplaceAll(token, sep, " ")
	}
	token = nonAlnumRe.ReplaceAllString(token, " ")
	token = spaceRe.ReplaceAllString(token, " ")
	return strings.TrimSpace(token)
}

// ResolveSectionID maps any section name, title, or alias to its canonical
// id. Exact alias match wins; otherwise the first registry alias contained in
// the token matches. Returns "" when nothing resolves.
func ResolveSectionID(key string) string {
	normalized := NormalizeToken(key)
	if normalized == "" {
		return ""
	}
	for _, e := range aliasEntries {
		if e.alias == normalized {
			return e.id
		}
	}
	for _, e := range aliasEntries {
		if strings.Contains(normalized, e.alias) {
			return e.id
		}
	}
	return ""
}

// SectionOrder returns the canonical section ids in order.
func SectionOrder() []string {
	out := make([]string, len(Required))
	for i, sec := range Required {
		out[i] = sec.ID
	}
	return out
}

// SectionTitle returns the display title for a canonical id, or the id
// itself when unknown.
func SectionTitle(id string) string {
	for _, sec := range Required {
		if sec.ID == id {
			return sec.Title
		}
	}
	return id
}

// Descriptor is the {id, title} pair surfaced in tool payloads.
type Descriptor struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Describe builds a Descriptor for a section id.
func Describe(id string) Descriptor {
	return Descriptor{ID: id, Title: SectionTitle(id)}
}

// DescribeAll builds descriptors for a list of ids.
func DescribeAll(ids []string) []Descriptor {
	out := make([]Descriptor, len(ids))
	for i, id := range ids {
		out[i] = Describe(id)
	}
	return out
}

// StripLeadingHeading drops a first heading line from content when it names
// the same section, plus any blank lines after it.
func StripLeadingHeading(sectionID, content string) string {
	text := strings.TrimSpace(content)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	m := headingRe.FindStringSubmatch(strings.TrimSpace(lines[0]))
	if m == nil {
		return text
	}
	if ResolveSectionID(m[1]) != sectionID {
		return text
	}
	i := 1
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}

// JoinItems renders a list of strings as bullet lines.
func JoinItems(items []string) string {
	var kept []string
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			kept = append(kept, "- "+s)
		}
	}
	return strings.Join(kept, "\n")
}

// ExtractSections scans markdown headings and groups subsequent non-heading
// lines under the section each recognized heading resolves to. Unrecognized
// headings end the previous section without opening a new one.
func ExtractSections(markdown string) map[string]string {
	buffers := map[string][]string{}
	active := ""
	for _, raw := range strings.Split(markdown, "\n") {
		if m := headingRe.FindStringSubmatch(raw); m != nil {
			active = ResolveSectionID(m[1])
			if active != "" {
				if _, ok := buffers[active]; !ok {
					buffers[active] = nil
				}
			}
			continue
		}
		if active != "" {
			buffers[active] = append(buffers[active], raw)
		}
	}

	out := map[string]string{}
	for id, lines := range buffers {
		if content := strings.TrimSpace(strings.Join(lines, "\n")); content != "" {
			out[id] = content
		}
	}
	return out
}

// Assemble renders the section map as the final markdown: one "## <Title>"
// block per required section in canonical order, empty sections skipped.
func Assemble(sections map[string]string) string {
	var blocks []string
	for _, sec := range Required {
		content := strings.TrimSpace(sections[sec.ID])
		if content == "" {
			continue
		}
		blocks = append(blocks, "## "+sec.Title+"\n"+content)
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

// MissingFrom returns the ids absent from the section map, in order.
func MissingFrom(sections map[string]string) []string {
	var missing []string
	for _, sec := range Required {
		if strings.TrimSpace(sections[sec.ID]) == "" {
			missing = append(missing, sec.ID)
		}
	}
	return missing
}

// CompletedFrom returns the ids present in the section map, in order.
func CompletedFrom(sections map[string]string) []string {
	var done []string
	for _, sec := range Required {
		if strings.TrimSpace(sections[sec.ID]) != "" {
			done = append(done, sec.ID)
		}
	}
	return done
}
