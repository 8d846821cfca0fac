package report

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	englishWordRe = regexp.MustCompile(`[A-Za-z]+(?:['’-][A-Za-z]+)?`)
	chineseCharRe = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
	codeFenceRe   = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCodeRe  = regexp.MustCompile("`[^`\n]+`")
	mdLinkRe      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	urlRe         = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

// Validation-heading groups. These are looser than the registry aliases so
// the heading scan accepts reports written against either naming and in
// either supported language.
var validationGroups = []struct {
	Label   string
	Aliases []string
}{
	{"Summary", []string{"summary", "摘要", "总结"}},
	{"Strengths", []string{"strengths", "优点", "优势"}},
	{"Weaknesses", []string{"weaknesses", "缺点", "问题"}},
	{"Key Issues", []string{"key issues", "核心问题", "关键问题"}},
	{"Actionable Suggestions", []string{"actionable suggestions", "建议", "可执行建议"}},
	{"Storyline Options + Writing Outlines", []string{"storyline options", "writing outlines", "叙事方案", "写作提纲"}},
	{"Priority Revision Plan", []string{"priority revision plan", "修订计划", "优先级修订计划"}},
	{"Experiment Inventory & Research Experiment Plan", []string{"experiment inventory", "research experiment plan", "实验清单", "研究实验计划"}},
	{"Novelty Verification & Related-Work Matrix", []string{"novelty verification", "related-work matrix", "新颖性验证", "相关工作矩阵"}},
	{"References", []string{"references", "reference", "参考文献"}},
	{"Scores", []string{"scores", "final score", "评分", "最终评分"}},
}

// LanguageStats summarizes the report's language composition.
type LanguageStats struct {
	PrimaryLanguage string  `json:"primary_language"`
	EnglishWords    int     `json:"english_words"`
	ChineseChars    int     `json:"chinese_chars"`
	EnglishRatio    float64 `json:"english_ratio"`
	ChineseRatio    float64 `json:"chinese_ratio"`
}

// Validation is the outcome of validating an assembled report.
type Validation struct {
	OK              bool
	Reason          string
	Message         string
	LanguageStats   LanguageStats
	MissingSections []string
}

// ValidateOptions are the content-validation thresholds.
type ValidateOptions struct {
	MinEnglishWords    int
	MinChineseChars    int
	ForceEnglishOutput bool
}

func extractHeadings(markdown string) []string {
	var headings []string
	for _, line := range strings.Split(markdown, "\n") {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, "#") {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(strings.TrimLeft(stripped, "#")))
		if text != "" {
			headings = append(headings, text)
		}
	}
	return headings
}

// FindMissing scans the markdown's headings and returns the labels of
// required sections no heading mentions.
func FindMissing(markdown string) []string {
	headings := extractHeadings(markdown)
	if len(headings) == 0 {
		labels := make([]string, len(validationGroups))
		for i, g := range validationGroups {
			labels[i] = g.Label
		}
		return labels
	}

	var missing []string
	for _, g := range validationGroups {
		found := false
	scan:
		for _, alias := range g.Aliases {
			for _, h := range headings {
				if strings.Contains(h, alias) {
					found = true
					break scan
				}
			}
		}
		if !found {
			missing = append(missing, g.Label)
		}
	}
	return missing
}

// sanitizeForCount drops code, links, URLs, and table pipes before counting
// language units.
func sanitizeForCount(text string) string {
	s := codeFenceRe.ReplaceAllString(text, " ")
	s = inlineCodeRe.ReplaceAllString(s, " ")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = urlRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "|", " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// AnalyzeLanguage counts English words against Chinese characters and picks
// the primary language.
func AnalyzeLanguage(text string) LanguageStats {
	cleaned := sanitizeForCount(text)
	english := len(englishWordRe.FindAllString(cleaned, -1))
	chinese := len(chineseCharRe.FindAllString(cleaned, -1))

	total := english + chinese
	if total <= 0 {
		return LanguageStats{PrimaryLanguage: "en", EnglishWords: english, ChineseChars: chinese}
	}

	stats := LanguageStats{
		EnglishWords: english,
		ChineseChars: chinese,
		EnglishRatio: float64(english) / float64(total),
		ChineseRatio: float64(chinese) / float64(total),
	}
	if stats.ChineseRatio > 0.5 {
		stats.PrimaryLanguage = "zh-CN"
	} else {
		stats.PrimaryLanguage = "en"
	}
	return stats
}

// Validate runs the full content validation over an assembled report.
func Validate(markdown string, opts ValidateOptions) Validation {
	text := strings.TrimSpace(markdown)
	if text == "" {
		labels := make([]string, len(validationGroups))
		for i, g := range validationGroups {
			labels[i] = g.Label
		}
		return Validation{
			Reason:          "markdown_required",
			Message:         "Final report markdown is empty.",
			LanguageStats:   AnalyzeLanguage(""),
			MissingSections: labels,
		}
	}

	missing := FindMissing(text)
	stats := AnalyzeLanguage(text)

	if opts.ForceEnglishOutput && stats.ChineseChars > 0 {
		return Validation{
			Reason:        "english_required",
			Message:       "Final report must be written in English only for this deployment.",
			LanguageStats: stats,
		}
	}

	if len(missing) > 0 {
		return Validation{
			Reason:          "final_report_sections_not_met",
			Message:         "Final report missing required sections: " + strings.Join(missing, ", "),
			LanguageStats:   stats,
			MissingSections: missing,
		}
	}

	if opts.MinEnglishWords > 0 && stats.PrimaryLanguage == "en" && stats.EnglishWords < opts.MinEnglishWords {
		return Validation{
			Reason:        "final_report_length_not_met",
			Message:       fmt.Sprintf("English report is too short: %d words, required >= %d.", stats.EnglishWords, opts.MinEnglishWords),
			LanguageStats: stats,
		}
	}

	if opts.MinChineseChars > 0 && stats.PrimaryLanguage == "zh-CN" && stats.ChineseChars < opts.MinChineseChars {
		return Validation{
			Reason:        "final_report_length_not_met",
			Message:       fmt.Sprintf("Chinese report is too short: %d chars, required >= %d.", stats.ChineseChars, opts.MinChineseChars),
			LanguageStats: stats,
		}
	}

	return Validation{OK: true, Message: "ok", LanguageStats: stats}
}
