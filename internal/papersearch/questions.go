package papersearch

import (
	"encoding/json"
	"strings"
)

// NormalizeQuestionList accepts a list of strings, a JSON-array string, or
// newline/bullet-separated text, deduplicates case-insensitively, and caps
// the result at three questions.
func NormalizeQuestionList(raw any) []string {
	var rawItems []string

	switch v := raw.(type) {
	case []string:
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				rawItems = append(rawItems, s)
			}
		}
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(anyToString(item)); s != "" {
				rawItems = append(rawItems, s)
			}
		}
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			break
		}
		var parsed []any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			for _, item := range parsed {
				if s := strings.TrimSpace(anyToString(item)); s != "" {
					rawItems = append(rawItems, s)
				}
			}
		} else {
			for _, line := range strings.Split(text, "\n") {
				if s := strings.Trim(line, "-• \t"); s != "" {
					rawItems = append(rawItems, s)
				}
			}
		}
	}

	var cleaned []string
	seen := map[string]bool{}
	for _, item := range rawItems {
		normalized := strings.Join(strings.Fields(item), " ")
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, normalized)
	}
	if len(cleaned) > 3 {
		cleaned = cleaned[:3]
	}
	return cleaned
}

// Signature normalizes a query for distinct-query counting: lowercased with
// whitespace collapsed.
func Signature(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func anyToString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
