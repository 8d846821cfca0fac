package review

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolSchemas maps tool name to the JSON schema of its arguments. The same
// text is handed to the LLM as the tool's parameter definition and compiled
// for server-side validation before dispatch.
var toolSchemas = map[string]string{
	"status_update": `{
		"type": "object",
		"properties": {
			"step": {"type": "string", "description": "What the agent is doing right now."},
			"completed": {"type": "string", "description": "Work finished since the last update."},
			"blocked": {"type": "string", "description": "Anything blocking progress."},
			"todo": {"type": "string", "description": "Remaining planned work."}
		},
		"required": ["step"]
	}`,
	"pdf_search": `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Text to search for in the parsed paper."},
			"top_k": {"type": "integer", "description": "Maximum hits to return (1-50, default 8)."}
		},
		"required": ["query"]
	}`,
	"pdf_read_lines": `{
		"type": "object",
		"properties": {
			"page": {"type": "integer", "description": "1-based page number."},
			"start_line": {"type": "integer", "description": "1-based first line to read."},
			"end_line": {"type": "integer", "description": "1-based last line to read (inclusive)."}
		},
		"required": ["page", "start_line", "end_line"]
	}`,
	"pdf_jump": `{
		"type": "object",
		"properties": {
			"page": {"type": "integer", "description": "1-based page number."}
		},
		"required": ["page"]
	}`,
	"pdf_annotate": `{
		"type": "object",
		"properties": {
			"page": {"type": "integer", "description": "1-based page number."},
			"start_line": {"type": "integer", "description": "1-based first line of the span."},
			"end_line": {"type": "integer", "description": "1-based last line of the span (inclusive)."},
			"comment": {"type": "string", "description": "Review comment for the selected span."},
			"summary": {"type": "string", "description": "Optional one-line summary."},
			"object_type": {"type": "string", "enum": ["issue", "suggestion", "verification"]},
			"severity": {"type": "string", "enum": ["critical", "major", "minor"]}
		},
		"required": ["page", "start_line", "end_line", "comment"]
	}`,
	"paper_search": `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Free-text search query."},
			"question_list": {
				"description": "Up to 3 research questions; a list, a JSON array string, or bullet text.",
				"anyOf": [
					{"type": "string"},
					{"type": "array", "items": {"type": "string"}}
				]
			}
		}
	}`,
	"read_paper": `{
		"type": "object",
		"properties": {
			"items": {
				"type": "array",
				"description": "Papers to read; each item carries an arxiv_id or url plus an optional question.",
				"items": {"type": "object"}
			}
		},
		"required": ["items"]
	}`,
	"question_prompt": `{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "Question for the human operator."},
			"options": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["question"]
	}`,
	"review_final_markdown_write": `{
		"type": "object",
		"properties": {
			"markdown": {"type": "string", "description": "Full report markdown with section headings."},
			"summary": {"type": "string"},
			"strengths": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"weaknesses": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"issues": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"suggestions": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"storylines": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"section_id": {"type": "string", "description": "Canonical id of the section being submitted."},
			"section_title": {"type": "string", "description": "Human title of the section being submitted."},
			"section_content": {
				"description": "Markdown content for the named section.",
				"anyOf": [
					{"type": "string"},
					{"type": "array", "items": {"type": "string"}}
				]
			},
			"source": {"type": "string", "description": "Free-form tag recorded with the final report."}
		},
		"additionalProperties": false
	}`,
}

var toolDescriptions = map[string]string{
	"status_update":  "Record a short progress note so the job status stays current.",
	"pdf_search":     "Search the parsed paper text and return scored line hits.",
	"pdf_read_lines": "Read an inclusive line range from one page of the parsed paper.",
	"pdf_jump":       "Jump to a page and preview its first lines.",
	"pdf_annotate": "Create a review annotation on a line span of the paper. " +
		"Requires prior paper_search usage when gates are enforced.",
	"paper_search": "Search external literature for related work. " +
		"Counts toward the retrieval gates.",
	"read_paper":      "Read one or more previously found papers in depth.",
	"question_prompt": "Ask the human operator a question. Not available in this deployment.",
	"review_final_markdown_write": "Submit the final review report. Preferred usage is section mode: " +
		"one (section_id, section_content) pair per call until all required sections are present.",
}

var compiledSchemas = compileToolSchemas()

func compileToolSchemas() map[string]*jsonschema.Schema {
	compiled := make(map[string]*jsonschema.Schema, len(toolSchemas))
	for name, text := range toolSchemas {
		c := jsonschema.NewCompiler()
		url := name + ".json"
		if err := c.AddResource(url, strings.NewReader(text)); err != nil {
			panic(fmt.Sprintf("tool schema %s: %v", name, err))
		}
		schema, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("tool schema %s: %v", name, err))
		}
		compiled[name] = schema
	}
	return compiled
}
