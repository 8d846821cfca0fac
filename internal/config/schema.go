package config

import "strings"

// Settings holds referee configuration.
// Stored at: {home}/config.yaml, overridable via REFEREE_* environment
// variables.
type Settings struct {
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	MaxPDFBytes int64  `mapstructure:"max_pdf_bytes" yaml:"max_pdf_bytes"`

	// LLM endpoint for the review agent. Any OpenAI-compatible chat API.
	OpenAIAPIKey  string `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url"`

	AgentModel          string  `mapstructure:"agent_model" yaml:"agent_model"`
	AgentTemperature    float64 `mapstructure:"agent_temperature" yaml:"agent_temperature"`
	AgentMaxTokens      int     `mapstructure:"agent_max_tokens" yaml:"agent_max_tokens"`
	AgentMaxTurns       int     `mapstructure:"agent_max_turns" yaml:"agent_max_turns"`
	AgentResumeAttempts int     `mapstructure:"agent_resume_attempts" yaml:"agent_resume_attempts"`

	// MaxMarkdownCharsToModel truncates the parsed paper text embedded in
	// the agent prompt.
	MaxMarkdownCharsToModel int `mapstructure:"max_markdown_chars_to_model" yaml:"max_markdown_chars_to_model"`

	SubmitDefaultWaitSeconds  int     `mapstructure:"submit_default_wait_seconds" yaml:"submit_default_wait_seconds"`
	SubmitPollIntervalSeconds float64 `mapstructure:"submit_poll_interval_seconds" yaml:"submit_poll_interval_seconds"`

	// MinerU parse service.
	MinerUBaseURL               string  `mapstructure:"mineru_base_url" yaml:"mineru_base_url"`
	MinerUAPIToken              string  `mapstructure:"mineru_api_token" yaml:"mineru_api_token"`
	MinerUModelVersion          string  `mapstructure:"mineru_model_version" yaml:"mineru_model_version"`
	MinerUUploadEndpoint        string  `mapstructure:"mineru_upload_endpoint" yaml:"mineru_upload_endpoint"`
	MinerUPollEndpointTemplates string  `mapstructure:"mineru_poll_endpoint_templates" yaml:"mineru_poll_endpoint_templates"`
	MinerUPollIntervalSeconds   float64 `mapstructure:"mineru_poll_interval_seconds" yaml:"mineru_poll_interval_seconds"`
	MinerUPollTimeoutSeconds    int     `mapstructure:"mineru_poll_timeout_seconds" yaml:"mineru_poll_timeout_seconds"`
	MinerUAllowLocalFallback    bool    `mapstructure:"mineru_allow_local_fallback" yaml:"mineru_allow_local_fallback"`

	// Optional external paper search/read service.
	PaperSearchBaseURL        string `mapstructure:"paper_search_base_url" yaml:"paper_search_base_url"`
	PaperSearchAPIKey         string `mapstructure:"paper_search_api_key" yaml:"paper_search_api_key"`
	PaperSearchEndpoint       string `mapstructure:"paper_search_endpoint" yaml:"paper_search_endpoint"`
	PaperSearchTimeoutSeconds int    `mapstructure:"paper_search_timeout_seconds" yaml:"paper_search_timeout_seconds"`

	PaperReadBaseURL        string `mapstructure:"paper_read_base_url" yaml:"paper_read_base_url"`
	PaperReadAPIKey         string `mapstructure:"paper_read_api_key" yaml:"paper_read_api_key"`
	PaperReadEndpoint       string `mapstructure:"paper_read_endpoint" yaml:"paper_read_endpoint"`
	PaperReadTimeoutSeconds int    `mapstructure:"paper_read_timeout_seconds" yaml:"paper_read_timeout_seconds"`

	// Finalization gates.
	EnableFinalGates                  bool `mapstructure:"enable_final_gates" yaml:"enable_final_gates"`
	MinPaperSearchCallsForPDFAnnotate int  `mapstructure:"min_paper_search_calls_for_pdf_annotate" yaml:"min_paper_search_calls_for_pdf_annotate"`
	MinPaperSearchCallsForFinal       int  `mapstructure:"min_paper_search_calls_for_final" yaml:"min_paper_search_calls_for_final"`
	MinDistinctPaperQueriesForFinal   int  `mapstructure:"min_distinct_paper_queries_for_final" yaml:"min_distinct_paper_queries_for_final"`
	MinAnnotationsForFinal            int  `mapstructure:"min_annotations_for_final" yaml:"min_annotations_for_final"`
	MinEnglishWordsForFinal           int  `mapstructure:"min_english_words_for_final" yaml:"min_english_words_for_final"`
	MinChineseCharsForFinal           int  `mapstructure:"min_chinese_chars_for_final" yaml:"min_chinese_chars_for_final"`
	ForceEnglishOutput                bool `mapstructure:"force_english_output" yaml:"force_english_output"`

	// Report PDF export.
	PDFFontName      string  `mapstructure:"pdf_font_name" yaml:"pdf_font_name"`
	PDFTitleFontSize float64 `mapstructure:"pdf_title_font_size" yaml:"pdf_title_font_size"`
	PDFBodyFontSize  float64 `mapstructure:"pdf_body_font_size" yaml:"pdf_body_font_size"`
	PDFPageMargin    float64 `mapstructure:"pdf_page_margin" yaml:"pdf_page_margin"`
}

// MinerUPollTemplates splits the comma-separated template list. Each
// template contains a {batch_id} placeholder.
func (s *Settings) MinerUPollTemplates() []string {
	var templates []string
	for _, item := range strings.Split(s.MinerUPollEndpointTemplates, ",") {
		normalized := strings.TrimSpace(item)
		if normalized == "" {
			continue
		}
		templates = append(templates, normalized)
	}
	return templates
}

// MinerUConfigured reports whether the remote parse service is usable.
func (s *Settings) MinerUConfigured() bool {
	return s.MinerUAPIToken != "" && s.MinerUBaseURL != ""
}
