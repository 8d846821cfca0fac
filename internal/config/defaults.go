package config

// DefaultSettings returns configuration with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		DataDir:     "",
		MaxPDFBytes: 50 * 1024 * 1024,

		AgentModel:          "gpt-4o",
		AgentTemperature:    0.2,
		AgentMaxTokens:      4096,
		AgentMaxTurns:       1000,
		AgentResumeAttempts: 2,

		MaxMarkdownCharsToModel: 120000,

		SubmitDefaultWaitSeconds:  8,
		SubmitPollIntervalSeconds: 1.0,

		MinerUBaseURL:        "https://mineru.net/api/v4",
		MinerUModelVersion:   "vlm",
		MinerUUploadEndpoint: "/file-urls/batch",
		MinerUPollEndpointTemplates: "/extract-results/batch/{batch_id}," +
			"/extract-results/{batch_id}," +
			"/extract/task/{batch_id}",
		MinerUPollIntervalSeconds: 3.0,
		MinerUPollTimeoutSeconds:  900,
		MinerUAllowLocalFallback:  false,

		PaperSearchEndpoint:       "/pasa/search",
		PaperSearchTimeoutSeconds: 120,
		PaperReadEndpoint:         "/read",
		PaperReadTimeoutSeconds:   180,

		EnableFinalGates:                  false,
		MinPaperSearchCallsForPDFAnnotate: 3,
		MinPaperSearchCallsForFinal:       3,
		MinDistinctPaperQueriesForFinal:   3,
		MinAnnotationsForFinal:            10,
		MinEnglishWordsForFinal:           0,
		MinChineseCharsForFinal:           0,
		ForceEnglishOutput:                true,

		PDFFontName:      "Helvetica",
		PDFTitleFontSize: 15,
		PDFBodyFontSize:  10,
		PDFPageMargin:    48,
	}
}
