package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refereehq/referee/internal/state"
)

var (
	resultJobID  string
	resultFormat string
)

var resultCmd = &cobra.Command{
	Use:   "result --job-id ID",
	Short: "Fetch the review report for a job",
	Long: `Result prints the committed review. Format md writes the raw report
markdown to stdout; pdf and all print JSON with the artifact paths. A job
whose report is not ready yet prints a not_ready record and exits 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resultJobID == "" {
			return usageErrorf("--job-id is required")
		}
		switch resultFormat {
		case "md", "pdf", "all":
		default:
			return usageErrorf("invalid --format %q (want md, pdf, or all)", resultFormat)
		}

		app, err := setup()
		if err != nil {
			return err
		}
		job, err := app.loadJob(resultJobID)
		if err != nil {
			return err
		}

		mdPath := app.home.FinalReportMDPath(job.ID)
		if !job.FinalReportReady {
			return printJSON(map[string]any{
				"status":  "not_ready",
				"job_id":  job.ID,
				"state":   job.Status,
				"message": job.Message,
				"error":   job.Error,
			})
		}

		switch resultFormat {
		case "md":
			data, err := os.ReadFile(mdPath)
			if err != nil {
				return fmt.Errorf("final report missing on disk: %w", err)
			}
			_, err = os.Stdout.Write(data)
			return err
		case "pdf":
			return printJSON(resultRow(app, job, false))
		default:
			return printJSON(resultRow(app, job, true))
		}
	},
}

func init() {
	resultCmd.Flags().StringVar(&resultJobID, "job-id", "", "job to fetch (required)")
	resultCmd.Flags().StringVar(&resultFormat, "format", "md", "output format: md, pdf, or all")
}

func resultRow(app *appContext, job *state.Job, includeMarkdown bool) map[string]any {
	row := map[string]any{
		"status":             "ready",
		"job_id":             job.ID,
		"state":              job.Status,
		"final_report_ready": job.FinalReportReady,
		"pdf_ready":          job.PDFReady,
		"annotation_count":   job.AnnotationCount,
		"report_md":          app.home.FinalReportMDPath(job.ID),
	}
	if job.PDFReady {
		row["report_pdf"] = app.home.FinalReportPDFPath(job.ID)
	}
	if path, ok := job.Artifacts[state.ArtifactAnnotations]; ok {
		row["annotations"] = path
	}
	if includeMarkdown {
		if data, err := os.ReadFile(app.home.FinalReportMDPath(job.ID)); err == nil {
			row["markdown"] = string(data)
		}
	}
	return row
}
