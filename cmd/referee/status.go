package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/refereehq/referee/internal/state"
)

var statusJobID string

var statusCmd = &cobra.Command{
	Use:   "status --job-id ID",
	Short: "Print the current state of a review job",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusJobID == "" {
			return usageErrorf("--job-id is required")
		}
		app, err := setup()
		if err != nil {
			return err
		}
		job, err := app.loadJob(statusJobID)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var (
	watchJobID    string
	watchInterval time.Duration
	watchTimeout  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch --job-id ID",
	Short: "Follow a review job until it completes or fails",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchJobID == "" {
			return usageErrorf("--job-id is required")
		}
		app, err := setup()
		if err != nil {
			return err
		}
		job, err := app.loadJob(watchJobID)
		if err != nil {
			return err
		}

		var deadline time.Time
		if watchTimeout > 0 {
			deadline = time.Now().Add(watchTimeout)
		}

		last := ""
		for {
			line := watchLine(job)
			if line != last {
				last = line
				if err := printJSON(watchRow(job)); err != nil {
					return err
				}
			}
			if job.Status.Terminal() {
				return nil
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return nil
			}

			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(watchInterval):
			}

			next, err := app.store.Load(job.ID)
			if err != nil {
				continue
			}
			job = next
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusJobID, "job-id", "", "job to inspect (required)")
	watchCmd.Flags().StringVar(&watchJobID, "job-id", "", "job to follow (required)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "poll interval")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "give up after this long (0 = forever)")
}

func watchRow(job *state.Job) map[string]any {
	return map[string]any{
		"status":             job.Status,
		"message":            job.Message,
		"annotation_count":   job.AnnotationCount,
		"paper_search_calls": job.Usage.PaperSearch.TotalCalls,
		"final_report_ready": job.FinalReportReady,
		"pdf_ready":          job.PDFReady,
	}
}

// watchLine is the change-detection key: a row is printed only when it
// differs from the previous one.
func watchLine(job *state.Job) string {
	return fmt.Sprintf("%s|%s|%d|%d|%v|%v",
		job.Status, job.Message, job.AnnotationCount,
		job.Usage.PaperSearch.TotalCalls, job.FinalReportReady, job.PDFReady)
}
