package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/refereehq/referee/internal/runner"
)

var runJobID string

// runJobCmd is the detached worker entrypoint spawned by submit. It is
// hidden: users interact with submit/status/watch/result instead.
var runJobCmd = &cobra.Command{
	Use:    "_run-job",
	Short:  "Run one review job to completion (worker entrypoint)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runJobID == "" {
			return usageErrorf("--job-id is required")
		}
		app, err := setup()
		if err != nil {
			return err
		}

		// Worker stderr lands in worker.stderr.log inside the job dir.
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		ctrl := runner.New(app.store, app.settings)
		ctrl.SetLogger(logger)
		return ctrl.Run(cmd.Context(), runJobID)
	},
}

func init() {
	runJobCmd.Flags().StringVar(&runJobID, "job-id", "", "job to run")
}
