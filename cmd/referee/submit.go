package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/refereehq/referee/internal/state"
)

var (
	submitPDF         string
	submitTitle       string
	submitWaitSeconds int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a paper PDF for review",
	Long: `Submit registers a review job, spawns a detached worker process to run
it, and waits briefly for early progress before printing the job record.
The job keeps running after submit returns; follow it with status or watch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitPDF == "" {
			return usageErrorf("--pdf is required")
		}
		pdfPath, err := filepath.Abs(submitPDF)
		if err != nil {
			return usageErrorf("invalid --pdf path: %v", err)
		}
		if info, err := os.Stat(pdfPath); err != nil {
			return usageErrorf("cannot read %s: %v", pdfPath, err)
		} else if info.IsDir() {
			return usageErrorf("%s is a directory", pdfPath)
		}
		if !strings.EqualFold(filepath.Ext(pdfPath), ".pdf") {
			return usageErrorf("%s is not a .pdf file", pdfPath)
		}

		app, err := setup()
		if err != nil {
			return err
		}

		title := submitTitle
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
		}

		job, err := app.store.Create(title, pdfPath)
		if err != nil {
			return err
		}

		if err := spawnWorker(app, job.ID); err != nil {
			// The job exists but nothing will run it; fail it so status
			// does not report a forever-queued job.
			_, _ = app.store.Fail(job.ID, fmt.Errorf("worker_spawn_failed: %w", err))
			return err
		}

		wait := submitWaitSeconds
		if wait < 0 {
			wait = app.settings.SubmitDefaultWaitSeconds
		}
		job = waitForProgress(app, job.ID, wait)

		return printJSON(job)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitPDF, "pdf", "", "path to the paper PDF (required)")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "paper title (default: PDF file name)")
	submitCmd.Flags().IntVar(&submitWaitSeconds, "wait-seconds", -1, "seconds to wait for early progress before returning")
}

// spawnWorker starts a detached `referee _run-job` process with its output
// captured into the job directory.
func spawnWorker(app *appContext, jobID string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own binary: %w", err)
	}

	workerArgs := []string{"_run-job", "--job-id", jobID}
	if cfgFile != "" {
		workerArgs = append(workerArgs, "--config", cfgFile)
	}
	workerArgs = append(workerArgs, "--home", app.home.Path())

	stdout, err := os.Create(app.home.WorkerStdoutPath(jobID))
	if err != nil {
		return err
	}
	stderr, err := os.Create(app.home.WorkerStderrPath(jobID))
	if err != nil {
		stdout.Close()
		return err
	}

	worker := exec.Command(exe, workerArgs...)
	worker.Stdout = stdout
	worker.Stderr = stderr

	if err := worker.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start worker: %w", err)
	}
	pid := worker.Process.Pid
	// The parent's copies of the log handles and the process handle are no
	// longer needed; the worker owns its own.
	stdout.Close()
	stderr.Close()
	_ = worker.Process.Release()

	return app.store.AppendEvent(jobID, "worker_spawned", map[string]any{
		"pid":    pid,
		"binary": exe,
	})
}

// waitForProgress polls the job record for up to waitSeconds and returns the
// last snapshot. The job may still be running when this returns.
func waitForProgress(app *appContext, jobID string, waitSeconds int) *state.Job {
	job, err := app.store.Load(jobID)
	if err != nil {
		return &state.Job{ID: jobID}
	}
	if waitSeconds <= 0 {
		return job
	}

	interval := time.Duration(app.settings.SubmitPollIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for time.Now().Before(deadline) {
		time.Sleep(interval)
		next, err := app.store.Load(jobID)
		if err != nil {
			continue
		}
		job = next
		if job.Status.Terminal() || job.FinalReportReady {
			break
		}
	}
	return job
}
