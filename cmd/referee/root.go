package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refereehq/referee/internal/config"
	"github.com/refereehq/referee/internal/home"
	"github.com/refereehq/referee/internal/state"
	"github.com/refereehq/referee/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "referee",
	Short: "AI-assisted peer review for academic papers",
	Long: `Referee runs an LLM review agent over a submitted paper PDF.

A submission is parsed to markdown, read and annotated by the agent, cross
checked against the literature, and delivered as a structured review report
in markdown and PDF. Jobs run detached; submit returns immediately and
status/watch/result follow the job on disk.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.referee/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "referee home directory (default: ~/.referee)",
	)

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(runJobCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitError carries an explicit process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageErrorf reports a bad argument or flag combination (exit code 2).
func usageErrorf(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

// appContext bundles the per-invocation dependencies.
type appContext struct {
	home     *home.Dir
	store    *state.Store
	settings *config.Settings
}

// setup loads settings and opens the home directory and job store.
func setup() (*appContext, error) {
	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	settings := manager.Get()

	path := homeDir
	if path == "" {
		path = settings.DataDir
	}
	h, err := home.New(path)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	return &appContext{
		home:     h,
		store:    state.NewStore(h),
		settings: settings,
	}, nil
}

// loadJob fetches a job record, mapping a missing id to exit code 2.
func (app *appContext) loadJob(jobID string) (*state.Job, error) {
	job, err := app.store.Load(jobID)
	if errors.Is(err, state.ErrJobNotFound) {
		return nil, &exitError{code: 2, err: err}
	}
	return job, err
}

// printJSON writes v to stdout as indented UTF-8 JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
