package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the referee home directory.
	DefaultDirName = ".referee"

	// JobsDirName is the subdirectory holding one directory per job.
	JobsDirName = "jobs"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Artifact file names within a job directory. The layout is a stable
// external contract consumed by the CLI and by recovery.
const (
	StateFileName       = "job.json"
	EventsFileName      = "events.jsonl"
	SourcePDFName       = "source.pdf"
	MarkdownFileName    = "mineru_full.md"
	ContentListFileName = "mineru_content_list.json"
	AnnotationsFileName = "annotations.json"
	FinalReportMDName   = "final_report.md"
	FinalReportPDFName  = "final_report.pdf"
	PromptFileName      = "agent_prompt.txt"
	RawResultFileName   = "mineru_result_raw.json"
	WorkerStdoutName    = "worker.stdout.log"
	WorkerStderrName    = "worker.stderr.log"
)

// Dir represents the referee home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.referee).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// JobsPath returns the path to the jobs directory.
func (d *Dir) JobsPath() string {
	return filepath.Join(d.path, JobsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.JobsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// JobDir returns the directory for a specific job.
func (d *Dir) JobDir(jobID string) string {
	return filepath.Join(d.JobsPath(), jobID)
}

// EnsureJobDir creates the directory for a job.
func (d *Dir) EnsureJobDir(jobID string) error {
	return os.MkdirAll(d.JobDir(jobID), 0o755)
}

// StatePath returns the canonical state file for a job.
func (d *Dir) StatePath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), StateFileName)
}

// EventsPath returns the append-only event log for a job.
func (d *Dir) EventsPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), EventsFileName)
}

// SourcePDFPath returns the submitted PDF copy inside the job directory.
func (d *Dir) SourcePDFPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), SourcePDFName)
}

// MarkdownPath returns the parsed markdown artifact for a job.
func (d *Dir) MarkdownPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), MarkdownFileName)
}

// ContentListPath returns the parsed content list artifact for a job.
func (d *Dir) ContentListPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), ContentListFileName)
}

// AnnotationsPath returns the annotations artifact for a job.
func (d *Dir) AnnotationsPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), AnnotationsFileName)
}

// FinalReportMDPath returns the committed final markdown for a job.
func (d *Dir) FinalReportMDPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), FinalReportMDName)
}

// FinalReportPDFPath returns the exported report PDF for a job.
func (d *Dir) FinalReportPDFPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), FinalReportPDFName)
}

// PromptPath returns the agent prompt snapshot for a job.
func (d *Dir) PromptPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), PromptFileName)
}

// RawResultPath returns the raw upstream parse payload for a job.
func (d *Dir) RawResultPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), RawResultFileName)
}

// WorkerStdoutPath returns the worker stdout capture for a job.
func (d *Dir) WorkerStdoutPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), WorkerStdoutName)
}

// WorkerStderrPath returns the worker stderr capture for a job.
func (d *Dir) WorkerStderrPath(jobID string) string {
	return filepath.Join(d.JobDir(jobID), WorkerStderrName)
}

// AgentOutputPath returns the snapshot file for non-empty agent text output.
// tag is empty for the canonical snapshot or a suffix like "attempt_2".
func (d *Dir) AgentOutputPath(jobID string, tag string) string {
	name := "agent_final_output.txt"
	if tag != "" {
		name = fmt.Sprintf("agent_final_output_%s.txt", tag)
	}
	return filepath.Join(d.JobDir(jobID), name)
}
