package state

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refereehq/referee/internal/home"
	"github.com/refereehq/referee/internal/store"
)

// ErrJobNotFound is returned when a job id has no directory or state file.
var ErrJobNotFound = errors.New("job_not_found")

// Store persists job records under the home directory. Mutations within one
// process are serialized per store; each job directory has a single writer.
type Store struct {
	home *home.Dir
	mu   sync.Mutex
}

// NewStore creates a Store rooted at the given home directory.
func NewStore(h *home.Dir) *Store {
	return &Store{home: h}
}

// Home exposes the underlying directory layout.
func (s *Store) Home() *home.Dir {
	return s.home
}

// Create registers a new job: generates an id, copies the source PDF into the
// job directory, writes the initial record, and appends the created event.
func (s *Store) Create(title, sourcePath string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.home.EnsureJobDir(id); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:            id,
		Status:        StatusQueued,
		Title:         title,
		SourcePDFName: filepath.Base(sourcePath),
		Message:       "queued",
		CreatedAt:     now,
		UpdatedAt:     now,
		Artifacts:     map[string]string{},
		Metadata:      map[string]any{},
		Usage:         UsageSnapshot{Tools: ToolUsage{PerTool: map[string]int{}}},
	}

	dest := s.home.SourcePDFPath(id)
	if err := copyFile(sourcePath, dest); err != nil {
		return nil, fmt.Errorf("failed to copy source pdf: %w", err)
	}
	// Path is recorded only once the copy exists on disk.
	job.Artifacts[ArtifactSourcePDF] = dest

	if err := s.save(job); err != nil {
		return nil, err
	}
	if err := s.appendEvent(id, "created", map[string]any{
		"title":      title,
		"source_pdf": sourcePath,
	}); err != nil {
		return nil, err
	}
	return job, nil
}

// Load reads the job record for id.
func (s *Store) Load(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *Store) load(id string) (*Job, error) {
	var job Job
	if err := store.ReadJSON(s.home.StatePath(id), &job); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// Save rewrites the job record in full.
func (s *Store) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(job)
}

func (s *Store) save(job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	return store.WriteJSONAtomic(s.home.StatePath(job.ID), job)
}

// Mutate loads the job, applies fn, and persists the result.
func (s *Store) Mutate(id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := s.save(job); err != nil {
		return nil, err
	}
	return job, nil
}

// SetStatus advances the job status and records the transition event.
// The event is durable before the call returns.
func (s *Store) SetStatus(id string, status Status, message string) (*Job, error) {
	job, err := s.Mutate(id, func(j *Job) error {
		j.Status = status
		if message != "" {
			j.Message = message
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.AppendEvent(id, "status", map[string]any{
		"status":  string(status),
		"message": message,
	}); err != nil {
		return nil, err
	}
	return job, nil
}

// Fail marks the job failed with a single-line error detail.
func (s *Store) Fail(id string, cause error) (*Job, error) {
	detail := "error"
	if cause != nil {
		detail = fmt.Sprintf("%T: %v", cause, cause)
	}
	job, err := s.Mutate(id, func(j *Job) error {
		j.Status = StatusFailed
		j.Error = detail
		j.Message = "job failed"
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.AppendEvent(id, "job_failed", map[string]any{"error": detail}); err != nil {
		return nil, err
	}
	return job, nil
}

// SetArtifact records an artifact path on the job. The file must already
// exist on disk.
func (s *Store) SetArtifact(id, role, path string) (*Job, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact %s not on disk: %w", role, err)
	}
	return s.Mutate(id, func(j *Job) error {
		if j.Artifacts == nil {
			j.Artifacts = map[string]string{}
		}
		j.Artifacts[role] = path
		return nil
	})
}

// AppendEvent appends one record to the job's event log.
func (s *Store) AppendEvent(id, name string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEvent(id, name, fields)
}

func (s *Store) appendEvent(id, name string, fields map[string]any) error {
	return store.AppendEvent(s.home.EventsPath(id), name, fields)
}

// Events loads the full event log for a job.
func (s *Store) Events(id string) ([]store.Event, error) {
	return store.ReadEvents(s.home.EventsPath(id))
}

// SaveAnnotations writes the annotations artifact and returns its path.
func (s *Store) SaveAnnotations(id string, annotations []Annotation) (string, error) {
	path := s.home.AnnotationsPath(id)
	payload := AnnotationsFile{Annotations: annotations, Count: len(annotations)}
	if err := store.WriteJSONAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFinalMarkdown atomically writes the final report artifact.
func (s *Store) WriteFinalMarkdown(id, markdown string) error {
	return store.WriteTextAtomic(s.home.FinalReportMDPath(id), markdown)
}

// LoadAnnotations reads the annotations artifact. A missing file yields an
// empty list.
func (s *Store) LoadAnnotations(id string) ([]Annotation, error) {
	var payload AnnotationsFile
	if err := store.ReadJSON(s.home.AnnotationsPath(id), &payload); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return payload.Annotations, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
