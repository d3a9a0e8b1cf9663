package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/versevid/versevid/internal/models"
)

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = errors.New("job not found")

// Store persists job records durably, keyed by job id. Writes happen inside
// the tracker's lock, so implementations do not need their own ordering.
type Store interface {
	Save(job *models.Job) error
	Load(jobID string) (*models.Job, error)
	LoadAll() ([]*models.Job, error)
}

// FileStore keeps one JSON file per job under a directory. It is the default
// store: no external services, survives process restarts.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create progress dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(jobID string) string {
	// Job ids are generated internally, but never trust them as path input.
	return filepath.Join(s.dir, filepath.Base(jobID)+".json")
}

func (s *FileStore) Save(job *models.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	if err := os.WriteFile(s.path(job.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}
	return nil
}

func (s *FileStore) Load(jobID string) (*models.Job, error) {
	data, err := os.ReadFile(s.path(jobID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *FileStore) LoadAll() ([]*models.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress dir: %w", err)
	}

	var jobs []*models.Job
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		job, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// A torn write should not hide every other job.
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
