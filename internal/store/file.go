package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"wplaunch/internal/models"
)

var recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileStore keeps one JSON file per record, named by id:
//
//	<base>/jobs/<id>.json
//	<base>/credentials/<id>.json
type FileStore struct {
	base string
	mu   sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	for _, dir := range []string{"jobs", "credentials"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s store directory: %w", dir, err)
		}
	}
	return &FileStore{base: baseDir}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(kind, id string) (string, error) {
	if !recordIDPattern.MatchString(id) {
		return "", ErrNotFound
	}
	return filepath.Join(s.base, kind, id+".json"), nil
}

func (s *FileStore) write(kind, id string, v any, mustExist bool) error {
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+id+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *FileStore) read(kind, id string, v any) error {
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt %s record %s: %w", kind, id, err)
	}
	return nil
}

func (s *FileStore) remove(kind, id string) error {
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *FileStore) ids(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.base, kind))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *FileStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write("jobs", job.ID, job, false)
}

func (s *FileStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var job models.Job
	if err := s.read("jobs", id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *FileStore) allJobs() ([]models.Job, error) {
	ids, err := s.ids("jobs")
	if err != nil {
		return nil, err
	}
	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		var job models.Job
		if err := s.read("jobs", id, &job); err != nil {
			// deleted between ReadDir and read
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *FileStore) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs, err := s.allJobs()
	if err != nil {
		return nil, err
	}
	out := make([]models.JobSummary, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobs[i].Summary())
	}
	return out, nil
}

func (s *FileStore) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs, err := s.allJobs()
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, job := range jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *FileStore) UpdateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.UpdatedAt = time.Now().UTC()
	return s.write("jobs", job.ID, job, true)
}

func (s *FileStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove("jobs", id)
}

func (s *FileStore) CreateCredential(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write("credentials", cred.ID, cred, false)
}

func (s *FileStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cred models.Credential
	if err := s.read("credentials", id, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *FileStore) ListCredentials(ctx context.Context) ([]models.CredentialSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.ids("credentials")
	if err != nil {
		return nil, err
	}
	out := make([]models.CredentialSummary, 0, len(ids))
	for _, id := range ids {
		var cred models.Credential
		if err := s.read("credentials", id, &cred); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, cred.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) TouchCredential(ctx context.Context, id string, lastUsed time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cred models.Credential
	if err := s.read("credentials", id, &cred); err != nil {
		return err
	}
	t := lastUsed.UTC()
	cred.LastUsed = &t
	return s.write("credentials", id, &cred, true)
}

func (s *FileStore) DeleteCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove("credentials", id)
}
