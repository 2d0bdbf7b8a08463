package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wplaunch/internal/models"
	"wplaunch/internal/store"
)

var (
	domainPattern = regexp.MustCompile(`^(?i)(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

var logoExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true,
}

// NewJobRequest carries the fields of a deployment submission.
type NewJobRequest struct {
	Template string
	Domain   string
	Email    string
	Phone    string
	Address  string

	LogoName string
	Logo     io.Reader
}

// JobService owns job records and their logo assets.
type JobService struct {
	store      store.JobStore
	uploadsDir string
	running    func(id string) bool
	log        *zap.Logger
	now        func() time.Time
}

func NewJobService(st store.JobStore, uploadsDir string, running func(id string) bool, log *zap.Logger) *JobService {
	if running == nil {
		running = func(string) bool { return false }
	}
	return &JobService{
		store:      st,
		uploadsDir: uploadsDir,
		running:    running,
		log:        log.Named("jobs"),
		now:        time.Now,
	}
}

func validateJobRequest(req *NewJobRequest) error {
	req.Template = strings.TrimSpace(req.Template)
	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)

	verr := &ValidationError{}
	if req.Template == "" {
		verr.add("template", "is required")
	}
	switch {
	case req.Domain == "":
		verr.add("domain", "is required")
	case len(req.Domain) > 253 || !domainPattern.MatchString(req.Domain):
		verr.add("domain", "is not a valid domain name")
	}
	switch {
	case req.Email == "":
		verr.add("email", "is required")
	case !emailPattern.MatchString(req.Email):
		verr.add("email", "is not a valid email address")
	}
	if req.Logo != nil && !logoExts[strings.ToLower(filepath.Ext(req.LogoName))] {
		verr.add("logo", "must be a png, jpg, gif, svg or webp image")
	}
	return verr.orNil()
}

// Create validates req, stores the logo and records a job in the created state.
func (s *JobService) Create(ctx context.Context, req NewJobRequest) (*models.Job, error) {
	if err := validateJobRequest(&req); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Template:  req.Template,
		Domain:    req.Domain,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
		Status:    models.JobCreated,
		CreatedAt: s.now().UTC(),
	}

	if req.Logo != nil {
		ref, err := s.saveLogo(job.ID, req.LogoName, req.Logo)
		if err != nil {
			return nil, err
		}
		job.LogoRef = ref
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.removeLogo(job)
		return nil, err
	}
	s.log.Info("job created", zap.String("job_id", job.ID), zap.String("domain", job.Domain), zap.String("template", job.Template))
	return job, nil
}

func (s *JobService) saveLogo(jobID, name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", err
	}
	ref := jobID + "-logo" + strings.ToLower(filepath.Ext(name))
	f, err := os.Create(filepath.Join(s.uploadsDir, ref))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("save logo: %w", err)
	}
	return ref, f.Close()
}

func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *JobService) List(ctx context.Context) ([]models.JobSummary, error) {
	return s.store.ListJobs(ctx)
}

// Delete removes the job record and its logo. A logo that is already gone
// is not an error.
func (s *JobService) Delete(ctx context.Context, id string) error {
	if s.running(id) {
		return ErrJobBusy
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.removeLogo(job)
	s.log.Info("job deleted", zap.String("job_id", id))
	return nil
}

func (s *JobService) removeLogo(job *models.Job) {
	if job.LogoRef == "" {
		return
	}
	err := os.Remove(filepath.Join(s.uploadsDir, filepath.Base(job.LogoRef)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove logo", zap.String("job_id", job.ID), zap.Error(err))
	}
}
