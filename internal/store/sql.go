package store

import (
	"context"
	"errors"
	"time"

	"wplaunch/internal/models"

	"gorm.io/gorm"
)

// SQLStore persists records through gorm (sqlite driver).
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) CreateJob(ctx context.Context, job *models.Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&jobs).Error; err != nil {
		return nil, err
	}
	out := make([]models.JobSummary, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobs[i].Summary())
	}
	return out, nil
}

func (s *SQLStore) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at desc").Find(&jobs).Error
	return jobs, err
}

func (s *SQLStore) UpdateJob(ctx context.Context, job *models.Job) error {
	// Save would insert a missing row; a full rewrite must target an existing one.
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Job{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateCredential(ctx context.Context, cred *models.Credential) error {
	return s.db.WithContext(ctx).Create(cred).Error
}

func (s *SQLStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.WithContext(ctx).First(&cred, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

func (s *SQLStore) ListCredentials(ctx context.Context) ([]models.CredentialSummary, error) {
	var creds []models.Credential
	if err := s.db.WithContext(ctx).Order("name asc").Find(&creds).Error; err != nil {
		return nil, err
	}
	out := make([]models.CredentialSummary, 0, len(creds))
	for i := range creds {
		out = append(out, creds[i].Summary())
	}
	return out, nil
}

func (s *SQLStore) TouchCredential(ctx context.Context, id string, lastUsed time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Credential{}).Where("id = ?", id).Update("last_used", lastUsed.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteCredential(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Credential{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
