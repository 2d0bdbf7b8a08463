package store

import (
	"context"
	"errors"
	"time"

	"wplaunch/internal/models"
)

// ErrNotFound indicates the record does not exist.
var ErrNotFound = errors.New("store: not found")

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context) ([]models.JobSummary, error)
	// ListJobsByStatus returns full records; internal use only.
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
}

type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	ListCredentials(ctx context.Context) ([]models.CredentialSummary, error)
	TouchCredential(ctx context.Context, id string, lastUsed time.Time) error
	DeleteCredential(ctx context.Context, id string) error
}

// Store bundles both record kinds behind one driver.
type Store interface {
	JobStore
	CredentialStore
	Close() error
}
