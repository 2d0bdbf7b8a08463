package models

import "time"

type JobStatus string

const (
	JobCreated      JobStatus = "created"
	JobUploading    JobStatus = "uploading"
	JobWaitingForDB JobStatus = "waiting-for-db"
	JobUploaded     JobStatus = "uploaded"
	JobFailed       JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobUploaded || s == JobFailed
}

// CanTransitionTo encodes the job lifecycle:
// created -> uploading -> {uploaded | waiting-for-db -> uploaded}, and failed
// from any non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobFailed {
		return true
	}
	switch s {
	case JobCreated:
		return next == JobUploading
	case JobUploading:
		return next == JobWaitingForDB || next == JobUploaded
	case JobWaitingForDB:
		return next == JobUploaded
	}
	return false
}

type DBInstructions struct {
	HostURL string   `json:"hostUrl"`
	DBName  string   `json:"dbName"`
	DBUser  string   `json:"dbUser"`
	DBPass  string   `json:"dbPass"`
	Reason  string   `json:"reason,omitempty"`
	Steps   []string `json:"steps"`
}

type Job struct {
	ID       string    `gorm:"primaryKey" json:"id"`
	Template string    `gorm:"not null" json:"template"`
	Domain   string    `gorm:"not null;index" json:"domain"`
	Email    string    `gorm:"not null" json:"email"`
	Phone    string    `json:"phone"`
	Address  string    `json:"address"`
	LogoRef  string    `json:"logoRef,omitempty"`
	Status   JobStatus `gorm:"not null;index" json:"status"`

	CredentialID string `json:"credentialId,omitempty"`

	DBName         string          `json:"dbName,omitempty"`
	DBUser         string          `json:"dbUser,omitempty"`
	DBPass         string          `json:"dbPass,omitempty"`
	ManualDBSetup  bool            `json:"manualDbSetup"`
	DBInstructions *DBInstructions `gorm:"serializer:json;type:text" json:"dbInstructions,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt         time.Time  `json:"createdAt"`
	UploadStartedAt   *time.Time `json:"uploadStartedAt,omitempty"`
	UploadCompletedAt *time.Time `json:"uploadCompletedAt,omitempty"`
	FailedAt          *time.Time `json:"failedAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// JobSummary is the listing projection; it never carries DB secrets.
type JobSummary struct {
	ID            string    `json:"id"`
	Template      string    `json:"template"`
	Domain        string    `json:"domain"`
	Email         string    `json:"email"`
	Status        JobStatus `json:"status"`
	ManualDBSetup bool      `json:"manualDbSetup"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:            j.ID,
		Template:      j.Template,
		Domain:        j.Domain,
		Email:         j.Email,
		Status:        j.Status,
		ManualDBSetup: j.ManualDBSetup,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// Stamp sets *field to now unless it is already set. Timestamps never move
// backwards relative to CreatedAt or any lifecycle timestamp already set.
func (j *Job) Stamp(field **time.Time, now time.Time) {
	if *field != nil {
		return
	}
	if floor := j.latestStamp(); now.Before(floor) {
		now = floor
	}
	t := now.UTC()
	*field = &t
}

func (j *Job) latestStamp() time.Time {
	latest := j.CreatedAt
	for _, ts := range []*time.Time{j.UploadStartedAt, j.UploadCompletedAt, j.FailedAt} {
		if ts != nil && ts.After(latest) {
			latest = *ts
		}
	}
	return latest
}
