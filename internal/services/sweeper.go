package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"wplaunch/internal/config"
	"wplaunch/internal/models"
	"wplaunch/internal/store"
)

const interruptedMessage = "deployment interrupted"

// SweepReport counts what one sweep cleaned up.
type SweepReport struct {
	StagingRemoved int
	JobsFailed     int
}

// Sweeper periodically removes abandoned staging directories and fails
// jobs left in uploading by a process that is gone.
type Sweeper struct {
	cron       *cron.Cron
	jobs       store.JobStore
	stagingDir string
	stagingTTL time.Duration
	stuckAfter time.Duration
	running    func(id string) bool
	log        *zap.Logger
	now        func() time.Time
}

func NewSweeper(cfg *config.Config, jobs store.JobStore, running func(id string) bool, log *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:       cron.New(),
		jobs:       jobs,
		stagingDir: cfg.StagingDir,
		stagingTTL: cfg.StagingTTL,
		stuckAfter: 2 * cfg.DeployTimeout,
		running:    running,
		log:        log.Named("sweeper"),
		now:        time.Now,
	}
}

func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("sweeper scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop stops the schedule and returns a context done when a running sweep ends.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	entries, err := os.ReadDir(s.stagingDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return report, err
	}
	for _, e := range entries {
		if !e.IsDir() || s.running(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < s.stagingTTL {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.stagingDir, e.Name())); err != nil {
			s.log.Warn("failed to remove staging dir", zap.String("job_id", e.Name()), zap.Error(err))
			continue
		}
		report.StagingRemoved++
	}

	stuck, err := s.jobs.ListJobsByStatus(ctx, models.JobUploading)
	if err != nil {
		return report, err
	}
	for i := range stuck {
		job := &stuck[i]
		if s.running(job.ID) || job.UploadStartedAt == nil || now.Sub(*job.UploadStartedAt) < s.stuckAfter {
			continue
		}
		job.Status = models.JobFailed
		job.Error = interruptedMessage
		job.Stamp(&job.FailedAt, now)
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			s.log.Warn("failed to mark job interrupted", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.log.Info("marked stuck job failed", zap.String("job_id", job.ID))
		report.JobsFailed++
	}

	if report.StagingRemoved > 0 || report.JobsFailed > 0 {
		s.log.Info("sweep finished", zap.Int("staging_removed", report.StagingRemoved), zap.Int("jobs_failed", report.JobsFailed))
	}
	return report, nil
}
