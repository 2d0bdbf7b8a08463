package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"wplaunch/internal/config"
	"wplaunch/internal/installer"
	"wplaunch/internal/metrics"
	"wplaunch/internal/models"
	"wplaunch/internal/notify"
	"wplaunch/internal/store"
)

var errCancelled = errors.New("deployment cancelled")

// DeployResult is what StartUpload and Resume hand back to the caller.
type DeployResult struct {
	Job            *models.Job            `json:"job"`
	Status         models.JobStatus       `json:"status"`
	ManualDBSetup  bool                   `json:"manualDbSetup"`
	DBInstructions *models.DBInstructions `json:"dbInstructions,omitempty"`
	InstallURL     string                 `json:"installUrl,omitempty"`
}

// Orchestrator drives a job from created to uploaded or failed.
type Orchestrator struct {
	cfg       *config.Config
	jobs      store.JobStore
	creds     *CredentialService
	connector HostingConnector
	stager    Stager
	domains   *DomainService
	trigger   *Downloader
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	locks   *jobLocks
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

type OrchestratorDeps struct {
	Jobs      store.JobStore
	Creds     *CredentialService
	Connector HostingConnector
	Stager    Stager
	Domains   *DomainService
	Trigger   *Downloader
	Metrics   *metrics.Metrics
}

func NewOrchestrator(cfg *config.Config, deps OrchestratorDeps, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		jobs:      deps.Jobs,
		creds:     deps.Creds,
		connector: deps.Connector,
		stager:    deps.Stager,
		domains:   deps.Domains,
		trigger:   deps.Trigger,
		metrics:   deps.Metrics,
		log:       log.Named("orchestrator"),
		now:       time.Now,
		locks:     newJobLocks(),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StartUpload provisions the database and uploads the site for a job in
// the created state. On failure the job is left failed and both the result
// and the error are returned.
func (o *Orchestrator) StartUpload(ctx context.Context, jobID, credentialID string, rep *notify.Reporter) (*DeployResult, error) {
	if !o.locks.TryLock(jobID) {
		return nil, ErrJobBusy
	}
	defer o.locks.Unlock(jobID)

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job.Status != models.JobCreated {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidState, jobID, job.Status)
	}
	cred, err := o.creds.Get(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	runCtx, done := o.detach(ctx, jobID)
	defer done()

	job.CredentialID = cred.ID
	job.Stamp(&job.UploadStartedAt, o.now())
	if err := o.transition(runCtx, job, models.JobUploading); err != nil {
		return nil, err
	}

	rep.Start("Starting deployment of " + job.Domain)
	return o.run(runCtx, job, cred, true, rep)
}

// Resume continues a job paused for manual database setup, using the
// database credentials stored on the job.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, rep *notify.Reporter) (*DeployResult, error) {
	if !o.locks.TryLock(jobID) {
		return nil, ErrJobBusy
	}
	defer o.locks.Unlock(jobID)

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job.Status != models.JobWaitingForDB {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidState, jobID, job.Status)
	}
	cred, err := o.creds.Get(ctx, job.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	runCtx, done := o.detach(ctx, jobID)
	defer done()

	rep.Start("Resuming deployment of " + job.Domain)
	return o.run(runCtx, job, cred, false, rep)
}

// Cancel stops a running orchestration at its next checkpoint.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) IsRunning(jobID string) bool {
	return o.locks.Held(jobID)
}

// detach derives the run context from ctx without its cancellation, bounded
// by the deployment timeout and cancellable through Cancel.
func (o *Orchestrator) detach(ctx context.Context, jobID string) (context.Context, func()) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DeployTimeout)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	return runCtx, func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, job *models.Job, cred *models.Credential, provision bool, rep *notify.Reporter) (res *DeployResult, err error) {
	started := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("orchestration panicked", zap.String("job_id", job.ID), zap.Any("panic", r), zap.Stack("stack"))
			res, err = o.fail(ctx, job, fmt.Errorf("internal error: %v", r), rep)
		}
		o.metrics.Deployment(string(job.Status), o.now().Sub(started))
		rep.Complete(res)
	}()

	acct := AccountFromCredential(cred)
	o.domains.Preflight(ctx, job.Domain, rep)

	if provision {
		if err := checkpoint(ctx, o.cfg.DeployTimeout); err != nil {
			return o.fail(ctx, job, err, rep)
		}
		rep.Info("Provisioning database")
		db, err := o.connector.ProvisionDatabase(ctx, acct, job.Domain, rep)
		if err != nil {
			return o.fail(ctx, job, err, rep)
		}
		job.DBName, job.DBUser, job.DBPass = db.DBName, db.DBUser, db.DBPass
		if db.Manual {
			job.ManualDBSetup = true
			job.DBInstructions = db.Instructions
			if err := o.transition(ctx, job, models.JobWaitingForDB); err != nil {
				return o.fail(ctx, job, err, rep)
			}
			rep.Info("Waiting for manual database setup, resume the deployment once it is done")
			return o.result(job, ""), nil
		}
		job.ManualDBSetup = false
		job.DBInstructions = nil
		if err := o.jobs.UpdateJob(ctx, job); err != nil {
			return o.fail(ctx, job, err, rep)
		}
		rep.Success("Database " + job.DBName + " ready")
	}

	installURL, err := o.deliver(ctx, job, acct, rep)
	if err != nil {
		return o.fail(ctx, job, err, rep)
	}

	job.Stamp(&job.UploadCompletedAt, o.now())
	if err := o.transition(ctx, job, models.JobUploaded); err != nil {
		return o.fail(ctx, job, err, rep)
	}
	if err := o.creds.Touch(ctx, cred.ID); err != nil {
		o.log.Warn("failed to update credential last use", zap.String("credential_id", cred.ID), zap.Error(err))
	}
	rep.Success("All files uploaded to " + job.Domain)

	if o.cfg.AutoTriggerInstall {
		o.triggerInstall(ctx, installURL, rep)
	}
	return o.result(job, installURL), nil
}

// deliver stages the file set and uploads it. Files already transferred
// are left in place when a later one fails.
func (o *Orchestrator) deliver(ctx context.Context, job *models.Job, acct Account, rep *notify.Reporter) (string, error) {
	if err := checkpoint(ctx, o.cfg.DeployTimeout); err != nil {
		return "", err
	}
	rep.Info("Resolving FTP credentials")
	fa, err := o.connector.FTPCredentials(ctx, acct, rep)
	if err != nil {
		return "", err
	}

	defer func() {
		if err := o.stager.Cleanup(job.ID); err != nil {
			o.log.Warn("failed to clean staging dir", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()
	if err := checkpoint(ctx, o.cfg.DeployTimeout); err != nil {
		return "", err
	}
	rep.Info("Preparing site files")
	manifest, err := o.stager.Stage(ctx, job, rep)
	if err != nil {
		return "", err
	}

	if err := checkpoint(ctx, o.cfg.DeployTimeout); err != nil {
		return "", err
	}
	rep.Info("Connecting to " + fa.Addr())
	tr, err := o.connector.OpenTransfer(ctx, fa)
	if err != nil {
		return "", err
	}
	defer tr.Close()

	total := len(manifest.Artifacts)
	for i, a := range manifest.Artifacts {
		if err := checkpoint(ctx, o.cfg.DeployTimeout); err != nil {
			return "", err
		}
		if _, err := os.Stat(a.LocalPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", &FileNotFoundError{Artifact: a.Name, Path: a.LocalPath}
			}
			return "", err
		}
		rep.Log(fmt.Sprintf("Uploading %s (%d/%d)", a.Name, i+1, total))
		if err := tr.Upload(ctx, a.LocalPath, a.RemotePath); err != nil {
			if cerr := checkpoint(ctx, o.cfg.DeployTimeout); cerr != nil {
				return "", cerr
			}
			return "", &ConnectorError{Op: "upload " + a.Name, Err: err}
		}
	}

	return fmt.Sprintf("https://%s/%s?token=%s", job.Domain, installer.InstallerFile, manifest.Token), nil
}

func (o *Orchestrator) triggerInstall(ctx context.Context, url string, rep *notify.Reporter) {
	if o.trigger == nil {
		return
	}
	rep.Info("Starting the remote installer")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	status, err := o.trigger.Get(ctx, url)
	switch {
	case err != nil:
		rep.Info("Could not reach the installer, open the install URL manually: " + err.Error())
	case status != 200:
		rep.Info(fmt.Sprintf("Installer answered with status %d, open the install URL manually", status))
	default:
		rep.Success("Remote installer finished")
	}
}

// transition moves job to next and persists it.
func (o *Orchestrator) transition(ctx context.Context, job *models.Job, next models.JobStatus) error {
	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, job.Status, next)
	}
	prev := job.Status
	job.Status = next
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		job.Status = prev
		return fmt.Errorf("persist job: %w", err)
	}
	o.log.Info("job status changed", zap.String("job_id", job.ID), zap.String("from", string(prev)), zap.String("to", string(next)))
	return nil
}

// fail records cause on the job verbatim. It persists through a context
// that survives cancellation of the run.
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, cause error, rep *notify.Reporter) (*DeployResult, error) {
	if cerr := checkpoint(ctx, o.cfg.DeployTimeout); cerr != nil && cerr.Error() != cause.Error() {
		cause = fmt.Errorf("%w (%v)", cerr, cause)
	}
	rep.Error("Deployment failed: " + cause.Error())

	if !job.Status.CanTransitionTo(models.JobFailed) {
		return o.result(job, ""), cause
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	job.Error = cause.Error()
	job.Stamp(&job.FailedAt, o.now())
	if err := o.transition(persistCtx, job, models.JobFailed); err != nil {
		o.log.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	return o.result(job, ""), cause
}

func (o *Orchestrator) result(job *models.Job, installURL string) *DeployResult {
	return &DeployResult{
		Job:            job,
		Status:         job.Status,
		ManualDBSetup:  job.ManualDBSetup,
		DBInstructions: job.DBInstructions,
		InstallURL:     installURL,
	}
}

func checkpoint(ctx context.Context, timeout time.Duration) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return fmt.Errorf("deployment timed out after %s", timeout)
	default:
		return errCancelled
	}
}
