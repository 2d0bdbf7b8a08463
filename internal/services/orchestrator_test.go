package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wplaunch/internal/config"
	"wplaunch/internal/models"
	"wplaunch/internal/notify"
	"wplaunch/internal/secrets"
	"wplaunch/internal/store"
)

type stubConnector struct {
	mu sync.Mutex

	validation *ValidationResult
	db         *DBResult
	dbErr      error
	ftpErr     error
	uploadErr  error

	started chan struct{}
	block   chan struct{}

	dbCalls int
	uploads []string
}

func (s *stubConnector) Validate(ctx context.Context, acct Account, rep *notify.Reporter) (*ValidationResult, error) {
	if err := acct.check(); err != nil {
		return nil, err
	}
	return s.validation, nil
}

func (s *stubConnector) ProvisionDatabase(ctx context.Context, acct Account, domain string, rep *notify.Reporter) (*DBResult, error) {
	s.mu.Lock()
	s.dbCalls++
	started, block := s.started, s.block
	s.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.db, s.dbErr
}

func (s *stubConnector) FTPCredentials(ctx context.Context, acct Account, rep *notify.Reporter) (*FTPAccount, error) {
	if s.ftpErr != nil {
		return nil, s.ftpErr
	}
	return &FTPAccount{Host: acct.hostname(), Port: 21, Username: acct.Username, Password: acct.Password}, nil
}

func (s *stubConnector) OpenTransfer(ctx context.Context, fa *FTPAccount) (Transfer, error) {
	return &stubTransfer{conn: s}, nil
}

func (s *stubConnector) uploaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

type stubTransfer struct{ conn *stubConnector }

func (t *stubTransfer) Upload(ctx context.Context, localPath, remotePath string) error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.uploadErr != nil {
		return t.conn.uploadErr
	}
	t.conn.uploads = append(t.conn.uploads, remotePath)
	return nil
}

func (t *stubTransfer) Close() error { return nil }

var stagedNames = []string{
	"wordpress.zip",
	"site.wpress",
	"all-in-one-wp-migration.zip",
	"wp-config.php",
	"wplaunch-install.php",
	"wplaunch-job.json",
}

type stubStager struct {
	mu      sync.Mutex
	dir     string
	missing string
	cleaned []string
}

func (s *stubStager) Stage(ctx context.Context, job *models.Job, rep *notify.Reporter) (*Manifest, error) {
	d := filepath.Join(s.dir, job.ID)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return nil, err
	}
	m := &Manifest{JobID: job.ID, Dir: d, Token: "tok"}
	for _, name := range stagedNames {
		p := filepath.Join(d, name)
		if name != s.missing {
			if err := os.WriteFile(p, []byte(name), 0o600); err != nil {
				return nil, err
			}
		}
		m.Artifacts = append(m.Artifacts, Artifact{Name: name, LocalPath: p, RemotePath: "public_html/" + name})
	}
	return m, nil
}

func (s *stubStager) Cleanup(jobID string) error {
	s.mu.Lock()
	s.cleaned = append(s.cleaned, jobID)
	s.mu.Unlock()
	return os.RemoveAll(filepath.Join(s.dir, jobID))
}

type fixture struct {
	cfg    *config.Config
	store  *store.FileStore
	conn   *stubConnector
	stager *stubStager
	creds  *CredentialService
	jobs   *JobService
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		DeployTimeout:     time.Minute,
		ValidationTimeout: time.Second,
		UploadsDir:        t.TempDir(),
		StagingDir:        t.TempDir(),
	}
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	conn := &stubConnector{
		validation: &ValidationResult{Valid: true, Message: "Credentials verified"},
		db:         &DBResult{DBName: "acme_wpabcde", DBUser: "acme_uabcde", DBPass: "Secret-Passw0rd!!"},
	}
	stager := &stubStager{dir: cfg.StagingDir}
	creds := NewCredentialService(st, conn, secrets.NewBox("test-key"), zap.NewNop())
	orch := NewOrchestrator(cfg, OrchestratorDeps{
		Jobs:      st,
		Creds:     creds,
		Connector: conn,
		Stager:    stager,
	}, zap.NewNop())
	jobs := NewJobService(st, cfg.UploadsDir, orch.IsRunning, zap.NewNop())

	return &fixture{cfg: cfg, store: st, conn: conn, stager: stager, creds: creds, jobs: jobs, orch: orch}
}

func (f *fixture) seed(t *testing.T) (jobID, credentialID string) {
	t.Helper()
	ctx := context.Background()
	job, err := f.jobs.Create(ctx, NewJobRequest{Template: "astra", Domain: "example.com", Email: "owner@example.com"})
	require.NoError(t, err)
	cred, report, err := f.creds.Save(ctx, CredentialInput{Host: "host.example.com", Username: "acme", Password: "hunter2"}, nil)
	require.NoError(t, err)
	require.True(t, report.Valid())
	return job.ID, cred.ID
}

func TestStartUploadUploadsEveryArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID, credID := f.seed(t)

	res, err := f.orch.StartUpload(ctx, jobID, credID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobUploaded, res.Status)
	assert.False(t, res.ManualDBSetup)
	assert.Contains(t, res.InstallURL, "https://example.com/wplaunch-install.php?token=tok")

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobUploaded, job.Status)
	assert.Equal(t, credID, job.CredentialID)
	assert.Equal(t, "acme_wpabcde", job.DBName)
	require.NotNil(t, job.UploadStartedAt)
	require.NotNil(t, job.UploadCompletedAt)
	assert.False(t, job.UploadCompletedAt.Before(*job.UploadStartedAt))
	assert.False(t, job.UploadStartedAt.Before(job.CreatedAt))
	assert.Empty(t, job.Error)

	expected := make([]string, 0, len(stagedNames))
	for _, n := range stagedNames {
		expected = append(expected, "public_html/"+n)
	}
	assert.Equal(t, expected, f.conn.uploaded())
	assert.Equal(t, []string{jobID}, f.stager.cleaned)
	assert.NoDirExists(t, filepath.Join(f.cfg.StagingDir, jobID))

	cred, err := f.store.GetCredential(ctx, credID)
	require.NoError(t, err)
	assert.NotNil(t, cred.LastUsed)
	assert.False(t, f.orch.IsRunning(jobID))
}

func TestManualDatabaseSetupThenResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID, credID := f.seed(t)

	f.conn.db = &DBResult{
		DBName: "acme_wpmanual",
		DBUser: "acme_umanual",
		DBPass: "Manual-Passw0rd!!",
		Manual: true,
		Instructions: &models.DBInstructions{
			HostURL: "https://host.example.com:2083",
			DBName:  "acme_wpmanual",
			DBUser:  "acme_umanual",
			DBPass:  "Manual-Passw0rd!!",
			Steps:   []string{"Create the database"},
		},
	}

	res, err := f.orch.StartUpload(ctx, jobID, credID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobWaitingForDB, res.Status)
	assert.True(t, res.ManualDBSetup)
	require.NotNil(t, res.DBInstructions)
	assert.NotEmpty(t, res.DBInstructions.Steps)
	assert.Empty(t, f.conn.uploaded())

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobWaitingForDB, job.Status)
	assert.True(t, job.ManualDBSetup)
	require.NotNil(t, job.DBInstructions)
	assert.Equal(t, "acme_wpmanual", job.DBInstructions.DBName)

	res, err = f.orch.Resume(ctx, jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobUploaded, res.Status)
	assert.Len(t, f.conn.uploaded(), len(stagedNames))
	assert.Equal(t, 1, f.conn.dbCalls)

	job, err = f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobUploaded, job.Status)
	assert.Equal(t, "acme_wpmanual", job.DBName)
}

func TestResumeRequiresWaitingForDB(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID, credID := f.seed(t)

	_, err := f.orch.Resume(ctx, jobID, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.orch.StartUpload(ctx, jobID, credID, nil)
	require.NoError(t, err)

	_, err = f.orch.Resume(ctx, jobID, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.orch.StartUpload(ctx, jobID, credID, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, f.conn.uploaded(), len(stagedNames))
}

func TestMissingArtifactFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID, credID := f.seed(t)
	f.stager.missing = "wp-config.php"

	res, err := f.orch.StartUpload(ctx, jobID, credID, nil)
	require.Error(t, err)
	var fnf *FileNotFoundError
	require.True(t, errors.As(err, &fnf))
	assert.Equal(t, "wp-config.php", fnf.Artifact)
	assert.Equal(t, models.JobFailed, res.Status)

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "wp-config.php")
	assert.NotNil(t, job.FailedAt)
	assert.Nil(t, job.UploadCompletedAt)

	// earlier files stay uploaded
	assert.Equal(t, []string{
		"public_html/wordpress.zip",
		"public_html/site.wpress",
		"public_html/all-in-one-wp-migration.zip",
	}, f.conn.uploaded())
	assert.Equal(t, []string{jobID}, f.stager.cleaned)

	cred, err := f.store.GetCredential(ctx, credID)
	require.NoError(t, err)
	assert.Nil(t, cred.LastUsed)
}

func TestConnectorFailureIsRecordedVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID, credID := f.seed(t)
	f.conn.uploadErr = errors.New("553 could not create file")

	_, err := f.orch.StartUpload(ctx, jobID, credID, nil)
	var cerr *ConnectorError
	require.True(t, errors.As(err, &cerr))

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "upload wordpress.zip: 553 could not create file", job.Error)
}

func TestStartUploadUnknownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobID, credID := f.seed(t)

	_, err := f.orch.StartUpload(ctx, "missing-job", credID, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.orch.StartUpload(ctx, jobID, "missing-credential", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCreated, job.Status)
}

func TestConcurrentRunIsRejectedAndCancelFailsJob(t *testing.T) {
	f := newFixture(t)
	jobID, credID := f.seed(t)
	f.conn.started = make(chan struct{})
	f.conn.block = make(chan struct{})

	type outcome struct {
		res *DeployResult
		err error
	}
	done := make(chan outcome, 1)
	reqCtx, cancelReq := context.WithCancel(context.Background())
	go func() {
		res, err := f.orch.StartUpload(reqCtx, jobID, credID, nil)
		done <- outcome{res, err}
	}()

	<-f.conn.started
	assert.True(t, f.orch.IsRunning(jobID))

	// a disconnecting caller does not stop the run
	cancelReq()

	_, err := f.orch.StartUpload(context.Background(), jobID, credID, nil)
	assert.ErrorIs(t, err, ErrJobBusy)
	assert.ErrorIs(t, f.jobs.Delete(context.Background(), jobID), ErrJobBusy)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobUploading, job.Status)

	require.True(t, f.orch.Cancel(jobID))

	select {
	case out := <-done:
		require.Error(t, out.err)
		assert.ErrorIs(t, out.err, errCancelled)
		assert.Equal(t, models.JobFailed, out.res.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestration did not stop after cancel")
	}

	job, err = f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "cancelled")
	assert.False(t, f.orch.IsRunning(jobID))
	assert.False(t, f.orch.Cancel(jobID))
}

func TestProgressReachesSubscribers(t *testing.T) {
	f := newFixture(t)
	jobID, credID := f.seed(t)

	hub := notify.NewHub(zap.NewNop())
	sub := &collectingSubscriber{}
	hub.Register(jobID, sub)
	rep := notify.NewReporter(hub, zap.NewNop(), jobID)

	_, err := f.orch.StartUpload(context.Background(), jobID, credID, rep)
	require.NoError(t, err)

	types := sub.types(t)
	require.NotEmpty(t, types)
	assert.Equal(t, notify.EventStart, types[0])
	assert.Equal(t, notify.EventComplete, types[len(types)-1])
}

type collectingSubscriber struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *collectingSubscriber) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), p...))
	return nil
}

func (c *collectingSubscriber) Close() {}

func (c *collectingSubscriber) types(t *testing.T) []notify.EventType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.EventType, 0, len(c.frames))
	for _, f := range c.frames {
		var ev notify.Event
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev.Type)
	}
	return out
}
