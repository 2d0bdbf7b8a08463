package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"wplaunch/internal/config"
	"wplaunch/internal/installer"
	"wplaunch/internal/models"
	"wplaunch/internal/notify"
)

const (
	migrationPlugin = "all-in-one-wp-migration.zip"
	migrationExt    = "all-in-one-wp-migration-unlimited-extension.zip"
	adminUser       = "wpadmin"
)

// Artifact is one file of the remote file set.
type Artifact struct {
	Name       string
	LocalPath  string
	RemotePath string
}

// Manifest is the ordered file set for one job.
type Manifest struct {
	JobID     string
	Dir       string
	Token     string
	Artifacts []Artifact
}

// Stager prepares the files a job uploads. Cleanup removes whatever Stage
// left in the job's staging directory and is safe to call after a failed
// or partial Stage.
type Stager interface {
	Stage(ctx context.Context, job *models.Job, rep *notify.Reporter) (*Manifest, error)
	Cleanup(jobID string) error
}

// FileStager builds the file set under STAGING_DIR/<jobId>.
type FileStager struct {
	cfg        *config.Config
	templates  *TemplateRegistry
	downloader *Downloader
	renderer   *installer.Renderer
	log        *zap.Logger
}

func NewFileStager(cfg *config.Config, templates *TemplateRegistry, downloader *Downloader, renderer *installer.Renderer, log *zap.Logger) *FileStager {
	return &FileStager{
		cfg:        cfg,
		templates:  templates,
		downloader: downloader,
		renderer:   renderer,
		log:        log.Named("stager"),
	}
}

func (s *FileStager) dir(jobID string) string {
	return filepath.Join(s.cfg.StagingDir, jobID)
}

func (s *FileStager) remote(name string) string {
	return path.Join(s.cfg.RemoteRoot, name)
}

func (s *FileStager) Stage(ctx context.Context, job *models.Job, rep *notify.Reporter) (*Manifest, error) {
	dir := s.dir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	tpl, err := s.templates.Resolve(ctx, job.Template)
	if err != nil {
		return nil, err
	}

	token, err := installer.Token()
	if err != nil {
		return nil, err
	}
	m := &Manifest{JobID: job.ID, Dir: dir, Token: token}
	add := func(name, local string) {
		m.Artifacts = append(m.Artifacts, Artifact{Name: name, LocalPath: local, RemotePath: s.remote(name)})
	}

	rep.Info("Downloading WordPress core")
	core := filepath.Join(dir, "wordpress.zip")
	if _, err := s.downloader.Fetch(ctx, s.cfg.WordPressURL, core); err != nil {
		return nil, err
	}
	add("wordpress.zip", core)

	info := installer.JobInfo{
		Domain:       job.Domain,
		Email:        job.Email,
		DBName:       job.DBName,
		DBUser:       job.DBUser,
		DBPass:       job.DBPass,
		Template:     job.Template,
		Address:      job.Address,
		Phone:        job.Phone,
		Title:        installer.SiteTitle(job.Domain),
		TemplateKind: string(tpl.Kind),
		Plugins:      []string{migrationPlugin},
		AdminUser:    adminUser,
		Token:        token,
		Replacements: s.replacements(job),
	}

	switch tpl.Kind {
	case models.TemplateCustom:
		add("site.wpress", tpl.Path)
		info.Archive = "site.wpress"
	case models.TemplateTheme:
		rep.Info("Downloading theme " + tpl.Name)
		themeZip := filepath.Join(dir, "theme.zip")
		if _, err := s.downloader.Fetch(ctx, tpl.DownloadURL, themeZip); err != nil {
			return nil, err
		}
		add("theme.zip", themeZip)
		info.Theme = tpl.ID
	}

	plugin, err := s.migrationPlugin(ctx, rep)
	if err != nil {
		return nil, err
	}
	add(migrationPlugin, plugin)
	if tpl.Kind == models.TemplateCustom {
		add(migrationExt, filepath.Join(s.cfg.PluginsDir, migrationExt))
		info.Plugins = append(info.Plugins, migrationExt)
	}

	if job.LogoRef != "" {
		logo := "wplaunch-logo" + strings.ToLower(filepath.Ext(job.LogoRef))
		add(logo, filepath.Join(s.cfg.UploadsDir, job.LogoRef))
		info.Logo = logo
	}

	salts, err := installer.GenerateSalts()
	if err != nil {
		return nil, err
	}
	if err := s.render(dir, installer.ConfigFile, installer.ConfigData{
		DBName:      job.DBName,
		DBUser:      job.DBUser,
		DBPass:      job.DBPass,
		DBHost:      "localhost",
		TablePrefix: "wp_",
		Salts:       salts,
	}); err != nil {
		return nil, err
	}
	add(installer.ConfigFile, filepath.Join(dir, installer.ConfigFile))

	if err := s.render(dir, installer.InstallerFile, installer.InstallerData{Token: token}); err != nil {
		return nil, err
	}
	add(installer.InstallerFile, filepath.Join(dir, installer.InstallerFile))

	info.AdminPass, err = GeneratePassword(20)
	if err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(dir, installer.DescriptorFile), func(f *os.File) error {
		return installer.WriteJobInfo(f, info)
	}); err != nil {
		return nil, err
	}
	add(installer.DescriptorFile, filepath.Join(dir, installer.DescriptorFile))

	rep.Log(fmt.Sprintf("Staged %d files", len(m.Artifacts)))
	return m, nil
}

// migrationPlugin returns the cached migration plugin archive, downloading
// it on first use.
func (s *FileStager) migrationPlugin(ctx context.Context, rep *notify.Reporter) (string, error) {
	p := filepath.Join(s.cfg.PluginsDir, migrationPlugin)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if s.cfg.MigrationPluginURL == "" {
		return p, nil
	}
	rep.Info("Downloading the migration plugin")
	if _, err := s.downloader.Fetch(ctx, s.cfg.MigrationPluginURL, p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *FileStager) replacements(job *models.Job) []installer.Replacement {
	var out []installer.Replacement
	for _, r := range []installer.Replacement{
		{From: s.cfg.PlaceholderEmail, To: job.Email},
		{From: s.cfg.PlaceholderPhone, To: job.Phone},
		{From: s.cfg.PlaceholderAddress, To: job.Address},
	} {
		if r.From != "" && r.To != "" && r.From != r.To {
			out = append(out, r)
		}
	}
	return out
}

func (s *FileStager) render(dir, name string, data any) error {
	return writeFile(filepath.Join(dir, name), func(f *os.File) error {
		return s.renderer.Render(f, name, data)
	})
}

func (s *FileStager) Cleanup(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return os.RemoveAll(s.dir(jobID))
}

func writeFile(name string, fill func(*os.File) error) error {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(name), err)
	}
	return f.Close()
}
