package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wplaunch/internal/config"
	"wplaunch/internal/models"
	"wplaunch/internal/store"
)

const templateExt = ".wpress"

var (
	templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	themeSlugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// fallbackThemes is served when the WordPress.org catalog cannot be reached.
var fallbackThemes = []struct{ slug, name string }{
	{"astra", "Astra"},
	{"kadence", "Kadence"},
	{"generatepress", "GeneratePress"},
	{"oceanwp", "OceanWP"},
	{"neve", "Neve"},
	{"twentytwentyfour", "Twenty Twenty-Four"},
}

// TemplateRegistry lists custom site archives stored locally and theme
// packages from the WordPress.org catalog.
type TemplateRegistry struct {
	dir         string
	apiURL      string
	downloadURL string
	ttl         time.Duration
	client      *http.Client
	log         *zap.Logger

	group    singleflight.Group
	mu       sync.Mutex
	catalog  []models.Template
	cachedAt time.Time
}

func NewTemplateRegistry(cfg *config.Config, log *zap.Logger) *TemplateRegistry {
	return &TemplateRegistry{
		dir:         cfg.TemplatesDir,
		apiURL:      cfg.ThemeAPIURL,
		downloadURL: cfg.ThemeDownloadURL,
		ttl:         cfg.CatalogTTL,
		client:      &http.Client{Timeout: cfg.ValidationTimeout},
		log:         log.Named("templates"),
	}
}

// List returns local archives first, then catalog themes.
func (r *TemplateRegistry) List(ctx context.Context) ([]models.Template, error) {
	local, err := r.local()
	if err != nil {
		return nil, err
	}
	return append(local, r.themes(ctx)...), nil
}

func (r *TemplateRegistry) local() ([]models.Template, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Template{}, nil
		}
		return nil, err
	}
	out := make([]models.Template, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), templateExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, r.customTemplate(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *TemplateRegistry) customTemplate(id string, info os.FileInfo) models.Template {
	mod := info.ModTime().UTC()
	return models.Template{
		ID:         id,
		Name:       strings.ReplaceAll(id, "-", " "),
		Kind:       models.TemplateCustom,
		Size:       info.Size(),
		Path:       filepath.Join(r.dir, info.Name()),
		UploadedAt: &mod,
	}
}

type themeQueryResponse struct {
	Themes []struct {
		Name          string `json:"name"`
		Slug          string `json:"slug"`
		PreviewURL    string `json:"preview_url"`
		ScreenshotURL string `json:"screenshot_url"`
	} `json:"themes"`
}

// themes returns the cached catalog, refreshing it at most once per TTL.
// Concurrent refreshes share one request.
func (r *TemplateRegistry) themes(ctx context.Context) []models.Template {
	r.mu.Lock()
	if r.catalog != nil && time.Since(r.cachedAt) < r.ttl {
		cached := r.catalog
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("catalog", func() (any, error) {
		themes, err := r.fetchCatalog(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.catalog, r.cachedAt = themes, time.Now()
		r.mu.Unlock()
		return themes, nil
	})
	if err != nil {
		r.log.Warn("theme catalog unavailable, using fallback list", zap.Error(err))
		return r.fallback()
	}
	return v.([]models.Template)
}

func (r *TemplateRegistry) fetchCatalog(ctx context.Context) ([]models.Template, error) {
	if r.apiURL == "" {
		return nil, errors.New("no theme catalog configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var body themeQueryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode theme catalog: %w", err)
	}
	out := make([]models.Template, 0, len(body.Themes))
	for _, t := range body.Themes {
		if !themeSlugPattern.MatchString(t.Slug) {
			continue
		}
		tpl := r.themeTemplate(t.Slug, t.Name)
		tpl.PreviewURL = t.PreviewURL
		tpl.ScreenshotURL = absoluteURL(t.ScreenshotURL)
		out = append(out, tpl)
	}
	return out, nil
}

func (r *TemplateRegistry) fallback() []models.Template {
	out := make([]models.Template, 0, len(fallbackThemes))
	for _, t := range fallbackThemes {
		out = append(out, r.themeTemplate(t.slug, t.name))
	}
	return out
}

func (r *TemplateRegistry) themeTemplate(slug, name string) models.Template {
	return models.Template{
		ID:          slug,
		Name:        name,
		Kind:        models.TemplateTheme,
		DownloadURL: fmt.Sprintf(r.downloadURL, slug),
	}
}

func absoluteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// Resolve maps a template id to a local archive or, failing that, to a
// catalog theme slug whose package is downloaded on demand.
func (r *TemplateRegistry) Resolve(ctx context.Context, id string) (*models.Template, error) {
	if templateIDPattern.MatchString(id) {
		info, err := os.Stat(filepath.Join(r.dir, id+templateExt))
		if err == nil {
			tpl := r.customTemplate(id, info)
			return &tpl, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if themeSlugPattern.MatchString(id) {
		for _, t := range r.themes(ctx) {
			if t.ID == id {
				return &t, nil
			}
		}
		tpl := r.themeTemplate(id, id)
		return &tpl, nil
	}
	return nil, fmt.Errorf("template %q: %w", id, store.ErrNotFound)
}

// Save stores an uploaded site archive. Only .wpress files are accepted.
func (r *TemplateRegistry) Save(filename string, src io.Reader) (*models.Template, error) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	if !strings.EqualFold(ext, templateExt) {
		return nil, &ValidationError{Fields: map[string]string{"template": "only " + templateExt + " archives are accepted"}}
	}
	id := sanitizeTemplateID(strings.TrimSuffix(base, ext))
	if id == "" {
		return nil, &ValidationError{Fields: map[string]string{"template": "file name has no usable characters"}}
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(r.dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("save template: %w", err)
	}
	dest := filepath.Join(r.dir, id+templateExt)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}
	tpl := r.customTemplate(id, info)
	r.log.Info("template stored", zap.String("template", id), zap.Int64("size", info.Size()))
	return &tpl, nil
}

func (r *TemplateRegistry) Delete(id string) error {
	if !templateIDPattern.MatchString(id) {
		return store.ErrNotFound
	}
	err := os.Remove(filepath.Join(r.dir, id+templateExt))
	if errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	}
	return err
}

func sanitizeTemplateID(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.TrimSpace(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
		if b.Len() >= 100 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
