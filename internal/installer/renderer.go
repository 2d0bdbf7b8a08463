package installer

import (
	"crypto/rand"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"text/template"
)

// File names of the generated artifacts, relative to the remote root.
const (
	ConfigFile     = "wp-config.php"
	InstallerFile  = "wplaunch-install.php"
	DescriptorFile = "wplaunch-job.json"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer renders the PHP artifacts placed next to the site files.
type Renderer struct {
	templates map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	funcs := template.FuncMap{"php": phpString}
	r := &Renderer{templates: make(map[string]*template.Template)}
	for name, file := range map[string]string{
		ConfigFile:    "templates/wp-config.php.tmpl",
		InstallerFile: "templates/install.php.tmpl",
	} {
		t, err := template.New(strings.TrimPrefix(file, "templates/")).Funcs(funcs).ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

// Render renders the named artifact (ConfigFile or InstallerFile).
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	t, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("unknown artifact template %q", name)
	}
	return t.Execute(w, data)
}

// phpString escapes a value for a single-quoted PHP literal.
func phpString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

type ConfigData struct {
	DBName      string
	DBUser      string
	DBPass      string
	DBHost      string
	TablePrefix string
	Salts       []Salt
}

type Salt struct {
	Name  string
	Value string
}

var saltNames = []string{
	"AUTH_KEY", "SECURE_AUTH_KEY", "LOGGED_IN_KEY", "NONCE_KEY",
	"AUTH_SALT", "SECURE_AUTH_SALT", "LOGGED_IN_SALT", "NONCE_SALT",
}

// Quotes and backslashes are left out so salts never need escaping.
const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_ []{}<>~`+=,.;:/?|"

// GenerateSalts returns a fresh set of WordPress authentication keys.
func GenerateSalts() ([]Salt, error) {
	salts := make([]Salt, 0, len(saltNames))
	for _, name := range saltNames {
		v, err := randomString(saltAlphabet, 64)
		if err != nil {
			return nil, err
		}
		salts = append(salts, Salt{Name: name, Value: v})
	}
	return salts, nil
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

type InstallerData struct {
	Token string
}

type Replacement struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// JobInfo is the descriptor the installer reads on first run.
type JobInfo struct {
	Domain   string `json:"domain"`
	Email    string `json:"email"`
	DBName   string `json:"dbName"`
	DBUser   string `json:"dbUser"`
	DBPass   string `json:"dbPass"`
	Template string `json:"template"`
	Logo     string `json:"logo,omitempty"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Title    string `json:"title"`

	TemplateKind string        `json:"templateKind"`
	Archive      string        `json:"archive,omitempty"`
	Theme        string        `json:"theme,omitempty"`
	Plugins      []string      `json:"plugins"`
	AdminUser    string        `json:"adminUser"`
	AdminPass    string        `json:"adminPass"`
	Replacements []Replacement `json:"replacements,omitempty"`
	Token        string        `json:"token"`
}

func WriteJobInfo(w io.Writer, info JobInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// SiteTitle derives a readable title from the domain ("my-shop.co.uk" -> "My Shop").
func SiteTitle(domain string) string {
	label := strings.Split(strings.TrimPrefix(strings.ToLower(domain), "www."), ".")[0]
	words := strings.FieldsFunc(label, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Token returns a random installer token.
func Token() (string, error) {
	return randomString("abcdefghijklmnopqrstuvwxyz0123456789", 32)
}
