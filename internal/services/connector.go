package services

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"

	"wplaunch/internal/models"
	"wplaunch/internal/notify"
)

const defaultCPanelPort = 2083

// Account is the hosting login a connector works against.
type Account struct {
	Host     string
	Username string
	Password string
	Port     int
}

// AccountFromCredential builds an Account from a stored credential.
func AccountFromCredential(c *models.Credential) Account {
	return Account{Host: c.Host, Username: c.Username, Password: c.Password, Port: c.Port}
}

func (a Account) check() error {
	verr := &ValidationError{}
	if strings.TrimSpace(a.Host) == "" {
		verr.add("host", "is required")
	}
	if strings.TrimSpace(a.Username) == "" {
		verr.add("username", "is required")
	}
	if a.Password == "" {
		verr.add("password", "is required")
	}
	if a.Port < 0 || a.Port > 65535 {
		verr.add("port", "must be between 1 and 65535")
	}
	return verr.orNil()
}

// hostname strips any scheme, path or port the operator pasted in.
func (a Account) hostname() string {
	h := strings.TrimSpace(a.Host)
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil && u.Host != "" {
			h = u.Host
		}
	}
	h = strings.TrimRight(strings.SplitN(h, "/", 2)[0], ".")
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.ToLower(h)
}

func (a Account) port() int {
	if a.Port == 0 {
		return defaultCPanelPort
	}
	return a.Port
}

// ValidationResult is the outcome of probing a hosting control panel.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Restricted bool   `json:"restricted,omitempty"`
	Profile    string `json:"profile,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Message    string `json:"message"`
	LastError  string `json:"lastError,omitempty"`
	Hint       string `json:"hint,omitempty"`

	// headers of the profile that succeeded, reused for follow-up API calls
	headers map[string]string
}

// FTPAccount holds the transfer login derived from a hosting account.
type FTPAccount struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	TLS      bool   `json:"tls"`
}

func (f FTPAccount) Addr() string {
	return net.JoinHostPort(f.Host, strconv.Itoa(f.Port))
}

// DBResult reports database provisioning. When Manual is set the database
// was not created and Instructions describe what an operator must do.
type DBResult struct {
	DBName       string
	DBUser       string
	DBPass       string
	Manual       bool
	Instructions *models.DBInstructions
}

// Transfer is an open file transfer session.
type Transfer interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// HostingConnector is everything the orchestrator needs from a hosting account.
type HostingConnector interface {
	// Validate reports whether the account authenticates. Credentials that
	// cannot be verified produce Valid=false, not an error; errors are
	// reserved for malformed input.
	Validate(ctx context.Context, acct Account, rep *notify.Reporter) (*ValidationResult, error)
	// ProvisionDatabase creates a database and user for domain, falling
	// back to manual instructions when the provider API is unavailable.
	ProvisionDatabase(ctx context.Context, acct Account, domain string, rep *notify.Reporter) (*DBResult, error)
	FTPCredentials(ctx context.Context, acct Account, rep *notify.Reporter) (*FTPAccount, error)
	OpenTransfer(ctx context.Context, ftp *FTPAccount) (Transfer, error)
}
