package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wplaunch/internal/config"
)

func testConnector(profiles ...connectionProfile) *CPanelConnector {
	c := NewCPanelConnector(&config.Config{ValidationTimeout: 2 * time.Second, FTPPort: 21}, nil, zap.NewNop())
	if len(profiles) > 0 {
		c.profiles = profiles
	}
	return c
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func jsonOK(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func twoProfiles(provider, generic []endpoint) []connectionProfile {
	return []connectionProfile{
		{Name: "provider", Headers: map[string]string{"X-Profile": "provider"}, Endpoints: provider},
		{Name: "generic", Headers: map[string]string{"X-Profile": "generic"}, Endpoints: generic},
	}
}

func TestValidateStopsOnUnauthorized(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := testConnector(twoProfiles(
		[]endpoint{{Scheme: "http"}, {Scheme: "http", Prefix: "/alt"}},
		[]endpoint{{Scheme: "http"}},
	)...)

	res, err := c.Validate(context.Background(), Account{Host: "127.0.0.1", Username: "acme", Password: "wrong", Port: serverPort(t, srv)}, nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Restricted)
	assert.Equal(t, "Invalid username or password", res.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestValidateStopsOnForbidden(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := testConnector(twoProfiles([]endpoint{{Scheme: "http"}}, []endpoint{{Scheme: "http"}})...)

	res, err := c.Validate(context.Background(), Account{Host: "127.0.0.1", Username: "acme", Password: "pw", Port: serverPort(t, srv)}, nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Restricted)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestValidateSkipsProfileOnNetworkFailure(t *testing.T) {
	var profiles []string
	var mu sync.Mutex
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		profiles = append(profiles, r.Header.Get("X-Profile"))
		mu.Unlock()
		user, pass, ok := r.BasicAuth()
		if !ok || user != "acme" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		jsonOK(w, `{"status":1,"data":{"user":"acme"}}`)
	})
	port := serverPort(t, srv)
	c := testConnector(twoProfiles(
		[]endpoint{{Scheme: "http", Port: closedPort(t)}, {Scheme: "http", Port: port}},
		[]endpoint{{Scheme: "http", Port: port}},
	)...)

	res, err := c.Validate(context.Background(), Account{Host: "https://127.0.0.1/", Username: "acme", Password: "pw"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "generic", res.Profile)
	assert.Equal(t, srv.URL, res.BaseURL)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	assert.Equal(t, []string{"generic"}, profiles)
}

func TestValidateExhaustedReportsHint(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/alt") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>login</html>")
	})
	c := testConnector(twoProfiles(
		[]endpoint{{Scheme: "http"}, {Scheme: "http", Prefix: "/alt"}},
		[]endpoint{{Scheme: "http"}},
	)...)

	res, err := c.Validate(context.Background(), Account{Host: "127.0.0.1", Username: "acme", Password: "pw", Port: serverPort(t, srv)}, nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Restricted)
	assert.Equal(t, exhaustedHint, res.Hint)
	assert.Contains(t, res.LastError, "not JSON")
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	c := testConnector()
	_, err := c.Validate(context.Background(), Account{Username: "acme"}, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "host")
	assert.Contains(t, verr.Fields, "password")
	assert.NotContains(t, verr.Fields, "username")
}

func cpanelServer(t *testing.T, failOn string) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	var mu sync.Mutex
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		fn := strings.TrimPrefix(r.URL.Path, "/execute/")
		if fn != "Variables/get_user_information" {
			mu.Lock()
			calls = append(calls, fn)
			mu.Unlock()
		}
		if fn == failOn {
			jsonOK(w, `{"status":0,"errors":["Access denied"]}`)
			return
		}
		if fn == "Mysql/set_privileges_on_database" && r.URL.Query().Get("privileges") != "ALL PRIVILEGES" {
			jsonOK(w, `{"status":0,"errors":["bad privileges"]}`)
			return
		}
		jsonOK(w, `{"status":1,"errors":null,"data":{}}`)
	})
	return srv, &calls
}

func TestProvisionDatabaseCreatesDatabaseAndUser(t *testing.T) {
	srv, calls := cpanelServer(t, "")
	c := testConnector(connectionProfile{Name: "provider", Endpoints: []endpoint{{Scheme: "http"}}})

	res, err := c.ProvisionDatabase(context.Background(), Account{Host: "127.0.0.1", Username: "Acme-User99", Password: "pw", Port: serverPort(t, srv)}, "example.com", nil)
	require.NoError(t, err)
	assert.False(t, res.Manual)
	assert.Nil(t, res.Instructions)
	assert.True(t, strings.HasPrefix(res.DBName, "acmeuser_wp"))
	assert.True(t, strings.HasPrefix(res.DBUser, "acmeuser_u"))
	assert.GreaterOrEqual(t, len(res.DBPass), 16)
	assert.Equal(t, []string{
		"Mysql/create_database",
		"Mysql/create_user",
		"Mysql/set_privileges_on_database",
	}, *calls)
}

func TestProvisionDatabaseFallsBackToManual(t *testing.T) {
	srv, calls := cpanelServer(t, "Mysql/create_user")
	c := testConnector(connectionProfile{Name: "provider", Endpoints: []endpoint{{Scheme: "http"}}})

	res, err := c.ProvisionDatabase(context.Background(), Account{Host: "127.0.0.1", Username: "acme", Password: "pw", Port: serverPort(t, srv)}, "example.com", nil)
	require.NoError(t, err)
	assert.True(t, res.Manual)
	require.NotNil(t, res.Instructions)
	assert.Contains(t, res.Instructions.Reason, "Access denied")
	assert.Equal(t, res.DBName, res.Instructions.DBName)
	assert.Equal(t, res.DBPass, res.Instructions.DBPass)
	assert.NotEmpty(t, res.Instructions.Steps)
	assert.Equal(t, []string{"Mysql/create_database", "Mysql/create_user"}, *calls)
}

func TestProvisionDatabaseUsesValidatedProfileHeaders(t *testing.T) {
	var mu sync.Mutex
	var apiProfiles []string
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		profile := r.Header.Get("X-Profile")
		if r.URL.Path == probePath {
			if profile == "provider" {
				w.Header().Set("Content-Type", "text/html")
				io.WriteString(w, "<html>login</html>")
				return
			}
			jsonOK(w, `{"status":1,"data":{}}`)
			return
		}
		mu.Lock()
		apiProfiles = append(apiProfiles, profile)
		mu.Unlock()
		jsonOK(w, `{"status":1,"errors":null,"data":{}}`)
	})
	c := testConnector(twoProfiles([]endpoint{{Scheme: "http"}}, []endpoint{{Scheme: "http"}})...)

	res, err := c.ProvisionDatabase(context.Background(), Account{Host: "127.0.0.1", Username: "acme", Password: "pw", Port: serverPort(t, srv)}, "example.com", nil)
	require.NoError(t, err)
	assert.False(t, res.Manual)
	assert.Equal(t, []string{"generic", "generic", "generic"}, apiProfiles)
}

func TestProvisionDatabaseUnreachableHost(t *testing.T) {
	c := testConnector(connectionProfile{Name: "provider", Endpoints: []endpoint{{Scheme: "http"}}})

	res, err := c.ProvisionDatabase(context.Background(), Account{Host: "127.0.0.1", Username: "acme", Password: "pw", Port: closedPort(t)}, "example.com", nil)
	require.NoError(t, err)
	assert.True(t, res.Manual)
	assert.True(t, strings.HasPrefix(res.Instructions.HostURL, "https://127.0.0.1:"))
	assert.Contains(t, res.Instructions.Reason, "Could not validate credentials")
}

type fakeFTP struct {
	mu       sync.Mutex
	loginErr error
	dirs     []string
	stored   map[string]string
	quits    int
}

func (f *fakeFTP) Login(user, password string) error { return f.loginErr }

func (f *fakeFTP) MakeDir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, path)
	return nil
}

func (f *fakeFTP) Stor(path string, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = make(map[string]string)
	}
	f.stored[path] = buf.String()
	return nil
}

func (f *fakeFTP) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return nil
}

func TestFTPCredentialsAndTransfer(t *testing.T) {
	fake := &fakeFTP{}
	var dialed FTPAccount
	c := testConnector()
	c.dial = func(ctx context.Context, acct FTPAccount, timeout time.Duration) (ftpConn, error) {
		dialed = acct
		return fake, nil
	}
	acct := Account{Host: "Host.Example.com:2083", Username: "acme", Password: "pw"}

	fa, err := c.FTPCredentials(context.Background(), acct, nil)
	require.NoError(t, err)
	assert.Equal(t, "host.example.com", fa.Host)
	assert.Equal(t, 21, fa.Port)
	assert.Equal(t, "host.example.com:21", dialed.Addr())
	assert.Equal(t, 1, fake.quits)

	local := filepath.Join(t.TempDir(), "wp-config.php")
	require.NoError(t, os.WriteFile(local, []byte("<?php"), 0o600))

	tr, err := c.OpenTransfer(context.Background(), fa)
	require.NoError(t, err)
	require.NoError(t, tr.Upload(context.Background(), local, "public_html/wp-content/a.php"))
	require.NoError(t, tr.Upload(context.Background(), local, "public_html/wp-content/b.php"))
	require.NoError(t, tr.Close())

	assert.Equal(t, []string{"public_html", "public_html/wp-content"}, fake.dirs)
	assert.Equal(t, "<?php", fake.stored["public_html/wp-content/a.php"])
	assert.Contains(t, fake.stored, "public_html/wp-content/b.php")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Upload(ctx, local, "public_html/c.php"), context.Canceled)
}

func TestFTPLoginFailure(t *testing.T) {
	c := testConnector()
	c.dial = func(ctx context.Context, acct FTPAccount, timeout time.Duration) (ftpConn, error) {
		return &fakeFTP{loginErr: errors.New("530 Login incorrect")}, nil
	}
	_, err := c.FTPCredentials(context.Background(), Account{Host: "h.example.com", Username: "acme", Password: "pw"}, nil)
	var cerr *ConnectorError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "ftp login", cerr.Op)
	assert.Contains(t, err.Error(), "530")
}

func TestGeneratePasswordPolicy(t *testing.T) {
	for i := 0; i < 200; i++ {
		pw, err := GeneratePassword(16)
		require.NoError(t, err)
		require.Len(t, pw, 16)
		assert.True(t, strings.ContainsAny(pw, upperChars), pw)
		assert.True(t, strings.ContainsAny(pw, lowerChars), pw)
		assert.True(t, strings.ContainsAny(pw, digitChars), pw)
		assert.True(t, strings.ContainsAny(pw, symbolChars), pw)
	}

	short, err := GeneratePassword(4)
	require.NoError(t, err)
	assert.Len(t, short, minPasswordLength)
}
