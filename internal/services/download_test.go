package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("Installation complete"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTriggerWaitsForSlowInstaller(t *testing.T) {
	srv := slowServer(t, 700*time.Millisecond)
	trigger := NewDownloader(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	status, err := trigger.Get(ctx, srv.URL+"/wplaunch-install.php?token=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestTriggerHonoursContextDeadline(t *testing.T) {
	srv := slowServer(t, 2*time.Second)
	trigger := NewDownloader(0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := trigger.Get(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchWritesFileAndRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.zip" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(time.Second)
	n, err := d.Fetch(context.Background(), srv.URL+"/latest.zip", filepath.Join(dir, "wordpress.zip"))
	require.NoError(t, err)
	assert.EqualValues(t, len("zip-bytes"), n)
	data, err := os.ReadFile(filepath.Join(dir, "wordpress.zip"))
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	_, err = d.Fetch(context.Background(), srv.URL+"/missing.zip", filepath.Join(dir, "missing.zip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 404")
	assert.NoFileExists(t, filepath.Join(dir, "missing.zip"))
}
