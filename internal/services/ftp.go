package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"wplaunch/internal/notify"
)

const defaultFTPPort = 21

// ftpConn is the subset of *ftp.ServerConn used for uploads.
type ftpConn interface {
	Login(user, password string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

func dialFTP(ctx context.Context, acct FTPAccount, timeout time.Duration) (ftpConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	}
	if acct.TLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: acct.Host}))
	}
	conn, err := ftp.Dial(acct.Addr(), opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FTPCredentials derives the FTP login from the hosting account and checks
// that it is accepted.
func (c *CPanelConnector) FTPCredentials(ctx context.Context, acct Account, rep *notify.Reporter) (*FTPAccount, error) {
	if err := acct.check(); err != nil {
		return nil, err
	}
	port := c.cfg.FTPPort
	if port == 0 {
		port = defaultFTPPort
	}
	fa := &FTPAccount{
		Host:     acct.hostname(),
		Port:     port,
		Username: acct.Username,
		Password: acct.Password,
		TLS:      c.cfg.FTPTLS,
	}

	rep.Log("Checking FTP login on " + fa.Addr())
	conn, err := c.login(ctx, fa)
	if err != nil {
		rep.Error("FTP login failed: " + err.Error())
		return nil, err
	}
	_ = conn.Quit()
	rep.Success("FTP login verified for " + fa.Username + "@" + fa.Host)
	return fa, nil
}

func (c *CPanelConnector) OpenTransfer(ctx context.Context, fa *FTPAccount) (Transfer, error) {
	conn, err := c.login(ctx, fa)
	if err != nil {
		return nil, err
	}
	return &ftpTransfer{conn: conn, made: make(map[string]bool), log: c.log}, nil
}

func (c *CPanelConnector) login(ctx context.Context, fa *FTPAccount) (ftpConn, error) {
	conn, err := c.dial(ctx, *fa, c.cfg.ValidationTimeout)
	if err != nil {
		return nil, &ConnectorError{Op: "ftp connect " + fa.Addr(), Err: err}
	}
	if err := conn.Login(fa.Username, fa.Password); err != nil {
		_ = conn.Quit()
		return nil, &ConnectorError{Op: "ftp login", Err: err}
	}
	return conn, nil
}

type ftpTransfer struct {
	conn ftpConn
	made map[string]bool
	log  *zap.Logger
}

// Upload stores localPath at remotePath, creating parent directories.
// Cancelling ctx aborts the control connection.
func (t *ftpTransfer) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mkdirs(path.Dir(remotePath))

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	stop := context.AfterFunc(ctx, func() { _ = t.conn.Quit() })
	defer stop()

	if err := t.conn.Stor(remotePath, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stor %s: %w", remotePath, err)
	}
	return nil
}

func (t *ftpTransfer) mkdirs(dir string) {
	if dir == "." || dir == "/" || dir == "" {
		return
	}
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur = path.Join(cur, part)
		if t.made[cur] {
			continue
		}
		// 550 when the directory exists already
		if err := t.conn.MakeDir(cur); err != nil {
			t.log.Debug("mkdir", zap.String("dir", cur), zap.Error(err))
		}
		t.made[cur] = true
	}
}

func (t *ftpTransfer) Close() error {
	return t.conn.Quit()
}
