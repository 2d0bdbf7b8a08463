package services

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"wplaunch/internal/models"
	"wplaunch/internal/notify"
)

func (c *CPanelConnector) ProvisionDatabase(ctx context.Context, acct Account, domain string, rep *notify.Reporter) (*DBResult, error) {
	if err := acct.check(); err != nil {
		return nil, err
	}

	dbName, dbUser, dbPass, err := databaseNames(acct.Username)
	if err != nil {
		return nil, err
	}

	rep.Info("Connecting to cPanel to create the database")
	res := c.probe(ctx, acct, c.profiles, rep)
	if !res.Valid {
		reason := res.Message
		if res.LastError != "" {
			reason += ": " + res.LastError
		}
		return c.manual(acct, dbName, dbUser, dbPass, reason, rep), nil
	}

	steps := []struct {
		fn   string
		args url.Values
		msg  string
	}{
		{"Mysql/create_database", url.Values{"name": {dbName}}, "Created database " + dbName},
		{"Mysql/create_user", url.Values{"name": {dbUser}, "password": {dbPass}}, "Created database user " + dbUser},
		{"Mysql/set_privileges_on_database", url.Values{
			"user":       {dbUser},
			"database":   {dbName},
			"privileges": {"ALL PRIVILEGES"},
		}, "Granted " + dbUser + " all privileges on " + dbName},
	}
	for _, s := range steps {
		if err := c.uapi(ctx, acct, res, s.fn, s.args); err != nil {
			c.log.Warn("database provisioning failed", zap.String("domain", domain), zap.Error(err))
			return c.manual(acct, dbName, dbUser, dbPass, err.Error(), rep), nil
		}
		rep.Success(s.msg)
	}

	return &DBResult{DBName: dbName, DBUser: dbUser, DBPass: dbPass}, nil
}

func (c *CPanelConnector) manual(acct Account, dbName, dbUser, dbPass, reason string, rep *notify.Reporter) *DBResult {
	hostURL := "https://" + net.JoinHostPort(acct.hostname(), strconv.Itoa(acct.port()))
	rep.Error("Automatic database creation failed, manual setup required", zap.String("reason", reason))
	return &DBResult{
		DBName: dbName,
		DBUser: dbUser,
		DBPass: dbPass,
		Manual: true,
		Instructions: &models.DBInstructions{
			HostURL: hostURL,
			DBName:  dbName,
			DBUser:  dbUser,
			DBPass:  dbPass,
			Reason:  reason,
			Steps: []string{
				"Log in to cPanel at " + hostURL,
				"Open MySQL Databases and create the database " + dbName,
				"Create the user " + dbUser + " with the password provided",
				"Add " + dbUser + " to " + dbName + " with ALL PRIVILEGES",
				"Resume the deployment",
			},
		},
	}
}

// databaseNames generates cPanel-prefixed names (<cpuser>_wp<rand>) and a password.
func databaseNames(username string) (dbName, dbUser, dbPass string, err error) {
	prefix := cpanelPrefix(username)
	if prefix == "" {
		return "", "", "", errors.New("username has no usable characters for a database prefix")
	}
	suffix, err := randomSuffix(5)
	if err != nil {
		return "", "", "", err
	}
	userSuffix, err := randomSuffix(5)
	if err != nil {
		return "", "", "", err
	}
	dbPass, err = GeneratePassword(20)
	if err != nil {
		return "", "", "", err
	}
	return prefix + "_wp" + suffix, prefix + "_u" + userSuffix, dbPass, nil
}

// cPanel prefixes database objects with at most the first 8 characters of the account name.
func cpanelPrefix(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	return b.String()
}
