package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wplaunch/internal/config"
	"wplaunch/internal/metrics"
	"wplaunch/internal/notify"
)

const probePath = "/execute/Variables/get_user_information"

const exhaustedHint = "Check the host name and cPanel port (usually 2083), make sure the " +
	"account is not suspended and that API access is allowed for this user."

// endpoint is one candidate location of the cPanel API. Port 0 means the
// port configured on the account.
type endpoint struct {
	Scheme string
	Port   int
	Prefix string
}

// connectionProfile is a header set tried against an ordered list of
// candidate endpoints.
type connectionProfile struct {
	Name      string
	Headers   map[string]string
	Endpoints []endpoint
}

var defaultProfiles = []connectionProfile{
	{
		Name: "provider",
		Headers: map[string]string{
			"User-Agent":       "cPanel-UAPI-Client/1.0 (wplaunch)",
			"Accept":           "application/json",
			"X-Requested-With": "XMLHttpRequest",
		},
		Endpoints: []endpoint{
			{Scheme: "https", Port: 0},
			{Scheme: "https", Port: 2083},
			{Scheme: "http", Port: 2082},
		},
	},
	{
		Name: "generic",
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (compatible; wplaunch/1.0)",
			"Accept":     "*/*",
		},
		Endpoints: []endpoint{
			{Scheme: "https", Port: 0},
			{Scheme: "https", Port: 2083},
			{Scheme: "http", Port: 2082},
			{Scheme: "https", Port: 443, Prefix: "/cpanel"},
		},
	},
}

type outcome int

const (
	inconclusive outcome = iota
	succeeded
	definitivelyInvalid
)

type attempt struct {
	outcome    outcome
	baseURL    string
	reason     string
	restricted bool
	network    bool
	err        error
}

// CPanelConnector talks to cPanel's UAPI over HTTP(S) and to the account's
// FTP service.
type CPanelConnector struct {
	cfg      *config.Config
	client   *http.Client
	profiles []connectionProfile
	metrics  *metrics.Metrics
	log      *zap.Logger

	dial func(ctx context.Context, acct FTPAccount, timeout time.Duration) (ftpConn, error)
}

func NewCPanelConnector(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *CPanelConnector {
	return &CPanelConnector{
		cfg:      cfg,
		client:   &http.Client{},
		profiles: defaultProfiles,
		metrics:  m,
		log:      log.Named("cpanel"),
		dial:     dialFTP,
	}
}

func (c *CPanelConnector) Validate(ctx context.Context, acct Account, rep *notify.Reporter) (*ValidationResult, error) {
	if err := acct.check(); err != nil {
		return nil, err
	}
	res := c.probe(ctx, acct, c.profiles, rep)
	switch {
	case res.Valid:
		c.metrics.Validation("valid")
	case res.Restricted:
		c.metrics.Validation("restricted")
	case res.Hint != "":
		c.metrics.Validation("unverified")
	default:
		c.metrics.Validation("invalid")
	}
	return res, nil
}

// probe walks the profile table and stops at the first definitive answer.
func (c *CPanelConnector) probe(ctx context.Context, acct Account, profiles []connectionProfile, rep *notify.Reporter) *ValidationResult {
	var last attempt
	for _, p := range profiles {
		seen := make(map[string]bool)
		for _, ep := range p.Endpoints {
			base := c.baseURL(acct, ep)
			if seen[base] {
				continue
			}
			seen[base] = true

			rep.Log("Trying "+base+" ("+p.Name+" profile)", zap.String("profile", p.Name))
			a := c.try(ctx, acct, p, base)
			switch a.outcome {
			case succeeded:
				rep.Success("cPanel login verified at " + base)
				return &ValidationResult{Valid: true, Profile: p.Name, BaseURL: base, Message: "Credentials verified", headers: p.Headers}
			case definitivelyInvalid:
				rep.Error(a.reason)
				return &ValidationResult{Restricted: a.restricted, Profile: p.Name, BaseURL: base, Message: a.reason}
			}
			last = a
			rep.Log("No answer from "+base+": "+a.err.Error(), zap.Bool("network", a.network))
			if a.network {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	res := &ValidationResult{Message: "Could not validate credentials", Hint: exhaustedHint}
	if last.err != nil {
		res.LastError = last.err.Error()
	}
	rep.Error(res.Message, zap.String("last_error", res.LastError))
	return res
}

func (c *CPanelConnector) baseURL(acct Account, ep endpoint) string {
	port := ep.Port
	if port == 0 {
		port = acct.port()
	}
	return ep.Scheme + "://" + net.JoinHostPort(acct.hostname(), strconv.Itoa(port)) + ep.Prefix
}

func (c *CPanelConnector) try(ctx context.Context, acct Account, p connectionProfile, base string) attempt {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ValidationTimeout)
	defer cancel()

	resp, err := c.do(ctx, acct, p.Headers, base+probePath)
	if err != nil {
		return attempt{err: err, network: isNetworkError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return attempt{outcome: definitivelyInvalid, reason: "Invalid username or password"}
	case resp.StatusCode == http.StatusForbidden:
		return attempt{outcome: definitivelyInvalid, restricted: true, reason: "Access restricted: the account may not have API access or the IP is blocked"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return attempt{err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return attempt{err: fmt.Errorf("response is not JSON (%s)", resp.Header.Get("Content-Type"))}
	}
	return attempt{outcome: succeeded, baseURL: base}
}

// isNetworkError reports failures that mean the host/port pair is wrong
// (DNS, refused, timeout) rather than the path.
func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func (c *CPanelConnector) do(ctx context.Context, acct Account, headers map[string]string, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(acct.Username, acct.Password)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

type uapiResponse struct {
	Status int             `json:"status"`
	Errors []string        `json:"errors"`
	Data   json.RawMessage `json:"data"`
}

// uapi calls module/function against the endpoint and header set that
// validated, and fails unless cPanel reports status 1.
func (c *CPanelConnector) uapi(ctx context.Context, acct Account, target *ValidationResult, fn string, args url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ValidationTimeout)
	defer cancel()

	resp, err := c.do(ctx, acct, target.headers, target.BaseURL+"/execute/"+fn+"?"+args.Encode())
	if err != nil {
		return &ConnectorError{Op: fn, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ConnectorError{Op: fn, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	var out uapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return &ConnectorError{Op: fn, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Status != 1 {
		msg := strings.Join(out.Errors, "; ")
		if msg == "" {
			msg = "request was rejected"
		}
		return &ConnectorError{Op: fn, Err: errors.New(msg)}
	}
	return nil
}
