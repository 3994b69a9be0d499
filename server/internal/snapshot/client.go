package snapshot

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/intellimonitor/intellimonitor/server/internal/config"
	"github.com/intellimonitor/intellimonitor/server/internal/store"
)

const maxBodyBytes = 16 << 20

// Result is a successfully fetched snapshot.
type Result struct {
	Reports []store.Report

	// Skipped holds host entries that could not be decoded.
	Skipped []*DataError

	FetchedAt time.Time
	Latency   time.Duration
}

// Client fetches snapshots from one backend.
type Client struct {
	base          string
	consoleScheme string
	timeout       time.Duration
	http          *http.Client
	now           func() time.Time
}

// NewClient builds a Client from the sync configuration.
func NewClient(cfg config.SyncConfig) (*Client, error) {
	hc, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("snapshot: build http client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultSyncTimeout
	}
	return &Client{
		base:          strings.TrimRight(cfg.BackendURL, "/"),
		consoleScheme: cfg.ConsoleScheme,
		timeout:       timeout,
		http:          hc,
		now:           time.Now,
	}, nil
}

// BackendURL returns the configured backend base URL.
func (c *Client) BackendURL() string { return c.base }

// authRoundTripper injects backend credentials into every request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.BackendAuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}

func buildHTTPClient(cfg config.SyncConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if cfg.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			auth: cfg.Auth,
		},
	}, nil
}

// Fetch retrieves and decodes one snapshot within the client timeout.
func (c *Client) Fetch(ctx context.Context) (*Result, error) {
	started := c.now()
	target := c.base + "/api/hosts?_t=" + strconv.FormatInt(started.UnixMilli(), 10)

	if u, err := url.Parse(c.base); err == nil && c.consoleScheme == "https" && u.Scheme == "http" {
		return nil, &ConnectivityError{Kind: KindScheme, URL: c.base}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ConnectivityError{Kind: KindTransport, URL: c.base, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &ConnectivityError{Kind: KindStatus, URL: c.base, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	reports, skipped, err := decode(body)
	if err != nil {
		return nil, &ConnectivityError{Kind: KindDecode, URL: c.base, Err: err}
	}
	for _, de := range skipped {
		slog.Warn("snapshot: skipping host with unusable payload", "host", de.Hostname, "err", de.Err)
	}

	return &Result{
		Reports:   reports,
		Skipped:   skipped,
		FetchedAt: started,
		Latency:   c.now().Sub(started),
	}, nil
}

// classify maps a transport-level failure to a ConnectivityError.
func (c *Client) classify(ctx context.Context, err error) *ConnectivityError {
	ce := &ConnectivityError{Kind: KindTransport, URL: c.base, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		ce.Kind = KindTimeout
	case isCertError(err):
		ce.Kind = KindCertificate
		// The probe shares what is left of the fetch deadline.
		ce.Cert = ProbeCert(ctx, c.base, c.now())
	case errors.As(err, &netErr) && netErr.Timeout():
		ce.Kind = KindTimeout
	}
	return ce
}

func isCertError(err error) bool {
	var (
		unknownAuth  x509.UnknownAuthorityError
		invalid      x509.CertificateInvalidError
		hostname     x509.HostnameError
		verification *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuth) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification)
}
