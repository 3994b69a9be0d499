package snapshot

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"
)

// CertInfo describes a backend's TLS leaf certificate.
type CertInfo struct {
	Subject  string    `json:"subject"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"not_after"`
	DaysLeft int       `json:"days_left"`

	// Status is one of: valid | expiring | expired.
	Status string `json:"status"`

	// SelfSigned is true when issuer and subject match.
	SelfSigned bool `json:"self_signed"`
}

// ProbeCert dials the TLS endpoint of rawURL without verifying it and
// describes the leaf certificate offered. It returns nil for non-https URLs
// and unreachable hosts.
func ProbeCert(ctx context.Context, rawURL string, now time.Time) *CertInfo {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // inspection only
	}
	nc, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil
	}
	conn := nc.(*tls.Conn)
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	leaf := certs[0]
	days := leaf.NotAfter.Sub(now).Hours() / 24

	ci := &CertInfo{
		Subject:    leaf.Subject.CommonName,
		Issuer:     leaf.Issuer.CommonName,
		NotAfter:   leaf.NotAfter.UTC(),
		DaysLeft:   int(math.Floor(days)),
		SelfSigned: leaf.Subject.String() == leaf.Issuer.String(),
	}
	switch {
	case days <= 0:
		ci.Status = "expired"
	case days <= 30:
		ci.Status = "expiring"
	default:
		ci.Status = "valid"
	}
	return ci
}
