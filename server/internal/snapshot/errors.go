package snapshot

import (
	"fmt"
)

// Kind classifies a connectivity failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindTransport   Kind = "transport"
	KindCertificate Kind = "certificate"
	KindScheme      Kind = "scheme"
	KindStatus      Kind = "status"
	KindDecode      Kind = "decode"
)

// ConnectivityError means the snapshot could not be obtained at all.
type ConnectivityError struct {
	Kind Kind
	URL  string

	// StatusCode is set for KindStatus.
	StatusCode int

	// Cert describes the backend certificate for KindCertificate, when the
	// probe could reach it.
	Cert *CertInfo

	Err error
}

func (e *ConnectivityError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("snapshot: %s returned HTTP %d", e.URL, e.StatusCode)
	case KindScheme:
		return fmt.Sprintf("snapshot: refusing plain-http backend %s from an https console", e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("snapshot: %s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("snapshot: %s: %s", e.Kind, e.URL)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// DataError means one host entry of an otherwise valid snapshot was unusable.
type DataError struct {
	Hostname string
	Err      error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("snapshot: host %q: %v", e.Hostname, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }
