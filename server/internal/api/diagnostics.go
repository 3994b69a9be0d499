package api

import (
	"fmt"
	"net/url"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/engine"
	"github.com/intellimonitor/intellimonitor/server/internal/snapshot"
)

// DiagnosticHint is one human-readable insight about the console's
// connection to the inventory provider or about the fleet. The UI shows these
// as banners; Detail is the explanation shown on expand.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number associated with this hint (e.g. days left).
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a view. A connectivity failure is the
// only hint returned while it lasts; without a snapshot nothing else is known.
func computeDiagnostics(v *engine.View) []DiagnosticHint {
	if e := v.Sync.Error; e != nil {
		return []DiagnosticHint{connectivityHint(e)}
	}

	var hints []DiagnosticHint

	// ── No agents yet ────────────────────────────────────────────────────────
	if len(v.Hosts) == 0 {
		if v.Sync.Syncs == 0 {
			return []DiagnosticHint{{
				Key:    "starting",
				Level:  "info",
				Title:  "Waiting for first sync",
				Detail: "The console has not fetched a snapshot from the backend yet.",
			}}
		}
		return []DiagnosticHint{{
			Key:   "no_agents",
			Level: "info",
			Title: "Waiting for agents",
			Detail: "The backend answered but reports no hosts. Make sure your servers " +
				"are running the agent script and point at the correct backend.",
		}}
	}

	// ── Undecodable host entries ─────────────────────────────────────────────
	if n := len(v.Sync.Skipped); n > 0 {
		val := float64(n)
		hints = append(hints, DiagnosticHint{
			Key:   "skipped_hosts",
			Level: "warning",
			Title: fmt.Sprintf("%d host(s) unreadable", n),
			Detail: fmt.Sprintf("The last snapshot contained entries that could not be decoded "+
				"and were skipped: %v. Check the agent version on those hosts.", v.Sync.Skipped),
			Value: &val,
		})
	}

	// ── Offline hosts ────────────────────────────────────────────────────────
	if n := v.StatusCounts()[types.StatusOffline]; n > 0 {
		val := float64(n)
		hints = append(hints, DiagnosticHint{
			Key:   "offline_hosts",
			Level: "warning",
			Title: fmt.Sprintf("%d host(s) offline", n),
			Detail: "These hosts have not reported for more than three minutes. " +
				"The agent may have stopped or lost its route to the backend.",
			Value: &val,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: fmt.Sprintf("The backend is reachable and all %d host(s) are reporting.", len(v.Hosts)),
		})
	}
	return hints
}

// connectivityHint explains a failed sync in operator terms.
func connectivityHint(e *engine.SyncError) DiagnosticHint {
	switch e.Kind {
	case snapshot.KindScheme:
		return DiagnosticHint{
			Key:   "mixed_content",
			Level: "critical",
			Title: "Blocked plain-http backend",
			Detail: fmt.Sprintf("The console is served over HTTPS but the backend %s is plain HTTP. "+
				"Serve the console over HTTP or configure TLS on the backend.", e.URL),
		}

	case snapshot.KindCertificate:
		h := DiagnosticHint{
			Key:   "cert_untrusted",
			Level: "critical",
			Title: "Backend certificate not trusted",
			Detail: fmt.Sprintf("The TLS handshake with %s failed. This is expected the first time "+
				"an HTTPS backend with a self-signed certificate is used: add its CA to "+
				"sync.tls.ca_file, or open %s once and trust the certificate.", e.URL, origin(e.URL)),
		}
		if c := e.Cert; c != nil {
			days := float64(c.DaysLeft)
			h.Value = &days
			switch {
			case c.Status == "expired":
				h.Title = "Backend certificate expired"
				h.Detail = fmt.Sprintf("The certificate of %s (issuer %q) expired on %s.",
					e.URL, c.Issuer, c.NotAfter.Format("2006-01-02"))
			case c.SelfSigned:
				h.Title = "Self-signed backend certificate"
			}
		}
		return h

	case snapshot.KindTimeout:
		return DiagnosticHint{
			Key:   "timeout",
			Level: "critical",
			Title: "Backend not answering",
			Detail: fmt.Sprintf("%s did not answer within the sync timeout. The backend may be "+
				"overloaded, or a firewall may be dropping the connection.", e.URL),
		}

	case snapshot.KindStatus:
		code := float64(e.StatusCode)
		return DiagnosticHint{
			Key:   "http_status",
			Level: "critical",
			Title: fmt.Sprintf("Backend returned HTTP %d", e.StatusCode),
			Detail: "The backend is reachable but refused the snapshot request. " +
				"Check the sync.auth settings and the backend logs.",
			Value: &code,
		}

	case snapshot.KindDecode:
		return DiagnosticHint{
			Key:    "bad_payload",
			Level:  "critical",
			Title:  "Unreadable snapshot",
			Detail: fmt.Sprintf("The backend answered with data the console cannot process: %s", e.Message),
		}

	default:
		return DiagnosticHint{
			Key:   "unreachable",
			Level: "critical",
			Title: "Can't reach backend",
			Detail: fmt.Sprintf("Could not connect to %s. Check that the server is running "+
				"and that the IP and port are correct.", e.URL),
		}
	}
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
