package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/engine"
	"github.com/intellimonitor/intellimonitor/server/internal/notify"
)

// Engine is the part of the reconciliation loop the API drives.
type Engine interface {
	View() *engine.View
	Dismiss(ctx context.Context, k notify.Kind) error
	Minimize(ctx context.Context) error
	Restore(ctx context.Context) error
	UnlockVoice(ctx context.Context) error
	SetRefreshInterval(ctx context.Context, d time.Duration) (time.Duration, error)
	Focus(ctx context.Context, hostID string, d time.Duration) error
	Unfocus(ctx context.Context) error
}

// commandTimeout bounds how long a request waits for the loop, which may be
// in the middle of a snapshot fetch.
const commandTimeout = 10 * time.Second

// Handler is the HTTP handler for all /api/v1/* endpoints.
// Reads are served from the latest published view; writes are forwarded to
// the loop as commands.
type Handler struct {
	eng Engine
	mux *http.ServeMux
}

// New creates a Handler wired to eng and registers all routes.
func New(eng Engine) http.Handler {
	h := &Handler{eng: eng, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/hosts", h.listHosts)
	h.mux.HandleFunc("/api/v1/hosts/", h.hostSubtree) // {id} | {id}/focus
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/notifications", h.notifications)
	h.mux.HandleFunc("/api/v1/notifications/", h.notificationCommand) // {kind}/{action}
	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/voice/unlock", h.unlockVoice)
	h.mux.HandleFunc("/api/v1/settings/refresh-interval", h.refreshInterval)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- reads ------------------------------------------------------------------

// listHosts returns GET /api/v1/hosts in registry order.
func (h *Handler) listHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	v := h.eng.View()
	out := make([]HostSummary, 0, len(v.Hosts))
	for i := range v.Hosts {
		out = append(out, toSummary(&v.Hosts[i]))
	}
	jsonResp(w, http.StatusOK, out)
}

// hostSubtree dispatches /api/v1/hosts/{id} and /api/v1/hosts/{id}/focus.
func (h *Handler) hostSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/hosts/"), "/")
	if rest == "" {
		h.listHosts(w, r)
		return
	}
	id, action, _ := strings.Cut(rest, "/")
	switch action {
	case "":
		h.getHost(w, r, id)
	case "focus":
		h.focus(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// getHost returns GET /api/v1/hosts/{id} with the declared-vs-reported
// service report.
func (h *Handler) getHost(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	host, ok := h.eng.View().Host(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "host not found")
		return
	}
	report, configured := serviceReport(&host)
	jsonResp(w, http.StatusOK, HostDetail{Host: host, Configured: configured, ServiceReport: report})
}

// alerts returns GET /api/v1/alerts newest first.
// ?state=active|resolved and ?severity=info|warning|critical filter the list.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	state := q.Get("state")
	switch state {
	case "", "all", "active", "resolved":
	default:
		jsonErr(w, http.StatusBadRequest, "state must be one of: all, active, resolved")
		return
	}
	sev := types.Severity(q.Get("severity"))
	switch sev {
	case "", types.SeverityInfo, types.SeverityWarning, types.SeverityCritical:
	default:
		jsonErr(w, http.StatusBadRequest, "severity must be one of: info, warning, critical")
		return
	}

	v := h.eng.View()
	out := make([]types.Alert, 0, len(v.Alerts))
	for _, a := range v.Alerts {
		if state == "active" && a.Resolved || state == "resolved" && !a.Resolved {
			continue
		}
		if sev != "" && a.Severity != sev {
			continue
		}
		out = append(out, a)
	}
	jsonResp(w, http.StatusOK, out)
}

// notifications returns GET /api/v1/notifications.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.eng.View().Notifications)
}

// status returns GET /api/v1/status: connectivity, hints and counters.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	v := h.eng.View()
	jsonResp(w, http.StatusOK, StatusResponse{
		Sync:           v.Sync,
		Diagnostics:    computeDiagnostics(v),
		HostCount:      len(v.Hosts),
		StatusCounts:   v.StatusCounts(),
		ActiveAlerts:   v.ActiveAlerts,
		RefreshSeconds: v.RefreshInterval.Seconds(),
		FocusedHost:    v.FocusedHost,
		Voice:          v.Voice,
		GeneratedAt:    v.GeneratedAt,
	})
}

// --- commands ---------------------------------------------------------------

// notificationCommand handles POST /api/v1/notifications/{kind}/dismiss and
// POST /api/v1/notifications/failed-service/{minimize|restore}.
func (h *Handler) notificationCommand(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/notifications/"), "/")
	if rest == "" {
		h.notifications(w, r)
		return
	}
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, action, _ := strings.Cut(rest, "/")
	kind, ok := notify.ParseKind(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "unknown notification kind")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	var err error
	switch {
	case action == "dismiss":
		err = h.eng.Dismiss(ctx, kind)
	case action == "minimize" && kind == notify.KindFailedService:
		err = h.eng.Minimize(ctx)
	case action == "restore" && kind == notify.KindFailedService:
		err = h.eng.Restore(ctx)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	h.commandResult(w, err, h.eng.View().Notifications)
}

// unlockVoice handles POST /api/v1/voice/unlock.
func (h *Handler) unlockVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	err := h.eng.UnlockVoice(ctx)
	h.commandResult(w, err, h.eng.View().Voice)
}

// refreshInterval handles GET and PUT /api/v1/settings/refresh-interval.
func (h *Handler) refreshInterval(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, RefreshIntervalResponse{Seconds: h.eng.View().RefreshInterval.Seconds()})
		return
	case http.MethodPut:
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RefreshIntervalRequest
	if err := decodeBody(r, &req); err != nil || req.Seconds <= 0 {
		jsonErr(w, http.StatusBadRequest, "body must be {\"seconds\": <positive number>}")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	d, err := h.eng.SetRefreshInterval(ctx, seconds(req.Seconds))
	h.commandResult(w, err, RefreshIntervalResponse{Seconds: d.Seconds()})
}

// focus handles POST and DELETE /api/v1/hosts/{id}/focus.
func (h *Handler) focus(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	var err error
	switch r.Method {
	case http.MethodPost:
		var req FocusRequest
		if derr := decodeBody(r, &req); derr != nil && !errors.Is(derr, io.EOF) {
			jsonErr(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		err = h.eng.Focus(ctx, id, seconds(req.Seconds))
	case http.MethodDelete:
		err = h.eng.Unfocus(ctx)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.commandResult(w, err, okResponse{OK: true})
}

// commandResult maps an engine command error to a status code.
func (h *Handler) commandResult(w http.ResponseWriter, err error, body interface{}) {
	switch {
	case err == nil:
		jsonResp(w, http.StatusOK, body)
	case errors.Is(err, engine.ErrNothingShown):
		jsonErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrUnknownHost):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// toSummary maps a host to its list entry.
func toSummary(h *types.Host) HostSummary {
	cpu, _ := types.Latest(h.Metrics.CPU)
	mem, _ := types.Latest(h.Metrics.Memory)
	failed := make([]string, 0)
	for _, s := range h.FailedServices() {
		failed = append(failed, s.Name)
	}
	return HostSummary{
		ID:             h.ID,
		Hostname:       h.Hostname,
		IP:             h.IP,
		OS:             h.OS,
		Status:         h.Status,
		LastSeen:       h.LastSeen,
		UptimeSeconds:  h.UptimeSeconds,
		CPU:            cpu,
		Memory:         mem,
		DiskUsage:      h.PrimaryDiskUsage(),
		FailedServices: failed,
	}
}

// serviceReport joins the services declared in the agent config with what
// the agent reported. Declared services are the source of truth; a reported
// service nobody declared is not listed.
func serviceReport(h *types.Host) ([]ServiceReport, bool) {
	if h.AgentConfig == nil || len(h.AgentConfig.Services) == 0 {
		return []ServiceReport{}, false
	}
	out := make([]ServiceReport, 0, len(h.AgentConfig.Services))
	for _, sc := range h.AgentConfig.Services {
		rep := ServiceReport{
			Name:    sc.Name,
			Type:    sc.Type,
			Enabled: sc.Enabled,
			Status:  types.ServiceInactive,
			Details: "Waiting for agent data...",
		}
		reported, ok := h.Service(sc.Name)
		switch {
		case !sc.Enabled:
			rep.Details = "Disabled in configuration."
		case ok:
			rep.Reported = true
			rep.Status = reported.Status
			rep.Details = reported.Details
			if rep.Details == "" {
				rep.Details = "-"
			}
		}
		out = append(out, rep)
	}
	return out, true
}
