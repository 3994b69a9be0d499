package api

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/engine"
)

// ViewSource is anything that publishes an engine.View.
type ViewSource interface {
	View() *engine.View
}

// MetricsHandler serves GET /metrics: the current fleet view as Prometheus
// gauges, so an existing Prometheus can scrape the console.
func MetricsHandler(src ViewSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range metricFamilies(src.View()) {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

var hostStatuses = []types.Status{types.StatusHealthy, types.StatusWarning, types.StatusCritical, types.StatusOffline}

func metricFamilies(v *engine.View) []*dto.MetricFamily {
	byStatus := v.StatusCounts()
	hostsByStatus := family("intellimonitor_hosts", "Hosts by status.", dto.MetricType_GAUGE)
	for _, s := range hostStatuses {
		hostsByStatus.Metric = append(hostsByStatus.Metric, gauge(float64(byStatus[s]), "status", string(s)))
	}

	cpu := family("intellimonitor_host_cpu_percent", "Latest CPU usage per host.", dto.MetricType_GAUGE)
	mem := family("intellimonitor_host_memory_percent", "Latest memory usage per host.", dto.MetricType_GAUGE)
	disk := family("intellimonitor_host_disk_percent", "Primary disk usage per host.", dto.MetricType_GAUGE)
	failed := family("intellimonitor_host_failed_services", "Services reported as failed per host.", dto.MetricType_GAUGE)
	up := family("intellimonitor_host_up", "1 unless the host is offline.", dto.MetricType_GAUGE)
	for i := range v.Hosts {
		h := &v.Hosts[i]
		if c, ok := types.Latest(h.Metrics.CPU); ok {
			cpu.Metric = append(cpu.Metric, gauge(c, "host", h.Hostname))
		}
		if m, ok := types.Latest(h.Metrics.Memory); ok {
			mem.Metric = append(mem.Metric, gauge(m, "host", h.Hostname))
		}
		if len(h.Disks) > 0 {
			disk.Metric = append(disk.Metric, gauge(h.PrimaryDiskUsage(), "host", h.Hostname))
		}
		failed.Metric = append(failed.Metric, gauge(float64(len(h.FailedServices())), "host", h.Hostname))
		upVal := 1.0
		if h.Status == types.StatusOffline {
			upVal = 0
		}
		up.Metric = append(up.Metric, gauge(upVal, "host", h.Hostname))
	}

	syncOK := 0.0
	if v.Sync.OK {
		syncOK = 1
	}
	out := []*dto.MetricFamily{
		hostsByStatus,
		single("intellimonitor_alerts_active", "Unresolved alerts.", dto.MetricType_GAUGE, float64(v.ActiveAlerts)),
		single("intellimonitor_sync_up", "1 if the last snapshot fetch succeeded.", dto.MetricType_GAUGE, syncOK),
		single("intellimonitor_sync_total", "Successful snapshot fetches.", dto.MetricType_COUNTER, float64(v.Sync.Syncs)),
		single("intellimonitor_sync_failures_total", "Failed snapshot fetches.", dto.MetricType_COUNTER, float64(v.Sync.Failures)),
		single("intellimonitor_sync_latency_seconds", "Latency of the last successful fetch.", dto.MetricType_GAUGE, v.Sync.Latency.Seconds()),
		single("intellimonitor_refresh_interval_seconds", "Effective polling interval.", dto.MetricType_GAUGE, v.RefreshInterval.Seconds()),
	}
	// Empty families are not valid exposition.
	for _, mf := range []*dto.MetricFamily{cpu, mem, disk, failed, up} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

func family(name, help string, t dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: ptr(t)}
}

func single(name, help string, t dto.MetricType, v float64) *dto.MetricFamily {
	mf := family(name, help, t)
	m := &dto.Metric{}
	if t == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: ptr(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: ptr(v)}
	}
	mf.Metric = []*dto.Metric{m}
	return mf
}

func gauge(v float64, label, value string) *dto.Metric {
	return &dto.Metric{
		Label: []*dto.LabelPair{{Name: ptr(label), Value: ptr(value)}},
		Gauge: &dto.Gauge{Value: ptr(v)},
	}
}

func ptr[T any](v T) *T { return &v }
