package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/store"
)

// hostPayload is one value of the provider's hostname-keyed object.
type hostPayload struct {
	IP            string                   `json:"ip"`
	OS            string                   `json:"os"`
	UptimeSeconds float64                  `json:"uptimeSeconds"`
	LastSeen      json.RawMessage          `json:"lastSeen"`
	Services      []types.MonitoredService `json:"services"`
	AgentConfig   *types.AgentConfig       `json:"agentConfig"`
	LatestMetrics *latestPayload           `json:"latestMetrics"`
}

type latestPayload struct {
	CPU         *float64 `json:"cpu"`
	Memory      *float64 `json:"memory"`
	DiskTotalGB *float64 `json:"disk_total_gb"`
	DiskUsedGB  *float64 `json:"disk_used_gb"`
	NetSentMB   *float64 `json:"net_sent_mb"`
	NetRecvMB   *float64 `json:"net_recv_mb"`
}

var lastSeenLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
}

// parseLastSeen accepts a timestamp string in any of lastSeenLayouts or a
// number of milliseconds since the epoch. Anything else is the zero time.
func parseLastSeen(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range lastSeenLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(int64(ms))
	}
	return time.Time{}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// decode parses a snapshot body. The outer object must decode, or the whole
// snapshot is unusable; entries that fail individually are returned as
// DataErrors. Reports come back sorted by hostname so merges are stable.
func decode(body []byte) ([]store.Report, []*DataError, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if outer == nil {
		return nil, nil, errors.New("decode snapshot: body is null")
	}

	names := make([]string, 0, len(outer))
	for name := range outer {
		names = append(names, name)
	}
	sort.Strings(names)

	reports := make([]store.Report, 0, len(names))
	var bad []*DataError
	for _, name := range names {
		rep, err := decodeHost(name, outer[name])
		if err != nil {
			bad = append(bad, &DataError{Hostname: name, Err: err})
			continue
		}
		reports = append(reports, rep)
	}
	return reports, bad, nil
}

func decodeHost(name string, raw json.RawMessage) (store.Report, error) {
	if strings.TrimSpace(name) == "" {
		return store.Report{}, errors.New("empty hostname")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return store.Report{}, errors.New("payload is not an object")
	}
	var p hostPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.Report{}, err
	}

	rep := store.Report{
		Hostname:      name,
		IP:            p.IP,
		OS:            p.OS,
		UptimeSeconds: int64(p.UptimeSeconds),
		LastSeen:      parseLastSeen(p.LastSeen),
		Services:      p.Services,
		AgentConfig:   p.AgentConfig,
	}
	if m := p.LatestMetrics; m != nil {
		rep.Latest = &store.LatestMetrics{
			CPU:         deref(m.CPU),
			Memory:      deref(m.Memory),
			DiskTotalGB: m.DiskTotalGB,
			DiskUsedGB:  m.DiskUsedGB,
			NetSentMB:   m.NetSentMB,
			NetRecvMB:   m.NetRecvMB,
		}
	}
	return rep, nil
}
