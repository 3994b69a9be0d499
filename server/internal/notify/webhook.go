package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/alerts"
	"github.com/intellimonitor/intellimonitor/server/internal/config"
)

// Event names carried in webhook messages.
const (
	EventFailure  = "failure"
	EventRecovery = "recovery"
)

// Message is one rendered webhook notification.
type Message struct {
	Event    string   `json:"event"`
	Hostname string   `json:"hostname"`
	Services []string `json:"services"`
	Text     string   `json:"text"`
}

// Webhooks fans service failures and recoveries out to the configured
// targets. Delivery is asynchronous; errors are logged only.
type Webhooks struct {
	mu       sync.RWMutex
	targets  []config.WebhookConfig
	failure  string
	recovery string

	client   *http.Client
	inflight sync.WaitGroup
}

// NewWebhooks returns a dispatcher for cfg.
func NewWebhooks(cfg config.NotificationsConfig) *Webhooks {
	w := &Webhooks{client: &http.Client{Timeout: 10 * time.Second}}
	w.Update(cfg)
	return w
}

// Update swaps targets and templates, as after a config reload.
func (w *Webhooks) Update(cfg config.NotificationsConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	w.failure = cfg.Templates.Failure
	w.recovery = cfg.Templates.Recovery
	if w.failure == "" {
		w.failure = config.DefaultFailureTemplate
	}
	if w.recovery == "" {
		w.recovery = config.DefaultRecoveryTemplate
	}
}

// Render fills {hostname} and {services} in tmpl. Services are listed one per
// line with a leading dash.
func Render(tmpl, hostname string, services []string) string {
	lines := make([]string, len(services))
	for i, s := range services {
		lines[i] = "- " + s
	}
	r := strings.NewReplacer("{hostname}", hostname, "{services}", strings.Join(lines, "\n"))
	return r.Replace(tmpl)
}

// Messages groups the service alerts of one tick into per-host failure and
// recovery messages. Hosts appear in the order their alerts do.
func (w *Webhooks) Messages(ch alerts.Changes) []Message {
	w.mu.RLock()
	failure, recovery := w.failure, w.recovery
	w.mu.RUnlock()

	var out []Message
	out = append(out, group(ch.Created, EventFailure, failure)...)
	out = append(out, group(ch.Resolved, EventRecovery, recovery)...)
	return out
}

func group(list []types.Alert, event, tmpl string) []Message {
	var order []string
	names := make(map[string][]string)
	hostnames := make(map[string]string)
	for _, a := range list {
		if a.Key.Kind != types.KindService {
			continue
		}
		if _, seen := names[a.HostID]; !seen {
			order = append(order, a.HostID)
		}
		names[a.HostID] = append(names[a.HostID], a.Key.Qualifier)
		hostnames[a.HostID] = a.Hostname
	}
	out := make([]Message, 0, len(order))
	for _, id := range order {
		out = append(out, Message{
			Event:    event,
			Hostname: hostnames[id],
			Services: names[id],
			Text:     Render(tmpl, hostnames[id], names[id]),
		})
	}
	return out
}

// Dispatch renders ch and delivers every message to every target in the
// background.
func (w *Webhooks) Dispatch(ch alerts.Changes) {
	msgs := w.Messages(ch)
	if len(msgs) == 0 {
		return
	}
	w.mu.RLock()
	targets := append([]config.WebhookConfig(nil), w.targets...)
	w.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		for _, m := range msgs {
			w.deliver(targets, m)
		}
	}()
}

// Wait blocks until background deliveries finish.
func (w *Webhooks) Wait() { w.inflight.Wait() }

func (w *Webhooks) deliver(targets []config.WebhookConfig, m Message) {
	for _, wh := range targets {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = w.sendSlack(url, m)
		case "teams":
			err = w.sendTeams(url, m)
		case "http":
			err = w.sendHTTP(url, m)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed", "type", wh.Type, "host", m.Hostname, "err", err)
		} else {
			slog.Debug("notify: webhook delivered", "type", wh.Type, "host", m.Hostname, "event", m.Event)
		}
	}
}

func (w *Webhooks) sendSlack(url string, m Message) error {
	body, _ := json.Marshal(map[string]string{"text": m.Text})
	return w.post(url, body)
}

func (w *Webhooks) sendTeams(url string, m Message) error {
	color, title := "FF4F6A", "IntelliMonitor: service failure on "+m.Hostname
	if m.Event == EventRecovery {
		color, title = "2ECC71", "IntelliMonitor: services recovered on "+m.Hostname
	}
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color,
		"summary":    title,
		"title":      title,
		"text":       m.Text,
	})
	return w.post(url, body)
}

func (w *Webhooks) sendHTTP(url string, m Message) error {
	body, _ := json.Marshal(m)
	return w.post(url, body)
}

func (w *Webhooks) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
