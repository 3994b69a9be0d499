// Package config loads the console configuration from config.yaml.
//
// Sections:
//   - Server: http_port (REST, /metrics, /ws/stream), grpc_port (health), auth
//   - Sync: backend_url, interval (default 5s, floor 2s), timeout (5s),
//     console_scheme, backend auth and TLS options
//   - Alerts: history_size (default 200)
//   - Notifications: modal/minimize/recovery timings, webhooks, message templates
//   - Voice: TTS endpoint, locale, re-announce delay, clear margin, player
//   - Storage: SQLite path for the local key-value store
//   - WS, Log: broadcast interval, slog level
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) hot-reloads the file with fsnotify.
package config
