// Package api implements the HTTP REST API of the monitoring console.
//
// New(engine) returns an http.Handler that serves:
//
//	GET    /api/v1/hosts                                 host list ([]HostSummary)
//	GET    /api/v1/hosts/{id}                            host detail with service report; 404 if unknown
//	POST   /api/v1/hosts/{id}/focus                      poll faster while a host is open
//	DELETE /api/v1/hosts/{id}/focus                      back to the base interval
//	GET    /api/v1/alerts?state=&severity=               alert history, newest first
//	GET    /api/v1/notifications                         modal, banner and countdown state
//	POST   /api/v1/notifications/{kind}/dismiss          dismiss a modal; 409 if none shown
//	POST   /api/v1/notifications/failed-service/minimize collapse the failed-service modal
//	POST   /api/v1/notifications/failed-service/restore  reopen it from the banner
//	GET    /api/v1/status                                sync state, diagnostics, counters
//	POST   /api/v1/voice/unlock                          allow speech from now on
//	GET    /api/v1/settings/refresh-interval             current interval in seconds
//	PUT    /api/v1/settings/refresh-interval             set and persist the base interval
//
// Reads never block on the reconciliation loop: they are served from the
// last published engine.View. Commands are forwarded to the loop and answer
// once it has applied them.
//
// MetricsHandler exposes the same view in Prometheus text format.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
