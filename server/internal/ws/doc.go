// Package ws implements the WebSocket push channel of the monitoring console.
//
// New(source, interval) creates a Hub. Hub.Run(ctx) forwards every view the
// engine publishes to all connected clients and re-sends the current one on
// each interval tick so idle clients notice a dead server. It blocks until
// ctx is cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket and sends the
// current view immediately on connect.
//
// Message format sent to clients:
//
//	{
//	  "event": "view",
//	  "data":  { "hosts": [...], "alerts": [...], "notifications": {...}, ... }
//	}
//
// The WebSocket endpoint is mounted at /ws/stream by the server.
package ws
