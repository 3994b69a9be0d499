// Package auth provides API key authentication for the console's listeners.
//
// APIKeyInterceptor and APIKeyStreamInterceptor guard the gRPC health
// listener; APIKeyMiddleware guards the REST API and the WebSocket stream.
// All three take the same (mode, header, key) triple from server.auth.
//
// When mode != "apikey" or key == "", everything passes through (useful for
// local development with auth disabled). A wrong or absent key is rejected
// with codes.Unauthenticated or HTTP 401.
package auth
