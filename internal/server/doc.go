// Package server provides the HTTP surface of the monitor.
//
// This package is internal to pulsewatch and handles all HTTP concerns:
//
//   - REST API: read-only JSON endpoints under "/api", plus a manual check
//   - Authentication: bearer tokens on every "/api" route
//   - Realtime: the WebSocket hub mounted at "/ws"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the pulsewatch library should not need to interact with this
// package directly. The server is started automatically by [pulsewatch.Monitor.Start].
package server
