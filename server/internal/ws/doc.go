// Package ws implements the live alert stream for UI clients.
//
// Hub manages a set of connected WebSocket clients. It implements
// alerts.Notifier: every event the engine fires is queued by Send and
// broadcast to all clients by the Run loop, which also emits a heartbeat on
// a fixed interval.
//
// New(interval, backlog) creates a Hub.
// Hub.Run(ctx) blocks until ctx is cancelled, then closes all connections;
// later Send calls fail with ErrHubStopped.
// Hub.ServeHTTP upgrades an HTTP connection, replays the most recent events,
// then streams live alerts.
//
// Message format sent to clients:
//
//	{"event": "backlog",   "data": [ /* events, oldest first */ ]}
//	{"event": "alert",     "data": { /* same schema as GET /api/v1/alerts items */ }}
//	{"event": "heartbeat", "data": {"time": "...", "clients": 2}}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
