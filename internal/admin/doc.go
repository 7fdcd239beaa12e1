// Package admin serves an HTTP status and control API for a running bridge.
//
// Routes:
//
//	GET    /healthz                  listener and worker summary
//	GET    /workers                  every live worker
//	GET    /workers/{id}             one worker
//	POST   /workers/{id}/events      emit {"event": "...", "data": [...]}
//	GET    /workers/{id}/stream      websocket of the worker's inbound events
//	DELETE /workers/{id}             kill with the bridge's signal and timeout
package admin
