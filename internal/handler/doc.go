// Package handler implements the patchbay HTTP API.
//
// # Endpoints
//
//	GET    /api/graph             snapshot of modules, ports and connections
//	GET    /api/status            attachment, model size and queue counters
//	POST   /api/connections       request a subscription {source, destination}
//	DELETE /api/connections       request its removal
//	POST   /api/refresh           reconcile with a full enumeration
//	GET    /api/history           journaled deltas (?kind=&limit=&session=)
//	GET    /api/export/{format}   graph as a json or yaml patch document
//	POST   /api/import/{format}   connect everything a patch document names
//
// Connection requests answer 202 Accepted: the model changes only once the
// sequencer announces the new subscription, which SSE clients see as a
// delta on /events.
//
// Errors are returned as JSON with {error, details} and a status derived
// from the driver error: unknown ports 404, rejected requests 502, a
// detached driver 503.
package handler
