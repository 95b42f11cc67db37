// Package api implements the copperwatch REST API.
//
// New(engine, history, loop) returns an http.Handler that serves:
//
//	GET    /api/v1/health               engine and monitor status
//	GET    /api/v1/rules                all rules with last value and last fire time
//	POST   /api/v1/rules                create a rule; 201 with the stored rule
//	GET    /api/v1/rules/{id}           single rule; 404 if unknown
//	PUT    /api/v1/rules/{id}           replace a rule; body id must match the path
//	PATCH  /api/v1/rules/{id}           {"enabled": bool}
//	DELETE /api/v1/rules/{id}           remove a rule; 204
//	GET    /api/v1/rules/export         ?format=json|yaml
//	POST   /api/v1/rules/import         ?format=json|yaml; per-record errors reported
//	GET    /api/v1/templates            the stock rule set
//	GET    /api/v1/alerts               alert history, filtered and paged
//	POST   /api/v1/snapshots            evaluate a pushed snapshot; 503 without a monitor
//
// Errors are JSON objects of the form {"error": "..."}. Unknown request
// fields are rejected. Rule errors map to 400 (validation), 404 (unknown id)
// and 409 (duplicate id).
package api
