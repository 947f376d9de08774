// Package api hosts the HTTP server, middleware, and handlers. Every route is
// served both at the root and under /api:
//   - POST /extract-images renders a listing and archives its photos.
//   - GET /download/{sessionId} streams a session archive.
//   - GET /health for liveness probes.
//
// GET /metrics exposes Prometheus collectors. When a static directory is
// configured its files are served for any other path.
package api
