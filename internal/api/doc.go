// Package api exposes the copilot over HTTP: a synchronous /chat endpoint,
// a health probe, and the asynchronous /api/v1/runs endpoints backed by the
// jobs service. When a metrics collector is supplied, every routed request is
// measured and /metrics serves the Prometheus exposition.
package api
