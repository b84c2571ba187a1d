// Package adminhttp exposes the node's REST management plane: cluster
// init/state/topology, configuration overlay get/patch, node
// state/version, metric source toggling, plus /metrics and /healthz.
// Grounded on the teacher's pkg/api/health.go net/http.ServeMux +
// promhttp.Handler() wiring; errors are reported as
// application/problem+json bodies instead of the teacher's plain-text
// http.Error, since this surface is consumed by thin CLI/API clients
// that expect a structured error shape.
package adminhttp
