// Package hlc implements the Hybrid Logical Clock (C1): a monotonic
// (physical, logical) timestamp source that merges remote observations
// without ever regressing. Grounded in the teacher's small, mutex
// guarded singleton style (pkg/log's package-global Logger) adapted to
// an instantiable type since every node owns exactly one clock.
package hlc
