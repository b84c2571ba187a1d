// Package replica implements the Replica Service & Dispatch component
// (C6): a single client-facing Invoke(node, request) operation with
// RPC timeouts, the ReplicationTimeout/ReplicaUnavailable/NodeStopping
// error taxonomy, and transparent HLC propagation from timestamped
// responses, per spec §4.6.
package replica
