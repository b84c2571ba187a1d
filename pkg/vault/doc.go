// Package vault is a local bbolt-backed key/value store for a node's
// own bootstrap state: its CMG membership record, assigned node id,
// and other opaque records that must survive a restart without going
// through Raft. Grounded on the teacher's pkg/storage bbolt wiring,
// reduced to a single bucket of opaque byte records.
package vault
