// Package storage persists one partition's MVCC version chains and
// transaction-state table to disk with bbolt, so a restarted node can
// rebuild an in-memory mvcc.PartitionStorage without a full snapshot
// transfer. Grounded on the teacher's pkg/storage bbolt bucket
// conventions (one bucket per logical collection, JSON-encoded
// records keyed by a stable id), applied here to binary row versions
// instead of cluster domain objects.
package storage
