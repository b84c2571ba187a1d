// Package router implements the Partition Router component (C9):
// colocation-hash-based partition selection, preferred-node lookup
// from a types.PartitionAssignment, assignment-table refresh on the
// partition_assignment_changed response flag, and read-your-writes HLC
// tracking per partition, per spec §4.9 and its SPEC_FULL supplement.
package router
