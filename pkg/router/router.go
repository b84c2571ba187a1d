package router

import (
	"context"
	"sync"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/types"
)

// AssignmentSource fetches the current cluster-wide partition
// assignment, the router's refresh path when a response sets
// partition_assignment_changed.
type AssignmentSource interface {
	FetchAssignment(ctx context.Context) (types.PartitionAssignment, error)
}

// partitionKey identifies one (table, partition) pair for the
// read-your-writes tracker.
type partitionKey struct {
	Table     string
	Partition uint16
}

// Router computes the preferred node for a request carrying one or
// more record keys, per spec §4.9: colocation-hash the first key (or
// reuse a transaction's already-pinned node), map to a partition,
// resolve the partition's current assignment.
type Router struct {
	source AssignmentSource

	mu         sync.RWMutex
	assignment types.PartitionAssignment
	pinned     map[string]string // txID -> nodeID
	watermarks map[partitionKey]hlc.Timestamp
}

// New creates a Router with an initial (possibly empty) assignment.
func New(source AssignmentSource, initial types.PartitionAssignment) *Router {
	return &Router{
		source:     source,
		assignment: initial,
		pinned:     make(map[string]string),
		watermarks: make(map[partitionKey]hlc.Timestamp),
	}
}

// Route resolves the preferred node for a request against tableID
// carrying key as its first record key, for partitionCount total
// partitions. If txID is non-empty and already pinned to a node from
// an earlier call in the same transaction, that node is reused instead
// of recomputing the hash, per spec §4.9 "the transaction's
// previously-pinned node".
func (r *Router) Route(tableID string, key *binrow.Row, txID string, partitionCount int) (nodeID string, partition uint16, err error) {
	_, partition = binrow.ComputeColocationHash(key, partitionCount)

	if txID != "" {
		r.mu.RLock()
		node, ok := r.pinned[txID]
		r.mu.RUnlock()
		if ok {
			return node, partition, nil
		}
	}

	r.mu.RLock()
	node, ok := r.assignment.NodeFor(tableID, partition)
	r.mu.RUnlock()
	if !ok {
		return "", partition, kverrors.New(kverrors.ReplicaUnavailable, "no assignment for partition")
	}

	if txID != "" {
		r.mu.Lock()
		r.pinned[txID] = node
		r.mu.Unlock()
	}
	return node, partition, nil
}

// ReleaseTransaction unpins txID's node on commit or abort.
func (r *Router) ReleaseTransaction(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pinned, txID)
}

// ObserveResponseFlag refreshes the assignment table when the server
// reports partition_assignment_changed on a response, per spec §4.9.
func (r *Router) ObserveResponseFlag(ctx context.Context, partitionAssignmentChanged bool) error {
	if !partitionAssignmentChanged || r.source == nil {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh replaces the local assignment table from the configured
// AssignmentSource.
func (r *Router) Refresh(ctx context.Context) error {
	fresh, err := r.source.FetchAssignment(ctx)
	if err != nil {
		return kverrors.Wrap(kverrors.Network, "refresh partition assignment", err)
	}
	r.mu.Lock()
	r.assignment = fresh
	r.mu.Unlock()
	return nil
}

// ObserveTimestamp records ts as the latest write/read timestamp
// observed for (table, partition), advancing its read-your-writes
// watermark. No-op if ts is not newer than the current watermark.
func (r *Router) ObserveTimestamp(table string, partition uint16, ts hlc.Timestamp) {
	key := partitionKey{Table: table, Partition: partition}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.watermarks[key]; !ok || cur.Less(ts) {
		r.watermarks[key] = ts
	}
}

// ReadFloor returns the minimum timestamp a subsequent read against
// (table, partition) must observe to satisfy read-your-writes: the
// caller's own last-seen write on that partition, or hlc.Zero if none.
func (r *Router) ReadFloor(table string, partition uint16) hlc.Timestamp {
	key := partitionKey{Table: table, Partition: partition}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watermarks[key]
}
