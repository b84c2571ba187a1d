/*
Package types defines the core data structures shared across the
cluster core: the cluster-wide ClusterState the Cluster Management
Group replicates, the logical and physical topology it reconciles,
node descriptors, and the partition-to-node assignment table the
partition router consults.

# Core Types

Topology:
  - ClusterState: the CMG's replicated state — cluster name, the
    logical topology, and the partition assignment table.
  - LogicalTopology: the set of nodes the cluster considers members,
    independent of which nodes are physically reachable right now.
  - NodeDescriptor: one node's identity and CMG/Raft addressing.
  - PartitionAssignment: table -> partition -> owning node id.

# Thread Safety

Values in this package are plain data; callers synchronize access the
same way the storage layer synchronizes persisted state elsewhere in
this module.
*/
package types
