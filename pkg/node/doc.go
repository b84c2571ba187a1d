/*
Package node wires one physical tablemesh process together: the
Cluster Management Group, one raftengine.Group per hosted table
partition, the replica dispatch service and its wire-protocol
transport, the partition router, the admin HTTP surface, and the
background metrics collector. Nothing outside this package knows how
those pieces are assembled; pkg/node is the composition root cmd/
tablemeshd drives.
*/
package node
