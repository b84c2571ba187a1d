// Package raftengine implements the Raft Replication Engine component
// (C5): one hashicorp/raft group per partition (or per CMG), with a
// priority-election and election-timeout-backoff control loop layered
// on top of hashicorp/raft's native pre-vote support, plus joint
// consensus helpers and snapshot byte-rate throttling, per spec §4.5.
package raftengine
