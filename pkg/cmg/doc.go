// Package cmg implements the Cluster Management Group component
// (C7): the state machine (Uninitialized/Initializing/Validated/
// Ready/Stopping), the init protocol (init_cluster, CmgInitMessage,
// InitCompleteMessage, CancelInitMessage), the leader-elected
// callback, and topology reconciliation, per spec §4.7.
package cmg
