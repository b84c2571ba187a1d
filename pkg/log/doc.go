/*
Package log provides structured logging for the cluster core using
zerolog: JSON or console output, a package-level global Logger
initialized once via Init, and context-logger helpers for the fields
that show up across the replication and storage layers.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("node starting")

	partLog := log.WithPartition(tableID, partitionID)
	partLog.Info().Str("txn_id", txnID).Msg("commit applied")

	nodeLog := log.WithNodeID(nodeID)
	nodeLog.Warn().Msg("heartbeat missed")

Context loggers compose via zerolog's own With(), so callers can chain
WithComponent/WithNodeID/WithPartition/WithTxID as needed rather than
this package enumerating every combination.
*/
package log
